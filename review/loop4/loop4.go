// Package loop4 implements Parallel Section Editing and the Loop 4.5
// cohesion gate, per spec.md §4.4.4/§4.4.5: the review is split into
// bounded sections, each edited concurrently with citation validation
// and word-count enforcement, reassembled, holistically reviewed, and
// finally checked for whether the structural loop needs to re-run.
package loop4

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/DaveCBeck/thala-sub002/citation"
	"github.com/DaveCBeck/thala-sub002/flow"
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/papertools"
	"github.com/DaveCBeck/thala-sub002/review"
	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"go.uber.org/zap"
)

// SectionEditFanOutBound is spec §5's authoritative Loop 4 section
// editing fan-out bound.
const SectionEditFanOutBound = 5

// MinIterations lower-bounds Loop 4's iteration budget so holistic
// review always has a chance to flag and re-edit at least once.
const MinIterations = 2

// HolisticCoherenceThreshold gates the tier-3 score-only holistic
// review fallback's approve/flag-all decision.
const HolisticCoherenceThreshold = 0.7

// PaperSummaryBudgetChars caps how much cited-paper-summary context an
// editor call is given.
const PaperSummaryBudgetChars = 30_000

// ToolBudget bounds a section editor's paper-tool usage.
var ToolBudget = llm.ToolBudget{MaxToolCalls: 10, MaxTotalChars: 100_000}

// Deps bundles the backends loop4.Run closes over.
type Deps struct {
	Completion   llm.Client
	PaperTools   papertools.Deps
	Bib          store.BibSystem
	VerifyZotero bool
	Logger       *zap.Logger
}

// SectionEdit is one section's editor output.
type SectionEdit struct {
	SectionID  string   `json:"-"`
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Notes      []string `json:"notes,omitempty"`
}

// HolisticReviewResult is the whole-document pass's structured output.
type HolisticReviewResult struct {
	SectionsApproved      []string          `json:"sections_approved"`
	SectionsFlagged       []string          `json:"sections_flagged"`
	FlaggedReasons        map[string]string `json:"flagged_reasons,omitempty"`
	OverallCoherenceScore float64           `json:"overall_coherence_score"`
}

// CohesionCheckResult is Loop 4.5's structured output.
type CohesionCheckResult struct {
	NeedsRestructuring bool   `json:"needs_restructuring"`
	Reasoning          string `json:"reasoning"`
}

// TodoResolution is the TODO-resolution pass's structured output.
type TodoResolution struct {
	Resolved    bool   `json:"resolved"`
	Replacement string `json:"replacement"`
	Reasoning   string `json:"reasoning"`
}

// Result is loop4.Run's outcome.
type Result struct {
	IterationsRun     int
	TerminationReason string
	FinalHolistic     HolisticReviewResult
}

var todoPattern = regexp.MustCompile(`<!-- TODO: (.*?) -->`)

// Run drives Loop 4 to termination: split, edit (first iteration: all
// sections; later iterations: only sections the holistic pass
// flagged), reassemble, review holistically, repeat until nothing is
// flagged or the iteration budget (lower-bounded at MinIterations) is
// spent.
func Run(ctx context.Context, deps Deps, shared review.Shared) (review.Shared, Result, error) {
	tracker := &review.FailureTracker{}
	maxIter := shared.Quality.MaxIterations()
	if maxIter < MinIterations {
		maxIter = MinIterations
	}
	reason := "iterations_exhausted"
	var holistic HolisticReviewResult
	var flaggedOnly map[string]bool
	iter := 0

loopBody:
	for iter = 1; iter <= maxIter; iter++ {
		sections := review.SplitSections(shared.CurrentReview)

		edited, err := editAllSections(ctx, deps, shared, sections, flaggedOnly)
		if err != nil {
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(4, iter, "edit_sections", err))
			if tracker.RecordFailure() {
				reason = "persistent_failure"
				break
			}
			continue
		}
		tracker.RecordSuccess()

		document := reassemble(sections, edited)
		document = resolveTodos(ctx, deps, document)
		document = citation.RemoveDuplicateHeaders(document)
		shared.CurrentReview = document

		sectionIDs := make([]string, len(sections))
		for i, s := range sections {
			sectionIDs[i] = s.ID
		}
		result, err := holisticReview(ctx, deps, document, sectionIDs)
		if err != nil {
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(4, iter, "holistic_review", err))
			if tracker.RecordFailure() {
				reason = "persistent_failure"
				break
			}
			continue
		}
		holistic = *result

		if len(holistic.SectionsFlagged) == 0 || iter == maxIter {
			reason = "no_sections_flagged"
			if len(holistic.SectionsFlagged) > 0 {
				reason = "iterations_exhausted"
			}
			break loopBody
		}
		flaggedOnly = make(map[string]bool, len(holistic.SectionsFlagged))
		for _, id := range holistic.SectionsFlagged {
			flaggedOnly[id] = true
		}
	}

	return shared, Result{IterationsRun: iter, TerminationReason: reason, FinalHolistic: holistic}, nil
}

// editAllSections edits every section in only (or all, when only is
// nil) concurrently under SectionEditFanOutBound, keyed by section id.
// A single section's failure does not cancel its siblings — it falls
// back to the section's original text, matching the "revert to
// original" behavior already applied to word-count policy failures.
func editAllSections(ctx context.Context, deps Deps, shared review.Shared, sections []review.Section, only map[string]bool) (map[string]SectionEdit, error) {
	type indexed struct {
		idx     int
		section review.Section
	}
	var targets []indexed
	for i, s := range sections {
		if only == nil || only[s.ID] {
			targets = append(targets, indexed{idx: i, section: s})
		}
	}

	results, errs := flow.FanOutTolerant(ctx, SectionEditFanOutBound, targets, func(ctx context.Context, t indexed) (SectionEdit, error) {
		return editSection(ctx, deps, shared, sections, t.idx)
	})

	edits := make(map[string]SectionEdit, len(sections))
	for _, s := range sections {
		if only != nil && !only[s.ID] {
			edits[s.ID] = SectionEdit{SectionID: s.ID, Text: s.Content, Confidence: 1.0}
		}
	}
	var firstErr error
	for i, t := range targets {
		if errs[i] != nil {
			edits[t.section.ID] = SectionEdit{SectionID: t.section.ID, Text: t.section.Content, Confidence: 1.0,
				Notes: []string{"Reverted to original: editor failed"}}
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		result := results[i]
		result.SectionID = t.section.ID
		edits[t.section.ID] = result
	}
	if firstErr != nil && len(edits) == 0 {
		return nil, firstErr
	}
	return edits, nil
}

func editSection(ctx context.Context, deps Deps, shared review.Shared, sections []review.Section, idx int) (SectionEdit, error) {
	section := sections[idx]

	var window strings.Builder
	if idx > 0 {
		fmt.Fprintf(&window, "Preceding section (context only, do not edit):\n%s\n\n", sections[idx-1].Content)
	}
	if idx < len(sections)-1 {
		fmt.Fprintf(&window, "Following section (context only, do not edit):\n%s\n\n", sections[idx+1].Content)
	}

	summaries := citedSummaries(section.Content, shared.PaperSummaries, PaperSummaryBudgetChars)

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Edit this %s section of a research review for quality, citing sources as [@KEY] where supported.\n\n", section.Type)
	prompt.WriteString(window.String())
	if summaries != "" {
		fmt.Fprintf(&prompt, "Summaries of papers cited in this section:\n%s\n\n", summaries)
	}
	fmt.Fprintf(&prompt, "Section to edit:\n%s\n\n", section.Content)
	prompt.WriteString("Use the bound paper tools if you need to verify or find a citation. Return the edited text, " +
		"a confidence in [0,1], and any notes.")

	toolDefs, handlers := papertools.ToolBindings(deps.PaperTools)
	var edit SectionEdit
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt.String()}}
	err := llm.RunToolAgent(ctx, deps.Completion, llm.TierSonnet, llm.DocumentAnalysisSystem, messages, handlers, toolDefs, &edit, ToolBudget)
	if err != nil {
		return SectionEdit{}, err
	}

	corpusKeys := map[string]bool{}
	for key := range shared.PaperSummaries {
		corpusKeys[key] = true
	}
	edit.Text, edit.Notes, edit.Confidence = validateEditCitations(ctx, deps, edit.Text, edit.Notes, edit.Confidence, corpusKeys)

	edit, err = enforceWordCountPolicy(ctx, deps, section, edit, func(ctx context.Context) (SectionEdit, error) {
		return retryEdit(ctx, deps, section, edit)
	})
	if err != nil {
		return SectionEdit{}, err
	}
	return edit, nil
}

func retryEdit(ctx context.Context, deps Deps, section review.Section, previous SectionEdit) (SectionEdit, error) {
	prompt := fmt.Sprintf("Your previous edit of this %s section violated the required word-count policy. Rewrite it "+
		"to the appropriate length while keeping its content and citations.\n\nPrevious edit:\n%s\n\nOriginal:\n%s",
		section.Type, previous.Text, section.Content)

	var edit SectionEdit
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierSonnet, llm.DocumentAnalysisSystem, prompt, &edit, llm.StructuredOptions{})
	if err != nil {
		return SectionEdit{}, err
	}
	return edit, nil
}

// citedSummaries concatenates shared.PaperSummaries entries for every
// [@KEY] cited in section, in citation order, stopping once budget
// chars would be exceeded.
func citedSummaries(section string, summaries map[string]string, budget int) string {
	var b strings.Builder
	for _, key := range citation.ExtractKeys(section) {
		summary, ok := summaries[key]
		if !ok {
			continue
		}
		entry := fmt.Sprintf("[@%s]: %s\n", key, summary)
		if b.Len()+len(entry) > budget {
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

// validateEditCitations strips citations that resolve to neither the
// corpus nor (when VerifyZotero) the bibliographic system, replacing
// each with a TODO marker and penalizing confidence, per spec.md
// §4.4.4's "validate edit citations" contract and scenario S4.
func validateEditCitations(ctx context.Context, deps Deps, text string, notes []string, confidence float64, corpusKeys map[string]bool) (string, []string, float64) {
	keys := citation.ExtractKeys(text)
	if len(keys) == 0 {
		return text, notes, confidence
	}

	var invalid []string
	if deps.VerifyZotero && deps.Bib != nil {
		_, invalid = citation.Classify(ctx, deps.Bib, keys, corpusKeys)
	} else {
		for _, key := range keys {
			if !corpusKeys[key] {
				invalid = append(invalid, key)
			}
		}
	}
	if len(invalid) == 0 {
		return text, notes, confidence
	}

	for _, key := range invalid {
		marker := fmt.Sprintf("[@%s]", key)
		todo := fmt.Sprintf("<!-- TODO: unverified citation %s -->", marker)
		text = strings.ReplaceAll(text, marker, todo)
	}
	return text, append(notes, "Stripped unverified citations"), confidence * 0.9
}

func reassemble(sections []review.Section, edits map[string]SectionEdit) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		edit, ok := edits[s.ID]
		if !ok {
			parts[i] = s.Content
			continue
		}
		parts[i] = edit.Text
	}
	return strings.Join(parts, "\n\n")
}

// resolveTodos gives each remaining TODO marker to a paper-search and
// web-fact-check-equipped agent; unresolved markers are deleted with a
// WARN log, per spec.md §4.4.4.
func resolveTodos(ctx context.Context, deps Deps, document string) string {
	matches := todoPattern.FindAllStringSubmatchIndex(document, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		fullMatch := document[m[0]:m[1]]
		body := document[m[2]:m[3]]

		resolution, err := resolveTodo(ctx, deps, body)
		if err != nil || !resolution.Resolved {
			if deps.Logger != nil {
				deps.Logger.Warn("unresolved TODO deleted", zap.String("todo", body))
			}
			document = document[:m[0]] + document[m[1]:]
			continue
		}
		document = document[:m[0]] + resolution.Replacement + document[m[1]:]
	}
	return document
}

func resolveTodo(ctx context.Context, deps Deps, todoText string) (*TodoResolution, error) {
	toolDefs := []llm.ToolDef{papertools.SearchPapersToolDef(), papertools.WebFactCheckToolDef()}
	handlers := map[string]llm.ToolHandler{
		"search_papers":  papertools.SearchPapersHandler(deps.PaperTools),
		"web_fact_check": papertools.WebFactCheckHandler(deps.PaperTools),
	}

	var resolution TodoResolution
	messages := []llm.Message{{Role: llm.RoleUser, Content: "Resolve this TODO using the bound tools if helpful, or " +
		"report it cannot be resolved:\n\n" + todoText}}
	err := llm.RunToolAgent(ctx, deps.Completion, llm.TierSonnet, llm.DocumentAnalysisSystem, messages, handlers, toolDefs, &resolution, ToolBudget)
	if err != nil {
		return nil, err
	}
	return &resolution, nil
}

// holisticReview attempts the full structured pass twice before
// falling back to a tier-3 score-only call that approves or flags
// every section by threshold, per spec.md §4.4.4's "3-tier retry".
func holisticReview(ctx context.Context, deps Deps, document string, sectionIDs []string) (*HolisticReviewResult, error) {
	prompt := fmt.Sprintf("Holistically review this assembled document for coherence across its sections. Return "+
		"sections_approved, sections_flagged, flagged_reasons, and overall_coherence_score.\n\n%s", document)

	var result HolisticReviewResult
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = llm.GetStructuredOutput(ctx, deps.Completion, llm.TierOpus, llm.DocumentAnalysisSystem, prompt, &result, llm.StructuredOptions{})
		if err == nil {
			return &result, nil
		}
	}

	var scoreOnly struct {
		CoherenceScore float64 `json:"coherence_score"`
	}
	fallbackPrompt := fmt.Sprintf("Give this document a single overall_coherence_score in [0,1].\n\n%s", document)
	if err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierOpus, llm.DocumentAnalysisSystem, fallbackPrompt, &scoreOnly, llm.StructuredOptions{}); err != nil {
		return nil, fmt.Errorf("loop4: holistic review: %w", err)
	}

	fallback := HolisticReviewResult{OverallCoherenceScore: scoreOnly.CoherenceScore}
	if scoreOnly.CoherenceScore < HolisticCoherenceThreshold {
		fallback.SectionsFlagged = sectionIDs
	} else {
		fallback.SectionsApproved = sectionIDs
	}
	return &fallback, nil
}

// CheckCohesion is Loop 4.5: a single OPUS call deciding whether the
// orchestrator should route back to Loop 3.
func CheckCohesion(ctx context.Context, deps Deps, document string) (*CohesionCheckResult, error) {
	prompt := "Assess whether this review's overall structure needs another pass through structural rewriting. " +
		"Return needs_restructuring and reasoning.\n\n" + document

	var result CohesionCheckResult
	err := llm.GetStructuredOutput(ctx, deps.Completion, llm.TierOpus, llm.DocumentAnalysisSystem, prompt, &result, llm.StructuredOptions{})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
