// Package loop5 implements the Fact & Reference Check pass, per
// spec.md §4.4.6: a sequential fact pass and reference pass per
// section, citation-key repair against the bibliographic system, and a
// TODO-marker verification/finalize step.
package loop5

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/DaveCBeck/thala-sub002/citation"
	"github.com/DaveCBeck/thala-sub002/llm"
	"github.com/DaveCBeck/thala-sub002/papertools"
	"github.com/DaveCBeck/thala-sub002/review"
	"github.com/DaveCBeck/thala-sub002/store"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"go.uber.org/zap"
)

// ToolBudget bounds the fact/reference pass and citation-repair
// agents' paper-tool usage.
var ToolBudget = llm.ToolBudget{MaxToolCalls: 10, MaxTotalChars: 100_000}

// DocumentEdits is the fact/reference pass's structured output.
type DocumentEdits struct {
	Edits           []citation.Edit `json:"edits"`
	AmbiguousClaims []string        `json:"ambiguous_claims,omitempty"`
}

// CitationFixDecision is the per-invalid-key repair agent's structured
// output: substitute a verified key, remove the citation, or rewrite
// the claim to drop it.
type CitationFixDecision struct {
	Action  string `json:"action"` // substitute | remove | rewrite
	NewKey  string `json:"new_key,omitempty"`
	NewText string `json:"new_text,omitempty"`
}

// TodoVerdict is the OPUS-batch TODO-verification pass's structured
// output: whether a remaining marker names a genuine corpus gap or
// methodological placeholder (discard) versus something else (keep for
// human review).
type TodoVerdict struct {
	GenuineGap bool   `json:"genuine_gap"`
	Reasoning  string `json:"reasoning"`
}

// Deps bundles the backends loop5.Run closes over.
type Deps struct {
	Completion llm.Client
	PaperTools papertools.Deps
	Bib        store.BibSystem
	Logger     *zap.Logger
}

// Result is loop5.Run's outcome.
type Result struct {
	HumanReviewItems  []string
	TerminationReason string
}

var todoPattern = regexp.MustCompile(`<!-- TODO: (.*?) -->`)

// Run drives the single-pass fact/reference check to completion: every
// section gets a sequential fact pass then reference pass, after which
// citation keys are repaired against the bibliographic system and
// TODO markers are verified and finalized.
func Run(ctx context.Context, deps Deps, shared review.Shared) (review.Shared, Result, error) {
	document := shared.CurrentReview
	sections := review.SplitSections(document)

	for i, section := range sections {
		edits, err := factPass(ctx, deps, document, section)
		if err != nil {
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(5, i+1, "fact_pass", err))
		} else {
			document = applyValidEdits(document, edits.Edits)
		}

		refEdits, err := referencePass(ctx, deps, document, section)
		if err != nil {
			shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(5, i+1, "reference_pass", err))
		} else {
			document = applyValidEdits(document, refEdits.Edits)
		}
	}

	document, err := repairCitations(ctx, deps, document, shared.ZoteroKeys)
	if err != nil {
		shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(5, 0, "repair_citations", err))
	}

	document, humanReview, err := VerifyTodos(ctx, deps, document)
	if err != nil {
		shared.Errors = append(shared.Errors, xerrors.NewLoopFailure(5, 0, "verify_todos", err))
	}
	document = Finalize(document, deps.Logger)

	shared.CurrentReview = document
	return shared, Result{HumanReviewItems: humanReview, TerminationReason: "completed"}, nil
}

func factPass(ctx context.Context, deps Deps, document string, section review.Section) (*DocumentEdits, error) {
	prompt := fmt.Sprintf("Fact-check this section against the bound paper tools and web fact-check. Propose edits as "+
		"{find, replace, edit_type} where find occurs exactly once in the full document below, edit_type one of "+
		"fact_correction, citation_fix, clarity. List any ambiguous claims separately.\n\nSection:\n%s\n\nFull document:\n%s",
		section.Content, document)
	return runEditPass(ctx, deps, prompt)
}

func referencePass(ctx context.Context, deps Deps, document string, section review.Section) (*DocumentEdits, error) {
	prompt := fmt.Sprintf("Check the citation keys present in this section against the bound paper tools. Propose edits "+
		"as {find, replace, edit_type} where find occurs exactly once in the full document below, edit_type one of "+
		"fact_correction, citation_fix, clarity. List any ambiguous claims separately.\n\nSection:\n%s\n\nFull document:\n%s",
		section.Content, document)
	return runEditPass(ctx, deps, prompt)
}

func runEditPass(ctx context.Context, deps Deps, prompt string) (*DocumentEdits, error) {
	tier := llm.SelectTier(estimateTokens(prompt))
	toolDefs, handlers := papertools.ToolBindings(deps.PaperTools)

	var edits DocumentEdits
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	err := llm.RunToolAgent(ctx, deps.Completion, tier, llm.DocumentAnalysisSystem, messages, handlers, toolDefs, &edits, ToolBudget)
	if err != nil {
		return nil, err
	}
	return &edits, nil
}

func estimateTokens(text string) int {
	tokens, err := llm.EstimateTokens(text)
	if err != nil {
		return len(text) / 4
	}
	return tokens
}

// applyValidEdits validates edits' find-string-exactly-once contract
// and applies only the valid ones, per spec.md §4.4.6's edit
// validation rule.
func applyValidEdits(document string, edits []citation.Edit) string {
	if len(edits) == 0 {
		return document
	}
	validation := citation.ValidateEdits(document, edits)
	return citation.ApplyEdits(document, validation.Valid)
}

// repairCitations extracts every [@KEY] in document, verifies unknown
// keys against the bibliographic system, and for each invalid key asks
// a SONNET agent with paper-search tools to substitute a verified key,
// remove the citation, or rewrite the claim; any key still invalid
// afterward is stripped.
func repairCitations(ctx context.Context, deps Deps, document string, corpusKeys map[string]bool) (string, error) {
	keys := citation.ExtractKeys(document)
	_, invalid := citation.Classify(ctx, deps.Bib, keys, corpusKeys)
	if len(invalid) == 0 {
		return document, nil
	}

	for _, key := range invalid {
		marker := fmt.Sprintf("[@%s]", key)
		decision, err := proposeCitationFix(ctx, deps, document, key)
		if err != nil {
			document = strings.ReplaceAll(document, marker, "")
			continue
		}

		switch decision.Action {
		case "substitute":
			if decision.NewKey == "" {
				document = strings.ReplaceAll(document, marker, "")
				continue
			}
			valid, _ := citation.Classify(ctx, deps.Bib, []string{decision.NewKey}, corpusKeys)
			if len(valid) == 1 {
				document = strings.ReplaceAll(document, marker, fmt.Sprintf("[@%s]", decision.NewKey))
			} else {
				document = strings.ReplaceAll(document, marker, "")
			}
		case "rewrite":
			if decision.NewText != "" {
				document = strings.ReplaceAll(document, marker, decision.NewText)
			} else {
				document = strings.ReplaceAll(document, marker, "")
			}
		default: // remove, or an unrecognized action
			document = strings.ReplaceAll(document, marker, "")
		}
	}

	// A repair may have introduced a still-invalid key (e.g. a bad
	// substitution); strip anything left over after the repair pass.
	remaining := citation.ExtractKeys(document)
	_, stillInvalid := citation.Classify(ctx, deps.Bib, remaining, corpusKeys)
	for _, key := range stillInvalid {
		document = strings.ReplaceAll(document, fmt.Sprintf("[@%s]", key), "")
	}
	return document, nil
}

func proposeCitationFix(ctx context.Context, deps Deps, document, key string) (*CitationFixDecision, error) {
	toolDefs := []llm.ToolDef{papertools.SearchPapersToolDef(), papertools.GetPaperContentToolDef()}
	handlers := map[string]llm.ToolHandler{
		"search_papers":     papertools.SearchPapersHandler(deps.PaperTools),
		"get_paper_content": papertools.GetPaperContentHandler(deps.PaperTools),
	}

	prompt := fmt.Sprintf("The citation key %q in this document does not resolve against the corpus or bibliographic "+
		"system. Using the bound paper tools, either substitute a verified key, remove the citation, or rewrite the "+
		"claim to drop it. Document:\n\n%s", key, document)

	var decision CitationFixDecision
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	err := llm.RunToolAgent(ctx, deps.Completion, llm.TierSonnet, llm.DocumentAnalysisSystem, messages, handlers, toolDefs, &decision, ToolBudget)
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

// VerifyTodos batches every remaining TODO marker to an OPUS judgment
// of whether it names a genuine corpus-gap or methodological
// placeholder (discarded immediately) or something else (left in place
// and returned as a human-review item). Split out from Run so it is
// independently testable, matching loop4.Run/CheckCohesion's split.
func VerifyTodos(ctx context.Context, deps Deps, document string) (string, []string, error) {
	matches := todoPattern.FindAllStringSubmatchIndex(document, -1)
	if len(matches) == 0 {
		return document, nil, nil
	}

	requests := make([]llm.StructuredRequest, len(matches))
	for i, m := range matches {
		body := document[m[2]:m[3]]
		requests[i] = llm.StructuredRequest{
			ID: fmt.Sprintf("todo-%d", i),
			Prompt: "Does this TODO marker name a genuine corpus gap or methodological placeholder? Return " +
				"genuine_gap and reasoning.\n\n" + body,
		}
	}
	results := llm.GetStructuredOutputBatch(ctx, deps.Completion, llm.TierOpus, llm.DocumentAnalysisSystem, requests,
		func() any { return &TodoVerdict{} }, true, llm.StructuredOptions{})

	var humanReview []string
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		body := document[m[2]:m[3]]

		genuine := false
		if results[i].Err == nil {
			var verdict TodoVerdict
			if err := json.Unmarshal(results[i].Value, &verdict); err == nil {
				genuine = verdict.GenuineGap
			}
		}

		if genuine {
			document = document[:m[0]] + document[m[1]:]
			continue
		}
		humanReview = append([]string{body}, humanReview...)
	}
	return document, humanReview, nil
}

// Finalize strips any TODO markers still present after VerifyTodos,
// logging a WARN per removal, per spec.md §4.4.6's "At finalize, any
// surviving TODO markers are stripped with a WARN log."
func Finalize(document string, logger *zap.Logger) string {
	matches := todoPattern.FindAllStringSubmatchIndex(document, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		if logger != nil {
			logger.Warn("surviving TODO marker stripped at finalize", zap.String("todo", document[m[2]:m[3]]))
		}
		document = document[:m[0]] + document[m[1]:]
	}
	return document
}
