package papertools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DaveCBeck/thala-sub002/llm"
)

// SearchPapersToolDef describes search_papers for binding into a
// llm.RunToolAgent call.
func SearchPapersToolDef() llm.ToolDef {
	return llm.ToolDef{
		Name:        "search_papers",
		Description: "Hybrid semantic+keyword search over the paper corpus. Returns up to limit results ranked by fused relevance.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query"},
				"limit": map[string]any{"type": "integer", "description": "Max results, capped at 20", "default": DefaultSearchLimit},
			},
			"required": []string{"query"},
		},
	}
}

type searchPapersArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SearchPapersHandler adapts SearchPapers into a llm.ToolHandler.
func SearchPapersHandler(deps Deps) llm.ToolHandler {
	return func(ctx context.Context, arguments string) (string, error) {
		var args searchPapersArgs
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("papertools: search_papers: bad arguments: %w", err)
		}
		results, err := SearchPapers(ctx, deps, args.Query, args.Limit)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(results)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// GetPaperContentToolDef describes get_paper_content for binding into a
// llm.RunToolAgent call.
func GetPaperContentToolDef() llm.ToolDef {
	return llm.ToolDef{
		Name:        "get_paper_content",
		Description: "Fetch a paper's content by bib key or DOI, preferring its condensed form. Truncated to max_chars.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"identifier": map[string]any{"type": "string", "description": "bib_key or DOI"},
				"max_chars":  map[string]any{"type": "integer", "description": "Max characters, capped at 20000", "default": DefaultMaxChars},
			},
			"required": []string{"identifier"},
		},
	}
}

type getPaperContentArgs struct {
	Identifier string `json:"identifier"`
	MaxChars   int    `json:"max_chars"`
}

// GetPaperContentHandler adapts GetPaperContent into a llm.ToolHandler.
func GetPaperContentHandler(deps Deps) llm.ToolHandler {
	return func(ctx context.Context, arguments string) (string, error) {
		var args getPaperContentArgs
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("papertools: get_paper_content: bad arguments: %w", err)
		}
		result, err := GetPaperContent(ctx, deps, args.Identifier, args.MaxChars)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(result)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// WebFactCheckToolDef describes the web fact-check/search tool bound
// alongside the two paper tools, per spec.md §4.4.6/§4.4.1's "paper
// tools + web fact-check" agent bindings.
func WebFactCheckToolDef() llm.ToolDef {
	return llm.ToolDef{
		Name:        "web_fact_check",
		Description: "Search the web to verify a factual claim or find a citable source.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string", "description": "Claim or search query"},
				"max_results": map[string]any{"type": "integer", "default": 5},
			},
			"required": []string{"query"},
		},
	}
}

type webFactCheckArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// WebFactCheckHandler adapts FactCheckClient.Search into a
// llm.ToolHandler.
func WebFactCheckHandler(deps Deps) llm.ToolHandler {
	return func(ctx context.Context, arguments string) (string, error) {
		var args webFactCheckArgs
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("papertools: web_fact_check: bad arguments: %w", err)
		}
		if args.MaxResults <= 0 {
			args.MaxResults = 5
		}
		if deps.FactCheck == nil {
			return "", fmt.Errorf("papertools: web_fact_check: no fact-check client configured")
		}
		results, err := deps.FactCheck.Search(ctx, args.Query, args.MaxResults, nil)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(results)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// ToolBindings returns the three tool defs and handlers together,
// keyed by name, ready to splice into a llm.RunToolAgent call. review's
// loop packages use this rather than wiring each tool individually.
func ToolBindings(deps Deps) ([]llm.ToolDef, map[string]llm.ToolHandler) {
	defs := []llm.ToolDef{SearchPapersToolDef(), GetPaperContentToolDef(), WebFactCheckToolDef()}
	handlers := map[string]llm.ToolHandler{
		"search_papers":     SearchPapersHandler(deps),
		"get_paper_content": GetPaperContentHandler(deps),
		"web_fact_check":    WebFactCheckHandler(deps),
	}
	return defs, handlers
}
