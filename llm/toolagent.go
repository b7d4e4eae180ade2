package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DaveCBeck/thala-sub002/xerrors"
)

// MaxMessageHistory bounds how many messages the tool-agent loop keeps,
// the system and first-user anchor included, per spec.md §4.2 point 4's
// history-pruning rule.
const MaxMessageHistory = 40

// ToolBudget is the two-dimensional per-run cap on tool dispatch:
// spec.md §4.2's {max_tool_calls, max_total_chars}.
type ToolBudget struct {
	MaxToolCalls  int
	MaxTotalChars int
}

// ToolHandler executes one bound tool call and returns its result text.
type ToolHandler func(ctx context.Context, arguments string) (string, error)

// RunToolAgent drives the tool-using loop described in spec.md §4.2
// point 4: the model may call any bound tool, or the sentinel
// submit_result tool to terminate with a schema-validated answer.
func RunToolAgent(ctx context.Context, client Client, tier Tier, system string, messages []Message, tools map[string]ToolHandler, toolDefs []ToolDef, target any, budget ToolBudget) error {
	history := append([]Message(nil), messages...)
	toolCalls, totalChars := 0, 0

	for {
		if err := preflightOrForceSubmit(&history, tier); err != nil {
			return err
		}
		history = pruneHistory(history)

		exhausted := toolCalls >= budget.MaxToolCalls || totalChars >= budget.MaxTotalChars
		if exhausted {
			history = append(history, Message{
				Role:    RoleUser,
				Content: "Tool budget exhausted. You must call submit_result now with your best answer.",
			})
		}

		resp, err := client.Complete(ctx, CompletionRequest{
			Tier:              tier,
			System:            system,
			Messages:          history,
			Tools:             append(append([]ToolDef(nil), toolDefs...), submitResultToolDef(target)),
			CacheSystemPrompt: system == DocumentAnalysisSystem,
		})
		if err != nil {
			return err
		}

		submitted, submitErr := extractSubmit(resp, target)
		if submitted {
			return submitErr
		}
		if exhausted {
			return fallbackStructured(ctx, client, tier, system, history, target)
		}

		if len(resp.ToolCalls) == 0 {
			history = append(history, Message{Role: RoleAssistant, Content: resp.Text})
			history = append(history, Message{
				Role:    RoleUser,
				Content: "Call a bound tool or submit_result to finish.",
			})
			continue
		}

		assistantMsg := Message{Role: RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls}
		history = append(history, assistantMsg)

		for _, tc := range resp.ToolCalls {
			handler, ok := tools[tc.Name]
			if !ok {
				history = append(history, Message{Role: RoleTool, ToolCallID: tc.ID, Content: "unknown tool: " + tc.Name})
				continue
			}
			result, err := handler(ctx, tc.Arguments)
			if err != nil {
				result = "error: " + err.Error()
			}
			toolCalls++
			totalChars += len(result)
			history = append(history, Message{Role: RoleTool, ToolCallID: tc.ID, Content: result})
		}
	}
}

func submitResultToolDef(target any) ToolDef {
	return ToolDef{Name: submitResultTool, Description: "Submit the final result and end the run.", Schema: schemaOf(target)}
}

func schemaOf(target any) map[string]any {
	raw, err := json.Marshal(target)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return map[string]any{"type": "object", "properties": m}
}

func extractSubmit(resp *CompletionResponse, target any) (bool, error) {
	for _, tc := range resp.ToolCalls {
		if tc.Name == submitResultTool {
			return true, json.Unmarshal([]byte(tc.Arguments), target)
		}
	}
	return false, nil
}

// preflightOrForceSubmit estimates the running history's token count
// and, once it crosses 90% of the tier's safe limit, appends a message
// forcing an immediate submit_result on the next turn.
func preflightOrForceSubmit(history *[]Message, tier Tier) error {
	estimated, err := EstimateMessageTokens(*history)
	if err != nil {
		return fmt.Errorf("llm: preflight estimate: %w", err)
	}
	if estimated > tier.SafeLimit()*9/10 {
		*history = append(*history, Message{
			Role:    RoleUser,
			Content: "Context budget nearly exhausted. Call submit_result now with your best answer.",
		})
	}
	return nil
}

// pruneHistory keeps the system message (if any) and the first user
// message, then drops oldest whole tool exchanges (one assistant-with-
// tool-calls message plus its tool-result messages) until the remainder
// fits under MaxMessageHistory. Exchanges are never split.
func pruneHistory(history []Message) []Message {
	if len(history) <= MaxMessageHistory {
		return history
	}

	anchorLen := 0
	if len(history) > 0 && history[0].Role == RoleSystem {
		anchorLen++
	}
	if len(history) > anchorLen && history[anchorLen].Role == RoleUser {
		anchorLen++
	}
	anchor := append([]Message(nil), history[:anchorLen]...)
	rest := history[anchorLen:]

	exchanges := groupExchanges(rest)
	for len(anchor)+exchangesLen(exchanges) > MaxMessageHistory && len(exchanges) > 0 {
		exchanges = exchanges[1:]
	}

	out := append([]Message(nil), anchor...)
	for _, ex := range exchanges {
		out = append(out, ex...)
	}
	return out
}

func groupExchanges(messages []Message) [][]Message {
	var exchanges [][]Message
	for i := 0; i < len(messages); {
		if messages[i].Role == RoleAssistant && len(messages[i].ToolCalls) > 0 {
			exchange := []Message{messages[i]}
			j := i + 1
			for j < len(messages) && messages[j].Role == RoleTool {
				exchange = append(exchange, messages[j])
				j++
			}
			exchanges = append(exchanges, exchange)
			i = j
			continue
		}
		exchanges = append(exchanges, []Message{messages[i]})
		i++
	}
	return exchanges
}

func exchangesLen(exchanges [][]Message) int {
	n := 0
	for _, ex := range exchanges {
		n += len(ex)
	}
	return n
}

// fallbackStructured is the terminal path spec.md §4.2 point 4
// describes: when the loop cannot reach a valid submit_result, fall
// back to one direct structured-output call on the current message
// list, retried up to 2 times, then a typed failure.
func fallbackStructured(ctx context.Context, client Client, tier Tier, system string, history []Message, target any) error {
	prompt := renderHistoryAsPrompt(history)
	err := GetStructuredOutput(ctx, client, tier, system, prompt, target, StructuredOptions{MaxRetries: 2})
	if err != nil {
		var failure *xerrors.StructuredOutputFailureError
		if ok := asStructuredFailure(err, &failure); ok {
			return failure
		}
		return &xerrors.StructuredOutputFailureError{Schema: schemaTypeName(target), Attempt: 3, Err: err}
	}
	return nil
}

func asStructuredFailure(err error, target **xerrors.StructuredOutputFailureError) bool {
	f, ok := err.(*xerrors.StructuredOutputFailureError)
	if ok {
		*target = f
	}
	return ok
}

func renderHistoryAsPrompt(history []Message) string {
	var out string
	for _, m := range history {
		out += fmt.Sprintf("[%s] %s\n", m.Role, m.Content)
	}
	return out
}
