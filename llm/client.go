package llm

import (
	"context"
	"fmt"

	"github.com/DaveCBeck/thala-sub002/httpx"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"
)

// Role is a chat message role, shared across both wire providers.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a completion request, provider-agnostic.
type Message struct {
	Role       Role
	Content    string
	ToolCallID string     // set on RoleTool messages: which ToolCall this answers
	ToolCalls  []ToolCall // set on RoleAssistant messages that invoke tools
}

// ToolCall is a single tool invocation the model asked for.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolDef is a tool bound into a completion request.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]any // JSON schema for the tool's arguments
}

// CompletionRequest is the provider-agnostic shape every tier
// implementation accepts.
type CompletionRequest struct {
	Tier              Tier
	System            string
	CacheSystemPrompt bool // set for a stable, reused prefix like DocumentAnalysisSystem
	Messages          []Message
	Tools             []ToolDef
	MaxTokens         int
	ThinkingBudget    int // non-zero enables extended thinking where supported
}

// CompletionResponse is the provider-agnostic shape every tier
// implementation returns.
type CompletionResponse struct {
	Text         string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Client is the completion gateway: one Complete call, dispatched to
// Anthropic or a DeepSeek-compatible OpenAI client depending on tier.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// GatewayClient routes HAIKU/SONNET/SONNET_1M/OPUS to Anthropic and
// DEEPSEEK_V3 to an OpenAI-compatible endpoint, matching spec.md §4.2's
// tier table.
type GatewayClient struct {
	anthropic anthropic.Client
	deepseek  openai.Client
}

// NewGatewayClient builds both provider clients. deepseekBaseURL is the
// OpenAI-compatible endpoint DEEPSEEK_V3 is routed through.
func NewGatewayClient(anthropicAPIKey, deepseekAPIKey, deepseekBaseURL string) *GatewayClient {
	return &GatewayClient{
		anthropic: anthropic.NewClient(anthropicoption.WithAPIKey(anthropicAPIKey)),
		deepseek: openai.NewClient(
			openaioption.WithAPIKey(deepseekAPIKey),
			openaioption.WithBaseURL(deepseekBaseURL),
		),
	}
}

func (g *GatewayClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if req.Tier == TierDeepseekV3 {
		return g.completeDeepseek(ctx, req)
	}
	return g.completeAnthropic(ctx, req)
}

func (g *GatewayClient) completeAnthropic(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Tier.ModelID()),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		if req.CacheSystemPrompt {
			params.System = cachedSystemBlocks(req.System)
		} else {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}
	}
	if req.Tier == TierSonnet1M {
		params.Model = anthropic.Model(req.Tier.ModelID())
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	if req.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}

	var resp *anthropic.Message
	err := httpx.RetryIdempotent(ctx, func() error {
		var callErr error
		resp, callErr = g.anthropic.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, &xerrors.BackendUnavailableError{Backend: fmt.Sprintf("anthropic(%s)", req.Tier), Err: err}
	}

	return fromAnthropicMessage(resp), nil
}

func (g *GatewayClient) completeDeepseek(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    req.Tier.ModelID(),
		Messages: toOpenAIMessages(req),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}

	var resp *openai.ChatCompletion
	err := httpx.RetryIdempotent(ctx, func() error {
		var callErr error
		resp, callErr = g.deepseek.Chat.Completions.New(ctx, params)
		return classifyOpenAIError(callErr)
	})
	if err != nil {
		return nil, &xerrors.BackendUnavailableError{Backend: "deepseek", Err: err}
	}

	return fromOpenAICompletion(resp), nil
}

func maxTokensOrDefault(n int) int {
	if n > 0 {
		return n
	}
	return 8192
}
