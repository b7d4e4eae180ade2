// Package llm is the embedding and completion gateway (C3): provider
// enums for embeddings, a tiered completion selection policy, a
// structured-output contract, and a tool-using agent loop. Grounded on
// Tangerg-lynx's model/provider split (ai/model/embedding,
// ai/providers/models/openai) generalized to the two providers spec.md
// §4.2 names, and on the concrete SDKs in the teacher's own go.mod files
// (github.com/openai/openai-go/v3, github.com/anthropics/anthropic-sdk-go).
package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/DaveCBeck/thala-sub002/httpx"
	"github.com/DaveCBeck/thala-sub002/xerrors"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// EmbeddingProvider enumerates the two embedding backends spec.md §4.2
// names: an OpenAI-compatible HTTP API, or a local Ollama-compatible one.
type EmbeddingProvider string

const (
	ProviderOpenAILike      EmbeddingProvider = "OPENAI_LIKE"
	ProviderLocalOllamaLike EmbeddingProvider = "LOCAL_OLLAMA_LIKE"
)

// Embedder is the embedding contract: single, batch, and "long" (chunk
// and average) calls.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedLong(ctx context.Context, text string, maxChunkRunes int) ([]float32, error)
	Dimensions() int
}

// OpenAILikeEmbedder wraps any OpenAI-embeddings-compatible endpoint
// (OpenAI itself, or a local server speaking the same protocol), using
// the same client the completion tiers' DEEPSEEK_V3 tier uses.
type OpenAILikeEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAILikeEmbedder builds a client against baseURL (empty string
// means the public OpenAI API) with apiKey and model, matching spec.md
// §4.2's OPENAI_LIKE provider ("requires API key + model name").
func NewOpenAILikeEmbedder(apiKey, baseURL, model string, dimensions int) *OpenAILikeEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAILikeEmbedder{
		client:     openai.NewClient(opts...),
		model:      model,
		dimensions: dimensions,
	}
}

func (o *OpenAILikeEmbedder) Dimensions() int { return o.dimensions }

func (o *OpenAILikeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAILikeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp *openai.CreateEmbeddingResponse
	err := httpx.RetryIdempotent(ctx, func() error {
		var apiErr error
		resp, apiErr = o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
			Model: o.model,
		})
		return classifyOpenAIError(apiErr)
	})
	if err != nil {
		return nil, &xerrors.EmbeddingFailureError{
			BackendUnavailableError: xerrors.BackendUnavailableError{Backend: "embedding", Err: err},
			Provider:                string(ProviderOpenAILike),
		}
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// EmbedLong chunks text into maxChunkRunes-sized pieces, embeds each,
// and averages the resulting vectors component-wise, matching spec.md
// §4.2's "long texts use embed_long which chunks and averages".
func (o *OpenAILikeEmbedder) EmbedLong(ctx context.Context, text string, maxChunkRunes int) ([]float32, error) {
	chunks := splitIntoRuneChunks(text, maxChunkRunes)
	vecs, err := o.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, err
	}
	return averageVectors(vecs), nil
}

func splitIntoRuneChunks(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

func averageVectors(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float32(len(vecs))
	}
	return out
}

// OllamaEmbedder talks to a local Ollama-compatible embeddings endpoint
// over its own small REST surface (/api/embeddings), matching spec.md
// §4.2's LOCAL_OLLAMA_LIKE provider ("requires host + model").
type OllamaEmbedder struct {
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

func NewOllamaEmbedder(host, model string, dimensions int) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL:    "http://" + host,
		model:      model,
		dimensions: dimensions,
		client:     httpx.NewClient(httpx.LocalEmbeddingTimeout),
	}
}

func (o *OllamaEmbedder) Dimensions() int { return o.dimensions }

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := o.embedOne(ctx, t)
		if err != nil {
			return nil, &xerrors.EmbeddingFailureError{
				BackendUnavailableError: xerrors.BackendUnavailableError{Backend: "embedding", Err: err},
				Provider:                string(ProviderLocalOllamaLike),
			}
		}
		out[i] = vec
	}
	return out, nil
}

func (o *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	body := map[string]any{"model": o.model, "prompt": text}
	err := httpx.RetryIdempotent(ctx, func() error {
		return postJSON(ctx, o.client, o.baseURL+"/api/embeddings", body, &result)
	})
	return result.Embedding, err
}

func (o *OllamaEmbedder) EmbedLong(ctx context.Context, text string, maxChunkRunes int) ([]float32, error) {
	chunks := splitIntoRuneChunks(text, maxChunkRunes)
	vecs, err := o.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, err
	}
	return averageVectors(vecs), nil
}

// classifyOpenAIError leaves retry/permanent classification to the SDK
// client's own transport; openai-go does not expose a stable typed
// status-code error across versions, so this package retries any
// failure up to the backoff policy's cap rather than guessing at error
// shapes it cannot verify against the vendored SDK.
func classifyOpenAIError(err error) error {
	return err
}
