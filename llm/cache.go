package llm

import "github.com/anthropics/anthropic-sdk-go"

// DocumentAnalysisSystem is the stable system-prompt prefix shared by
// the ingestion agents (summary_agent, metadata_agent, chapter
// summarization, content/metadata validation): caching it amortizes
// cost across the many calls one document's ingestion makes, per
// spec.md §4.2's prompt-caching note.
const DocumentAnalysisSystem = `You are a research-document analysis assistant. You extract structured ` +
	`information from scholarly and technical documents precisely, without ` +
	`inventing facts not present in the provided text. When asked to ` +
	`summarize, preserve the document's own terminology and claims.`

// cachedSystemBlocks marks a system prompt prefix as cacheable. Callers
// set CompletionRequest.CacheSystemPrompt when System equals a stable,
// reused prefix like DocumentAnalysisSystem; one-off system prompts
// should leave it false since caching a prompt used once adds latency
// for no benefit.
func cachedSystemBlocks(system string) []anthropic.TextBlockParam {
	block := anthropic.TextBlockParam{Text: system}
	block.CacheControl = anthropic.NewCacheControlEphemeralParam()
	return []anthropic.TextBlockParam{block}
}
