package llm

// Tier is a completion model tier. Spec.md §4.2 enumerates exactly these
// five; DEEPSEEK_V3 is the one non-Anthropic tier, routed through an
// OpenAI-compatible client rather than the Anthropic SDK.
type Tier string

const (
	TierHaiku      Tier = "HAIKU"
	TierSonnet     Tier = "SONNET"
	TierSonnet1M   Tier = "SONNET_1M"
	TierOpus       Tier = "OPUS"
	TierDeepseekV3 Tier = "DEEPSEEK_V3"
)

// HaikuSafeLimit is the token budget above which a request must be
// upgraded off HAIKU, per spec.md §4.2's selection policy.
const HaikuSafeLimit = 180_000

// modelIDs maps each tier to a concrete provider model identifier.
// Anthropic tiers use Claude model names; DEEPSEEK_V3 is whatever model
// name the configured OpenAI-compatible endpoint expects.
var modelIDs = map[Tier]string{
	TierHaiku:      "claude-haiku-4-5",
	TierSonnet:     "claude-sonnet-4-5",
	TierSonnet1M:   "claude-sonnet-4-5", // same model ID as SONNET; no separate long-context header is sent
	TierOpus:       "claude-opus-4-6",
	TierDeepseekV3: "deepseek-chat",
}

// ModelID returns the concrete model identifier for a tier.
func (t Tier) ModelID() string { return modelIDs[t] }

// SafeLimit returns the tier's safe input-token ceiling. Tiers other
// than HAIKU are treated as large-context for pre-flight estimation
// purposes in this pipeline, since the only upgrade path spec.md §4.2
// names is HAIKU -> SONNET_1M.
func (t Tier) SafeLimit() int {
	if t == TierHaiku {
		return HaikuSafeLimit
	}
	return 900_000
}

// SelectTier implements spec.md §4.2's selection policy: estimated
// tokens above HaikuSafeLimit upgrade to SONNET_1M; otherwise HAIKU by
// default. OPUS is never chosen here — it is opt-in, set explicitly by
// callers for analytical phases (supervisor diagnosis, holistic review,
// chapter summarization with an extended-thinking budget).
func SelectTier(estimatedTokens int) Tier {
	if estimatedTokens > HaikuSafeLimit {
		return TierSonnet1M
	}
	return TierHaiku
}
