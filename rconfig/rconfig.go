// Package rconfig loads the THALA_* environment surface documented in
// spec §6 into a single long-lived Config value, the "one long-lived
// container constructed at process start" spec §9 calls for. It is
// grounded on MycelicMemory's use of spf13/viper for environment-backed
// configuration (github.com/MycelicMemory/mycelicmemory go.mod), since
// the teacher repo (Tangerg-lynx) carries no configuration library of its
// own and every call site in this module needs the same env surface.
package rconfig

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration. No constructor in
// packages store or llm takes a *Config; a caller reads the fields it
// needs and passes them to those constructors as plain values.
type Config struct {
	ESHost          string // default text-index host (L0/L1/L2/coherence)
	ESCoherenceHost string // THALA_ES_COHERENCE_HOST
	ESForgottenHost string // THALA_ES_FORGOTTEN_HOST

	ChromaHost string // THALA_CHROMA_HOST
	ChromaPort int    // THALA_CHROMA_PORT

	ZoteroHost string // THALA_ZOTERO_HOST
	ZoteroPort int    // THALA_ZOTERO_PORT

	TranslationHost string // THALA_TRANSLATION_HOST
	TranslationPort int    // THALA_TRANSLATION_PORT

	EmbeddingProvider string // THALA_EMBEDDING_PROVIDER: openai_like | local_ollama_like
	EmbeddingModel    string // THALA_EMBEDDING_MODEL
	OllamaHost        string // THALA_OLLAMA_HOST
	OpenAIAPIKey      string // OPENAI_API_KEY

	AnthropicAPIKey  string // ANTHROPIC_API_KEY
	PerplexityAPIKey string // PERPLEXITY_API_KEY

	DevMode bool // THALA_MODE == "dev"
}

// Load reads the THALA_* and provider-key environment variables, applying
// the same defaults the original Python deployment scripts assumed
// (localhost services, Chroma on 8000, Zotero's connector port 23119).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("THALA_ES_COHERENCE_HOST", "localhost:9200")
	v.SetDefault("THALA_ES_FORGOTTEN_HOST", "localhost:9201")
	v.SetDefault("THALA_CHROMA_HOST", "localhost")
	v.SetDefault("THALA_CHROMA_PORT", 8000)
	v.SetDefault("THALA_ZOTERO_HOST", "localhost")
	v.SetDefault("THALA_ZOTERO_PORT", 23119)
	v.SetDefault("THALA_TRANSLATION_HOST", "localhost")
	v.SetDefault("THALA_TRANSLATION_PORT", 8100)
	v.SetDefault("THALA_EMBEDDING_PROVIDER", "openai_like")
	v.SetDefault("THALA_EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("THALA_OLLAMA_HOST", "localhost:11434")
	v.SetDefault("THALA_MODE", "")

	cfg := &Config{
		ESHost:            v.GetString("THALA_ES_COHERENCE_HOST"),
		ESCoherenceHost:   v.GetString("THALA_ES_COHERENCE_HOST"),
		ESForgottenHost:   v.GetString("THALA_ES_FORGOTTEN_HOST"),
		ChromaHost:        v.GetString("THALA_CHROMA_HOST"),
		ChromaPort:        v.GetInt("THALA_CHROMA_PORT"),
		ZoteroHost:        v.GetString("THALA_ZOTERO_HOST"),
		ZoteroPort:        v.GetInt("THALA_ZOTERO_PORT"),
		TranslationHost:   v.GetString("THALA_TRANSLATION_HOST"),
		TranslationPort:   v.GetInt("THALA_TRANSLATION_PORT"),
		EmbeddingProvider: v.GetString("THALA_EMBEDDING_PROVIDER"),
		EmbeddingModel:    v.GetString("THALA_EMBEDDING_MODEL"),
		OllamaHost:        v.GetString("THALA_OLLAMA_HOST"),
		OpenAIAPIKey:      v.GetString("OPENAI_API_KEY"),
		AnthropicAPIKey:   v.GetString("ANTHROPIC_API_KEY"),
		PerplexityAPIKey:  v.GetString("PERPLEXITY_API_KEY"),
		DevMode:           v.GetString("THALA_MODE") == "dev",
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.EmbeddingProvider != "openai_like" && c.EmbeddingProvider != "local_ollama_like" {
		return fmt.Errorf("rconfig: unknown THALA_EMBEDDING_PROVIDER %q", c.EmbeddingProvider)
	}
	if c.EmbeddingProvider == "openai_like" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("rconfig: THALA_EMBEDDING_PROVIDER=openai_like requires OPENAI_API_KEY")
	}
	return nil
}
