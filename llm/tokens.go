package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenizer is process-wide: building a *tiktoken.Tiktoken loads and
// caches its merge-rank table, so every pre-flight estimate in this
// package shares one instance rather than reloading it per call.
var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
	tokenizerErr  error
)

func getTokenizer() (*tiktoken.Tiktoken, error) {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding("cl100k_base")
	})
	return tokenizer, tokenizerErr
}

// EstimateTokens returns the cl100k_base token count for text. Claude
// and Deepseek tokenizers differ from OpenAI's, but spec.md §4.2 only
// needs a consistent, conservative pre-flight estimate to drive tier
// selection and the tool-agent budget, not an exact provider count.
func EstimateTokens(text string) (int, error) {
	tk, err := getTokenizer()
	if err != nil {
		return 0, fmt.Errorf("llm: load tokenizer: %w", err)
	}
	return len(tk.Encode(text, nil, nil)), nil
}

// EstimateMessageTokens sums EstimateTokens across a message history,
// the input to the tool-agent loop's pre-flight budget check.
func EstimateMessageTokens(messages []Message) (int, error) {
	total := 0
	for _, m := range messages {
		n, err := EstimateTokens(m.Content)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
