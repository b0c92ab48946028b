// Package tokencount counts tokens for the retrieval pipeline's
// token-budget selection stage. A memory is only injected into context if
// its token count fits the remaining budget, so counting must match the
// target model's actual tokenizer closely enough to keep the budget a
// reliable ceiling.
package tokencount

import (
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// modelEncodings maps model name prefixes to their tiktoken encoding.
// Unknown models default to cl100k_base, the encoding shared by the
// widest range of current chat models.
var modelEncodings = map[string]string{
	"gpt-4o-mini": "o200k_base",
	"gpt-4o":      "o200k_base",
	"gpt-4":       "cl100k_base",
	"gpt-3.5":     "cl100k_base",
	"claude":      "cl100k_base",
}

// Counter counts tokens for memory content using cached tiktoken
// encodings. It is safe for concurrent use; each distinct encoding is
// initialized at most once.
type Counter struct {
	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken
	errs map[string]error
}

// New creates a Counter.
func New() *Counter {
	return &Counter{
		encs: make(map[string]*tiktoken.Tiktoken),
		errs: make(map[string]error),
	}
}

// encodingFor returns the tiktoken encoding name for model.
func encodingFor(model string) string {
	lower := strings.ToLower(model)
	best, bestEnc := "", "cl100k_base"
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(lower, prefix) && len(prefix) > len(best) {
			best, bestEnc = prefix, enc
		}
	}
	return bestEnc
}

// encoderFor returns the cached encoder for model's encoding, initializing
// it on first use.
func (c *Counter) encoderFor(model string) (*tiktoken.Tiktoken, error) {
	name := encodingFor(model)

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encs[name]; ok {
		return enc, c.errs[name]
	}
	enc, err := tiktoken.GetEncoding(name)
	c.encs[name] = enc
	c.errs[name] = err
	return enc, err
}

// Count returns the token count of text under model's encoding. Falls
// back to a conservative rune-based estimate (1 token per 4 runes) if the
// encoding fails to initialize, so the budget stage always has a number
// to work with rather than failing the retrieval call.
func (c *Counter) Count(model, text string) int {
	enc, err := c.encoderFor(model)
	if err != nil || enc == nil {
		return estimateTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// estimateTokens is the fallback used when no tiktoken encoding is
// available.
func estimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
