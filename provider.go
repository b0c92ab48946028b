package memoria

import "context"

// Provider abstracts the LLM backend used by the fingerprint classifier's
// bounded fallback call. It is deliberately narrow — a single non-streaming,
// non-tool-calling chat request — because that is all the classifier ever
// needs; chat orchestration itself is out of scope for this module.
type Provider interface {
	// Chat sends req and returns a complete response. Implementations must
	// respect ctx's deadline.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai", "openrouter").
	Name() string
}
