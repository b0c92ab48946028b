package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/quietloop/memoria"
)

// defaultMaxInputChars bounds the text sent to the embedding endpoint.
// Providers reject or silently truncate overlong inputs; truncating here
// keeps behavior predictable and avoids surprising token-limit errors.
const defaultMaxInputChars = 8000

// Client implements memoria.EmbeddingProvider against an OpenAI-compatible
// /embeddings endpoint.
type Client struct {
	apiKey        string
	model         string
	baseURL       string
	dims          int
	client        *http.Client
	name          string
	maxInputChars int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (timeouts, proxies, transport).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithName sets the provider name returned by Name() (default "openai").
func WithName(name string) Option {
	return func(cl *Client) { cl.name = name }
}

// WithMaxInputChars overrides the truncation length applied before transport.
func WithMaxInputChars(n int) Option {
	return func(cl *Client) { cl.maxInputChars = n }
}

// New creates an embedding client.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1"); the
// /embeddings path is appended automatically. dims is the fixed
// dimensionality this deployment expects (memoria.EmbeddingDimensions).
func New(apiKey, model, baseURL string, dims int, opts ...Option) *Client {
	c := &Client{
		apiKey:        apiKey,
		model:         model,
		baseURL:       baseURL,
		dims:          dims,
		client:        &http.Client{},
		name:          "openai",
		maxInputChars: defaultMaxInputChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider name (default "openai", configurable via WithName).
func (c *Client) Name() string { return c.name }

// Dimensions returns the configured embedding dimensionality.
func (c *Client) Dimensions() int { return c.dims }

// Embed requests a single embedding vector for text. ctx's deadline governs
// the call; a deadline exceeded while waiting on the request, or an HTTP
// 408/504 response, is reported as *memoria.ErrEmbeddingTimeout, every
// other failure as *memoria.ErrEmbeddingFailure.
func (c *Client) Embed(ctx context.Context, text string) (memoria.EmbedResult, error) {
	start := time.Now()
	text = truncate(text, c.maxInputChars)

	resp, err := c.sendHTTP(ctx, embedRequest{Model: c.model, Input: text})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return memoria.EmbedResult{}, &memoria.ErrEmbeddingTimeout{
				Model:      c.model,
				DeadlineMs: time.Since(start).Milliseconds(),
			}
		}
		return memoria.EmbedResult{}, &memoria.ErrEmbeddingFailure{Model: c.model, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout {
			return memoria.EmbedResult{}, &memoria.ErrEmbeddingTimeout{Model: c.model, DeadlineMs: time.Since(start).Milliseconds()}
		}
		return memoria.EmbedResult{}, &memoria.ErrEmbeddingFailure{Model: c.model, Message: (&memoria.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(body),
			RetryAfter: memoria.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}).Error()}
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return memoria.EmbedResult{}, &memoria.ErrEmbeddingFailure{Model: c.model, Message: "decode response: " + err.Error()}
	}
	if len(parsed.Data) == 0 {
		return memoria.EmbedResult{}, &memoria.ErrEmbeddingFailure{Model: c.model, Message: "empty embeddings response"}
	}

	vec := parsed.Data[0].Embedding
	if c.dims > 0 && len(vec) != c.dims {
		return memoria.EmbedResult{}, &memoria.ErrEmbeddingFailure{
			Model:   c.model,
			Message: "embedding dimension mismatch",
		}
	}

	model := parsed.Model
	if model == "" {
		model = c.model
	}

	return memoria.EmbedResult{
		Vector:     vec,
		Dimensions: len(vec),
		Model:      model,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}, nil
}

// sendHTTP marshals the request and posts it to the embeddings endpoint.
// It is a separate method so Embed can distinguish a deadline that expired
// while sendHTTP was blocked from one caught afterward.
func (c *Client) sendHTTP(ctx context.Context, body embedRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	return c.client.Do(httpReq)
}

// truncate bounds s to maxChars runes, matching the contract that input
// text is shortened before transport rather than rejected.
func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars])
}

// Compile-time interface check.
var _ memoria.EmbeddingProvider = (*Client)(nil)
