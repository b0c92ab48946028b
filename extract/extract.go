// Package extract turns a raw conversational turn into the MemoryRequest
// values the store–supersede–retrieve pipeline operates on: an LLM call
// proposes candidate facts, a cheap heuristic gate skips turns not worth
// the call at all, and the fingerprint classifier and token counter fill
// in the fields the storage engine needs.
package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/quietloop/memoria"
	"github.com/quietloop/memoria/tokencount"
)

// Fact is a single parsed fact proposed by the extraction LLM call.
type Fact struct {
	Content                string  `json:"fact"`
	Category               string  `json:"category"`
	Supersedes             *string `json:"supersedes,omitempty"`
	ExplicitStorageRequest bool    `json:"explicit_storage_request,omitempty"`
}

// FactsSchema is the JSON Schema enforced on extraction responses.
var FactsSchema = &memoria.ResponseSchema{
	Name: "extracted_facts",
	Schema: json.RawMessage(`{"type":"array","items":{"type":"object","properties":{
		"fact":{"type":"string"},
		"category":{"type":"string"},
		"supersedes":{"type":"string"},
		"explicit_storage_request":{"type":"boolean"}
	},"required":["fact","category"]}}`),
}

// Prompt is the system prompt for fact extraction, adapted to memoria's
// store-supersede-retrieve domain: the model must flag when the user
// explicitly asked to be remembered, since that drives the retrieval
// pipeline's explicit-recall boost.
const Prompt = `You are a memory extraction system for a long-term personal memory store. Given a conversational turn, extract durable facts ABOUT THE USER.

Extract facts like:
- Personal info (name, job title, employer, phone, email, timezone, residence)
- Relationships (spouse, children)
- Preferences and habits
- Health-relevant facts (allergies, medications, conditions) — these are safety-critical, extract them even in passing mentions
- Current projects or goals

Rules:
- Only extract facts clearly stated or strongly implied by the USER, never the assistant
- Each fact is a single, concise statement written in the third person ("User's phone number is 555-0100")
- category is a short lowercase label describing the fact's domain (e.g. "personal", "health_wellness", "work", "preference")
- If a new fact CONTRADICTS or UPDATES a previously known fact, set "supersedes" to the old fact's text
- Set "explicit_storage_request" to true only if the user directly asked to be remembered ("remember that...", "don't forget...")
- If no durable facts are present, return an empty array

Return ONLY a JSON array, no extra text. Return [] if nothing qualifies.`

// skipPhrases are low-content acknowledgements never worth an extraction call.
var skipPhrases = map[string]bool{
	"ok": true, "okay": true, "k": true,
	"thanks": true, "thank you": true, "thx": true, "ty": true,
	"yes": true, "no": true, "yep": true, "nope": true,
	"nice": true, "cool": true, "great": true, "good": true,
	"lol": true, "haha": true, "hmm": true, "hm": true, "oh": true, "ah": true,
}

// ShouldExtract reports whether text is worth an extraction call: long
// enough and not a bare acknowledgement.
func ShouldExtract(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 10 {
		return false
	}
	return !skipPhrases[strings.ToLower(trimmed)]
}

// ParseFacts parses the extraction LLM's response, tolerating a response
// wrapped in markdown code fences (some models do this despite instruction
// not to).
func ParseFacts(response string) []Fact {
	response = strings.TrimSpace(response)
	var facts []Fact
	if err := json.Unmarshal([]byte(response), &facts); err == nil {
		return facts
	}
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start >= 0 && end > start {
		_ = json.Unmarshal([]byte(response[start:end+1]), &facts)
	}
	return facts
}

// Classifier is the narrow view of fingerprint.Classifier that Extractor
// needs, letting callers outside this module supply a fake in tests.
type Classifier interface {
	Classify(ctx context.Context, content string) (memoria.Fingerprint, error)
}

// Extractor turns a conversational turn into ready-to-store MemoryRequest
// values.
type Extractor struct {
	provider   memoria.Provider
	classifier Classifier
	counter    *tokencount.Counter
	model      string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTokenCounter overrides the default tokencount.Counter.
func WithTokenCounter(c *tokencount.Counter) Option {
	return func(e *Extractor) { e.counter = c }
}

// WithModel sets the model tag recorded for token counting.
func WithModel(model string) Option {
	return func(e *Extractor) { e.model = model }
}

// New creates an Extractor backed by provider for the extraction call and
// classifier for fingerprinting each resulting fact.
func New(provider memoria.Provider, classifier Classifier, opts ...Option) *Extractor {
	e := &Extractor{
		provider:   provider,
		classifier: classifier,
		counter:    tokencount.New(),
		model:      "gpt-4o-mini",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract runs the extraction call on turn and returns one MemoryRequest
// per qualifying fact, fingerprinted and token-counted, ready for
// memoria.Store.Store. Returns an empty slice, not an error, when turn
// isn't worth extracting or the model proposes nothing.
func (e *Extractor) Extract(ctx context.Context, turn string, user string, mode memoria.Mode) ([]memoria.MemoryRequest, error) {
	if !ShouldExtract(turn) {
		return nil, nil
	}

	resp, err := e.provider.Chat(ctx, memoria.ChatRequest{
		Messages: []memoria.ChatMessage{
			memoria.SystemMessage(Prompt),
			memoria.UserMessage(turn),
		},
		ResponseSchema: FactsSchema,
	})
	if err != nil {
		return nil, &memoria.ErrInternal{Op: "extract.Extract", Cause: err}
	}

	facts := ParseFacts(resp.Content)
	if len(facts) == 0 {
		return nil, nil
	}

	reqs := make([]memoria.MemoryRequest, 0, len(facts))
	for _, f := range facts {
		content := strings.TrimSpace(f.Content)
		if content == "" {
			continue
		}

		fp, err := e.classifier.Classify(ctx, content)
		if err != nil {
			fp = memoria.Fingerprint{Method: memoria.FingerprintNone}
		}

		meta := memoria.Metadata{}
		if f.ExplicitStorageRequest {
			meta["explicit_storage_request"] = true
		}
		if f.Supersedes != nil && *f.Supersedes != "" {
			meta["supersedes_phrase"] = *f.Supersedes
		}

		reqs = append(reqs, memoria.MemoryRequest{
			UserID:      user,
			Mode:        mode,
			Content:     content,
			Category:    strings.ToLower(strings.TrimSpace(f.Category)),
			TokenCount:  e.counter.Count(e.model, content),
			Metadata:    meta,
			Fingerprint: fp,
		})
	}
	return reqs, nil
}
