package fingerprint

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/quietloop/memoria"
)

// llmSchema is the JSON Schema enforced on the fallback classification call.
var llmSchema = &memoria.ResponseSchema{
	Name: "fact_fingerprint",
	Schema: json.RawMessage(`{"type":"object","properties":{
		"key":{"type":"string"},
		"confidence":{"type":"number"}
	},"required":["key","confidence"]}`),
}

// llmPrompt lists the canonical keys the deterministic pass already knows,
// so the fallback proposes labels Classify can actually recognize.
const llmPrompt = `Classify the following statement as one of these canonical fact keys, or "none" if it matches no key:

user_phone_number, user_email, user_salary, user_meeting_time, user_age, user_timezone, user_marital_status, user_spouse_name, user_children_count, user_pet, user_favorite_color, user_job_title, user_employer, user_residence, user_name

Return ONLY JSON: {"key": "<canonical_key_or_none>", "confidence": <0.0-1.0>}`

// LLMClassifier implements memoria.Classifier as the bounded external
// fallback fingerprint.Classifier calls when the deterministic pass finds
// nothing. It proposes a key only; fingerprint.Classifier re-validates the
// proposal against the same value-signature guards the deterministic rules
// use, so a hallucinated key or a missing literal value is rejected
// regardless of what the model claims.
type LLMClassifier struct {
	provider memoria.Provider
}

// NewLLMClassifier wraps a chat provider as a fingerprint fallback.
func NewLLMClassifier(provider memoria.Provider) *LLMClassifier {
	return &LLMClassifier{provider: provider}
}

// Classify asks the wrapped provider for a single canonical key and
// confidence. Any parse or transport failure is reported as an error, which
// fingerprint.Classifier treats as "no fingerprint" rather than failing the
// store path.
func (l *LLMClassifier) Classify(ctx context.Context, content string) (memoria.Fingerprint, error) {
	resp, err := l.provider.Chat(ctx, memoria.ChatRequest{
		Messages: []memoria.ChatMessage{
			memoria.SystemMessage(llmPrompt),
			memoria.UserMessage(content),
		},
		ResponseSchema: llmSchema,
	})
	if err != nil {
		return memoria.Fingerprint{}, err
	}

	var parsed struct {
		Key        string  `json:"key"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); err != nil {
		return memoria.Fingerprint{}, &memoria.ErrInternal{Op: "fingerprint.LLMClassifier.Classify", Cause: err}
	}
	if parsed.Key == "" || parsed.Key == "none" {
		return memoria.Fingerprint{Method: memoria.FingerprintNone}, nil
	}

	return memoria.Fingerprint{Key: parsed.Key, Confidence: parsed.Confidence}, nil
}

var _ memoria.Classifier = (*LLMClassifier)(nil)
