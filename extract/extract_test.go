package extract

import (
	"context"
	"testing"

	"github.com/quietloop/memoria"
)

func TestShouldExtract_SkipsTrivialAcks(t *testing.T) {
	for _, s := range []string{"ok", "Thanks", "lol", "yep", "short"} {
		if ShouldExtract(s) {
			t.Errorf("should skip: %q", s)
		}
	}
}

func TestShouldExtract_AcceptsRealContent(t *testing.T) {
	for _, s := range []string{
		"My phone number is 555-0100",
		"I work as a staff engineer at Acme",
		"Remember that I'm allergic to peanuts",
	} {
		if !ShouldExtract(s) {
			t.Errorf("should extract: %q", s)
		}
	}
}

func TestParseFacts_Basic(t *testing.T) {
	r := `[{"fact":"User's name is Sam","category":"personal"},{"fact":"Works as an engineer","category":"work"}]`
	facts := ParseFacts(r)
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
	if facts[0].Content != "User's name is Sam" {
		t.Errorf("unexpected content: %q", facts[0].Content)
	}
	if facts[1].Category != "work" {
		t.Errorf("unexpected category: %q", facts[1].Category)
	}
}

func TestParseFacts_Empty(t *testing.T) {
	if facts := ParseFacts("[]"); len(facts) != 0 {
		t.Errorf("expected empty, got %v", facts)
	}
}

func TestParseFacts_CodeFence(t *testing.T) {
	r := "```json\n[{\"fact\":\"Prefers email\",\"category\":\"preference\"}]\n```"
	facts := ParseFacts(r)
	if len(facts) != 1 || facts[0].Content != "Prefers email" {
		t.Fatalf("unexpected parse result: %+v", facts)
	}
}

func TestParseFacts_SupersedesAndExplicit(t *testing.T) {
	r := `[{"fact":"User lives in Denver","category":"personal","supersedes":"User lives in Austin","explicit_storage_request":true}]`
	facts := ParseFacts(r)
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	if facts[0].Supersedes == nil || *facts[0].Supersedes != "User lives in Austin" {
		t.Fatalf("unexpected supersedes: %+v", facts[0].Supersedes)
	}
	if !facts[0].ExplicitStorageRequest {
		t.Fatal("expected explicit_storage_request true")
	}
}

// fakeProvider returns a fixed response regardless of the request.
type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Chat(ctx context.Context, req memoria.ChatRequest) (memoria.ChatResponse, error) {
	if f.err != nil {
		return memoria.ChatResponse{}, f.err
	}
	return memoria.ChatResponse{Content: f.response}, nil
}
func (f *fakeProvider) Name() string { return "fake" }

// fakeClassifier always returns a fixed fingerprint.
type fakeClassifier struct {
	fp memoria.Fingerprint
}

func (f *fakeClassifier) Classify(ctx context.Context, content string) (memoria.Fingerprint, error) {
	return f.fp, nil
}

func TestExtractor_Extract_BuildsMemoryRequests(t *testing.T) {
	provider := &fakeProvider{response: `[{"fact":"User's phone number is 555-0100","category":"personal"}]`}
	classifier := &fakeClassifier{fp: memoria.Fingerprint{Key: "user_phone_number", Confidence: 0.95, Method: memoria.FingerprintDeterministic, ValueSignature: true}}
	e := New(provider, classifier)

	reqs, err := e.Extract(context.Background(), "my phone number is 555-0100 now", "u1", memoria.ModeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	req := reqs[0]
	if req.UserID != "u1" || req.Mode != memoria.ModeGeneral {
		t.Fatalf("unexpected user/mode: %+v", req)
	}
	if req.Fingerprint.Key != "user_phone_number" || !req.Fingerprint.Present() {
		t.Fatalf("expected fingerprint to carry through, got %+v", req.Fingerprint)
	}
	if req.TokenCount <= 0 {
		t.Fatal("expected a positive token count")
	}
}

func TestExtractor_Extract_SkipsTrivialTurn(t *testing.T) {
	provider := &fakeProvider{response: `[{"fact":"should never be parsed","category":"personal"}]`}
	classifier := &fakeClassifier{}
	e := New(provider, classifier)

	reqs, err := e.Extract(context.Background(), "ok", "u1", memoria.ModeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected no requests for a trivial turn, got %d", len(reqs))
	}
}

func TestExtractor_Extract_EmptyModelResponse(t *testing.T) {
	provider := &fakeProvider{response: `[]`}
	classifier := &fakeClassifier{}
	e := New(provider, classifier)

	reqs, err := e.Extract(context.Background(), "a perfectly ordinary sentence", "u1", memoria.ModeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected no requests, got %d", len(reqs))
	}
}

func TestExtractor_Extract_SetsExplicitStorageMetadata(t *testing.T) {
	provider := &fakeProvider{response: `[{"fact":"User is allergic to peanuts","category":"health_wellness","explicit_storage_request":true}]`}
	classifier := &fakeClassifier{fp: memoria.Fingerprint{Method: memoria.FingerprintNone}}
	e := New(provider, classifier)

	reqs, err := e.Extract(context.Background(), "remember that I'm allergic to peanuts", "u1", memoria.ModeGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if !reqs[0].Metadata.ExplicitStorageRequest() {
		t.Fatal("expected explicit_storage_request metadata to be set")
	}
}
