package fingerprint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quietloop/memoria"
)

func TestClassifyDeterministic(t *testing.T) {
	c := New()
	cases := []struct {
		content string
		wantKey string
	}{
		{"my phone number is 555-111-2222", "user_phone_number"},
		{"my email is jane@example.com", "user_email"},
		{"my salary is $120,000 per year", "user_salary"},
		{"my meeting is at 3:00pm", "user_meeting_time"},
		{"I'm 34 years old", "user_age"},
		{"my timezone is UTC+7", "user_timezone"},
		{"I'm married", "user_marital_status"},
		{"my wife is Sarah", "user_spouse_name"},
		{"I have 2 kids", "user_children_count"},
		{"my dog is Rex", "user_pet"},
		{"my favorite color is blue", "user_favorite_color"},
		{"I work as an engineer at Acme", "user_job_title"},
		{"I work at Acme Corp", "user_employer"},
		{"I live in Austin", "user_residence"},
		{"my name is Jane", "user_name"},
	}
	for _, tc := range cases {
		fp, err := c.Classify(context.Background(), tc.content)
		if err != nil {
			t.Fatalf("Classify(%q): %v", tc.content, err)
		}
		if fp.Key != tc.wantKey {
			t.Fatalf("Classify(%q) = key %q, want %q (method=%s)", tc.content, fp.Key, tc.wantKey, fp.Method)
		}
		if !fp.Present() {
			t.Fatalf("Classify(%q) did not satisfy Present()", tc.content)
		}
		if fp.Method != memoria.FingerprintDeterministic {
			t.Fatalf("Classify(%q) method = %s, want deterministic", tc.content, fp.Method)
		}
	}
}

func TestClassifyRejectsNegation(t *testing.T) {
	c := New()
	fp, err := c.Classify(context.Background(), "I don't have a phone")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if fp.Present() {
		t.Fatalf("expected no fingerprint for negated content, got %+v", fp)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	c := New()
	fp, err := c.Classify(context.Background(), "what's the weather like today?")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if fp.Present() {
		t.Fatalf("expected no fingerprint, got %+v", fp)
	}
	if fp.Method != memoria.FingerprintNone {
		t.Fatalf("expected method none, got %s", fp.Method)
	}
}

func TestClassifyEmptyContent(t *testing.T) {
	c := New()
	fp, err := c.Classify(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if fp.Present() || fp.Method != memoria.FingerprintNone {
		t.Fatalf("expected none for blank content, got %+v", fp)
	}
}

// fakeClassifier is a minimal memoria.Classifier for exercising the
// fallback path without reaching for a live HTTP provider.
type fakeClassifier struct {
	fp    memoria.Fingerprint
	err   error
	delay time.Duration
}

func (f *fakeClassifier) Classify(ctx context.Context, content string) (memoria.Fingerprint, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return memoria.Fingerprint{}, ctx.Err()
		}
	}
	return f.fp, f.err
}

func TestClassifyFallbackUsedWhenDeterministicEmpty(t *testing.T) {
	fake := &fakeClassifier{fp: memoria.Fingerprint{Key: "user_favorite_color", Confidence: 0.99}}
	c := New(WithFallback(fake))

	fp, err := c.Classify(context.Background(), "turquoise is such a calming shade")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if fp.Method != memoria.FingerprintModel {
		t.Fatalf("expected model method, got %s (%+v)", fp.Method, fp)
	}
	if fp.Confidence != classifierConfidenceCap {
		t.Fatalf("expected confidence capped at %v, got %v", classifierConfidenceCap, fp.Confidence)
	}
}

func TestClassifyFallbackRejectedWithoutValueSignature(t *testing.T) {
	fake := &fakeClassifier{fp: memoria.Fingerprint{Key: "user_email", Confidence: 0.9}}
	c := New(WithFallback(fake))

	fp, err := c.Classify(context.Background(), "reach me through my usual channel")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if fp.Present() {
		t.Fatalf("expected rejection without an email literal, got %+v", fp)
	}
	if fp.Method != memoria.FingerprintRejected {
		t.Fatalf("expected rejected, got %s", fp.Method)
	}
}

func TestClassifyFallbackTimeout(t *testing.T) {
	fake := &fakeClassifier{delay: classifierFallbackDeadline + 500*time.Millisecond, err: errors.New("deadline exceeded")}
	c := New(WithFallback(fake))

	fp, err := c.Classify(context.Background(), "something entirely unrelated to any rule")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if fp.Method != memoria.FingerprintTimeout {
		t.Fatalf("expected timeout method, got %s", fp.Method)
	}
}

func TestClassifyNotEnoughDigitsRejectsPhone(t *testing.T) {
	c := New()
	fp, err := c.Classify(context.Background(), "my phone is broken again")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if fp.Present() {
		t.Fatalf("expected rejection with no digits, got %+v", fp)
	}
	if fp.Key != "user_phone_number" || fp.Method != memoria.FingerprintRejected {
		t.Fatalf("expected rejected user_phone_number, got %+v", fp)
	}
}
