package memoria

import (
	"errors"
	"testing"
	"time"
)

func TestErrInvalidInputError(t *testing.T) {
	e := &ErrInvalidInput{Field: "user_id", Reason: "empty"}
	want := "invalid input: user_id: empty"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrEmbeddingTimeoutError(t *testing.T) {
	e := &ErrEmbeddingTimeout{Model: "text-embed-3", DeadlineMs: 5000}
	want := "embedding timeout after 5000ms (model text-embed-3)"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrSupersessionConflictError(t *testing.T) {
	e := &ErrSupersessionConflict{UserID: "u1", Fingerprint: "user_phone_number", Attempts: 3}
	want := "supersession conflict for user u1 fingerprint user_phone_number after 3 attempts"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrCrossUserLeakError(t *testing.T) {
	e := &ErrCrossUserLeak{RequestedUser: "a", ActualUser: "b", MemoryID: 42}
	want := `cross-user leak: memory 42 requested by "a" belongs to "b"`
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrInternalUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	e := &ErrInternal{Op: "store.Init", Cause: cause}
	if !errors.Is(e, cause) {
		t.Errorf("errors.Is(e, cause) = false, want true")
	}
}

func TestErrHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{429, "too many requests", "http 429: too many requests"},
		{500, "internal server error", "http 500: internal server error"},
	}
	for _, tt := range tests {
		e := &ErrHTTP{Status: tt.status, Body: tt.body}
		if got := e.Error(); got != tt.want {
			t.Errorf("ErrHTTP{%d, %q}.Error() = %q, want %q", tt.status, tt.body, got, tt.want)
		}
	}
}

func TestErrHTTPImplementsError(t *testing.T) {
	var _ error = (*ErrHTTP)(nil)
	var _ error = (*ErrInvalidInput)(nil)
	var _ error = (*ErrEmbeddingTimeout)(nil)
	var _ error = (*ErrEmbeddingFailure)(nil)
	var _ error = (*ErrSupersessionConflict)(nil)
	var _ error = (*ErrConstraintViolation)(nil)
	var _ error = (*ErrCrossUserLeak)(nil)
	var _ error = (*ErrInternal)(nil)
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if got := ParseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("ParseRetryAfter(30) = %v, want 30s", got)
	}
}

func TestParseRetryAfterEmpty(t *testing.T) {
	if got := ParseRetryAfter(""); got != 0 {
		t.Errorf("ParseRetryAfter(\"\") = %v, want 0", got)
	}
}

func TestParseRetryAfterNegative(t *testing.T) {
	if got := ParseRetryAfter("-5"); got != 0 {
		t.Errorf("ParseRetryAfter(-5) = %v, want 0", got)
	}
}

func TestParseRetryAfterGarbage(t *testing.T) {
	if got := ParseRetryAfter("not-a-date"); got != 0 {
		t.Errorf("ParseRetryAfter(garbage) = %v, want 0", got)
	}
}
