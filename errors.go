package memoria

import (
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidInput reports a request rejected before any I/O: missing or
// empty user_id, empty query, a non-string query after coercion. Never
// retried.
type ErrInvalidInput struct {
	Field  string
	Reason string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// ErrEmbeddingTimeout reports that an embedding call exceeded its deadline.
// On the store path this is non-fatal: the memory is left in status
// "pending" for the backfill worker. On the retrieve path it aborts the
// call.
type ErrEmbeddingTimeout struct {
	Model      string
	DeadlineMs int64
}

func (e *ErrEmbeddingTimeout) Error() string {
	return fmt.Sprintf("embedding timeout after %dms (model %s)", e.DeadlineMs, e.Model)
}

// ErrEmbeddingFailure reports a non-timeout embedding failure. On the store
// path the memory is marked "failed" and the cause is recorded in its
// metadata.
type ErrEmbeddingFailure struct {
	Model   string
	Message string
}

func (e *ErrEmbeddingFailure) Error() string {
	return fmt.Sprintf("embedding failure (model %s): %s", e.Model, e.Message)
}

// ErrSupersessionConflict reports a serialization failure or deadlock
// during a supersession transaction. The storage engine retries internally
// up to a bounded attempt count before surfacing this.
type ErrSupersessionConflict struct {
	UserID      string
	Fingerprint string
	Attempts    int
}

func (e *ErrSupersessionConflict) Error() string {
	return fmt.Sprintf("supersession conflict for user %s fingerprint %s after %d attempts",
		e.UserID, e.Fingerprint, e.Attempts)
}

// ErrConstraintViolation reports a duplicate current-fact row — normally
// impossible under the partial unique index, so its appearance indicates a
// classifier or retry bug rather than a race outcome.
type ErrConstraintViolation struct {
	Constraint string
	Detail     string
}

func (e *ErrConstraintViolation) Error() string {
	return fmt.Sprintf("constraint violation (%s): %s", e.Constraint, e.Detail)
}

// ErrCrossUserLeak reports that retrieval observed a row belonging to a
// different user than the requester. The row is filtered before the
// caller ever sees it; this error exists to be logged as a critical event.
type ErrCrossUserLeak struct {
	RequestedUser string
	ActualUser    string
	MemoryID      int64
}

func (e *ErrCrossUserLeak) Error() string {
	return fmt.Sprintf("cross-user leak: memory %d requested by %q belongs to %q",
		e.MemoryID, e.RequestedUser, e.ActualUser)
}

// ErrInternal wraps any failure that does not fit the taxonomy above,
// preserving the originating operation name and the underlying cause.
type ErrInternal struct {
	Op    string
	Cause error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal error in %s: %v", e.Op, e.Cause)
}

func (e *ErrInternal) Unwrap() error { return e.Cause }

// ErrHTTP is a transport-layer error from an external HTTP collaborator
// (embedding or classifier provider). RetryAfter is non-zero only when the
// response carried a Retry-After header.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value, which is either
// a number of seconds or an HTTP-date. Returns 0 if the header is empty or
// unparseable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
