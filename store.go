package memoria

import (
	"context"
	"time"
)

// Store abstracts persistence for the memory pipeline: it owns the
// one-current-fact-per-fingerprint invariant, executes supersession
// transactions, and serves the candidate queries retrieval needs.
//
// Implementations must never return a Memory whose UserID does not match
// the UserID passed to the call that produced it; callers additionally
// apply a defense-in-depth sentinel check on top of this (see package
// retrieve).
type Store interface {
	// Store inserts req as a new memory. If req.Fingerprint.Present() and
	// its confidence is at least the storage engine's fixed minimum (0.85
	// in store/postgres and store/sqlite), it runs the full
	// supersession transaction: current rows for (UserID, Fingerprint.Key)
	// across all modes are locked, marked not-current, and superseded by
	// the new row. Otherwise it behaves exactly like
	// StoreWithoutSupersession.
	Store(ctx context.Context, req MemoryRequest) (StoreResult, error)

	// StoreWithoutSupersession inserts req as a new, current row with no
	// effect on any other row. Used when the supersession safety gate
	// rejects req, or by callers that explicitly want a plain insert.
	StoreWithoutSupersession(ctx context.Context, req MemoryRequest) (int64, error)

	// MarkEmbedding records the outcome of an embedding attempt for id:
	// status "ready" requires a vector of exactly EmbeddingDimensions
	// floats and a model tag; any other status clears the stored vector.
	MarkEmbedding(ctx context.Context, id int64, status EmbeddingStatus, vector []float32, model string) error

	// FindByFingerprint returns every row (current and superseded) for
	// (user, fingerprint), ordered oldest first, for supersession-history
	// inspection and testing.
	FindByFingerprint(ctx context.Context, user, fingerprint string) ([]Memory, error)

	// GetCandidates runs the Stage 2 SQL prefilter and returns every
	// matching row, embedded or not, ordered by relevance_score DESC,
	// created_at DESC.
	GetCandidates(ctx context.Context, pf Prefilter) ([]Memory, error)

	// GetRecentUnembedded returns rows created within the last `within`
	// duration whose embedding is not yet ready, honoring the same mode
	// visibility rules as GetCandidates. Feeds Stage 2c's embedding-lag
	// augmentation.
	GetRecentUnembedded(ctx context.Context, user string, modes []Mode, within time.Duration) ([]Memory, error)

	// ClaimNextForEmbedding selects the newest row with no embedding whose
	// status is one of statuses, atomically marks it "processing" so no
	// other worker can pick it up concurrently, and returns it. ok is
	// false once nothing matching remains.
	ClaimNextForEmbedding(ctx context.Context, statuses []EmbeddingStatus) (Memory, bool, error)

	// CountUnembedded reports how many rows still have no embedding and a
	// status in statuses, for the backfill worker's Remaining count.
	CountUnembedded(ctx context.Context, statuses []EmbeddingStatus) (int, error)

	// AppendEmbeddingError merges {embedding_error: message, error_time:
	// now} into id's metadata, called alongside MarkEmbedding(..., Failed,
	// ...) so the cause of a backfill failure survives for inspection.
	AppendEmbeddingError(ctx context.Context, id int64, message string) error

	// AdaptiveUpdate fires a non-blocking increment of usage_frequency and
	// relevance_score, and refreshes last_accessed, for ids. Implementations
	// must not let failures here propagate to the retrieval caller.
	AdaptiveUpdate(ctx context.Context, ids []int64)

	// ReclaimStaleProcessing resets rows stuck in "processing" for longer
	// than olderThan back to "pending", so a crashed backfill worker never
	// strands a row. Returns the number of rows reclaimed.
	ReclaimStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error)

	// DecayStale reduces relevance_score for memories that have not been
	// accessed recently. Operators may invoke this on a periodic or
	// probabilistic schedule; it is not on the request-path critical
	// latency.
	DecayStale(ctx context.Context) error

	// CreateSupersessionConstraint creates the partial unique index that
	// enforces at most one current row per (user_id, fact_fingerprint).
	// Idempotent; safe to call on every startup.
	CreateSupersessionConstraint(ctx context.Context) error

	// CleanupDuplicateCurrentFacts repairs any pre-existing violation of
	// the one-current-fact invariant (e.g. from data imported before the
	// constraint existed) by keeping the newest current row per
	// fingerprint and marking the rest superseded. Returns the number of
	// rows changed.
	CleanupDuplicateCurrentFacts(ctx context.Context) (int, error)

	// Init creates the schema and indexes if they do not already exist.
	Init(ctx context.Context) error

	// Close releases the underlying connection pool or handle.
	Close() error
}

// EmbeddingProvider abstracts the external embedding collaborator: a
// single piece of text goes in, a fixed-dimension vector comes out, or a
// timeout/failure is reported distinctly so the caller can choose the
// right Memory.EmbeddingStatus.
type EmbeddingProvider interface {
	// Embed returns the embedding for text, or an error. Implementations
	// must respect ctx's deadline and report *ErrEmbeddingTimeout
	// distinctly from other failures.
	Embed(ctx context.Context, text string) (EmbedResult, error)

	// Dimensions returns the embedding vector size this provider produces.
	Dimensions() int

	// Name identifies the provider/model for logging and the
	// embedding_model column.
	Name() string
}

// Classifier is the optional external fallback used by the fingerprint
// package when its deterministic rule pass produces nothing. Calls must be
// bounded (deadline ≤ 2s by convention); any output still passes through
// the value-signature guard before being trusted.
type Classifier interface {
	// Classify proposes a Fingerprint for content, or the zero value if
	// none applies. Method is always FingerprintModel on success.
	Classify(ctx context.Context, content string) (Fingerprint, error)
}
