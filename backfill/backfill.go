// Package backfill implements the resumable embedding worker: a
// single-row-at-a-time loop that picks up memories left in "pending" or
// "failed" status by the store-time inline embed attempt and drives them
// to "ready" under a wall-clock and row-count budget. See Worker.Run.
package backfill

import (
	"context"
	"log/slog"
	"time"

	"github.com/quietloop/memoria"
)

// Config holds the worker's tunables.
type Config struct {
	DefaultLimit       int
	DefaultMaxSeconds  float64
	RowTimeout         time.Duration
	InterRowDelay      time.Duration
	StaleProcessingAge time.Duration
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:       20,
		DefaultMaxSeconds:  20,
		RowTimeout:         10 * time.Second,
		InterRowDelay:      50 * time.Millisecond,
		StaleProcessingAge: 5 * time.Minute,
	}
}

// Worker drives unembedded memories to "ready", one row at a time.
type Worker struct {
	store    memoria.Store
	embedder memoria.EmbeddingProvider
	logger   *slog.Logger
	tracer   memoria.Tracer
	cfg      Config
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithTracer sets the tracer used to emit a span per Run call.
func WithTracer(t memoria.Tracer) Option {
	return func(w *Worker) { w.tracer = t }
}

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option {
	return func(w *Worker) { w.cfg = cfg }
}

var nopLogger = slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// New creates a Worker backed by store and embedder.
func New(store memoria.Store, embedder memoria.EmbeddingProvider, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		embedder: embedder,
		logger:   nopLogger,
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// defaultStatusFilter is the set of embedding_status values a backfill pass
// considers eligible when the caller doesn't narrow it.
var defaultStatusFilter = []memoria.EmbeddingStatus{memoria.EmbeddingPending, memoria.EmbeddingFailed}

// Options configures a single Run call. Limit and MaxSeconds fall back to
// the Worker's Config defaults when zero.
type Options struct {
	Limit        int
	MaxSeconds   float64
	StatusFilter []memoria.EmbeddingStatus
}

// Run claims and embeds up to Limit rows, stopping early once MaxSeconds
// has elapsed. It is resumable: callers draining a backlog call Run
// repeatedly until Remaining is 0. Row-level failures are recorded on the
// row (status "failed", error in metadata) and never abort the loop. A
// failure to claim a row from the store is logged and ends the run early
// with the counts gathered so far; Run's error is always nil.
func (w *Worker) Run(ctx context.Context, opts Options) (memoria.BackfillResult, error) {
	start := time.Now()
	limit := opts.Limit
	if limit <= 0 {
		limit = w.cfg.DefaultLimit
	}
	maxSeconds := opts.MaxSeconds
	if maxSeconds <= 0 {
		maxSeconds = w.cfg.DefaultMaxSeconds
	}
	statusFilter := opts.StatusFilter
	if len(statusFilter) == 0 {
		statusFilter = defaultStatusFilter
	}

	if w.tracer != nil {
		var span memoria.Span
		ctx, span = w.tracer.Start(ctx, "backfill.run",
			memoria.IntAttr("limit", limit), memoria.Float64Attr("max_seconds", maxSeconds))
		defer span.End()
	}

	deadline := start.Add(time.Duration(maxSeconds * float64(time.Second)))
	var result memoria.BackfillResult

	for result.Processed < limit && time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}

		m, ok, err := w.store.ClaimNextForEmbedding(ctx, statusFilter)
		if err != nil {
			w.logger.Error("backfill: claim failed", "error", err)
			break
		}
		if !ok {
			break
		}

		succeeded := w.embedOne(ctx, m)
		result.Processed++
		if succeeded {
			result.Succeeded++
		} else {
			result.Failed++
		}

		if result.Processed >= limit || !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			result.SecondsElapsed = time.Since(start).Seconds()
			return result, nil
		case <-time.After(w.cfg.InterRowDelay):
		}
	}

	remaining, err := w.store.CountUnembedded(ctx, statusFilter)
	if err != nil {
		w.logger.Warn("backfill: count remaining failed", "error", err)
	}
	result.Remaining = remaining
	result.SecondsElapsed = time.Since(start).Seconds()
	return result, nil
}

// ReclaimStale resets rows stuck in "processing" for longer than the
// worker's StaleProcessingAge back to "pending", so a crashed worker never
// strands a row forever. Safe to call periodically alongside Run.
func (w *Worker) ReclaimStale(ctx context.Context) (int, error) {
	n, err := w.store.ReclaimStaleProcessing(ctx, w.cfg.StaleProcessingAge)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "backfill.ReclaimStale", Cause: err}
	}
	if n > 0 {
		w.logger.Info("backfill: reclaimed stale processing rows", "count", n)
	}
	return n, nil
}

// embedOne embeds a single claimed row and records the outcome via
// MarkEmbedding. It never returns an error: embedding failures are a normal
// outcome of backfill and are recorded on the row, not propagated.
func (w *Worker) embedOne(ctx context.Context, m memoria.Memory) bool {
	rowCtx, cancel := context.WithTimeout(ctx, w.cfg.RowTimeout)
	defer cancel()

	res, err := w.embedder.Embed(rowCtx, m.Content)
	if err != nil {
		w.logger.Warn("backfill: embed failed", "memory_id", m.ID, "error", err)
		if markErr := w.store.MarkEmbedding(ctx, m.ID, memoria.EmbeddingFailed, nil, ""); markErr != nil {
			w.logger.Error("backfill: mark failed status failed", "memory_id", m.ID, "error", markErr)
		}
		if appendErr := w.store.AppendEmbeddingError(ctx, m.ID, err.Error()); appendErr != nil {
			w.logger.Error("backfill: append embedding error failed", "memory_id", m.ID, "error", appendErr)
		}
		return false
	}

	if markErr := w.store.MarkEmbedding(ctx, m.ID, memoria.EmbeddingReady, res.Vector, res.Model); markErr != nil {
		w.logger.Error("backfill: mark ready failed", "memory_id", m.ID, "error", markErr)
		return false
	}
	return true
}
