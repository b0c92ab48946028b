// Command memoriad is the standalone maintenance daemon: it owns nothing
// about chat or request handling (that lives in the calling application,
// wired directly against the memoria, retrieve, and extract packages) and
// instead drives the one background job every deployment needs regardless
// of frontend — draining the embedding backlog a store-time inline embed
// attempt left behind, and reclaiming rows a crashed worker stranded in
// "processing".
//
// See the memoria package doc for a map of the pieces wired here.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quietloop/memoria"
	"github.com/quietloop/memoria/backfill"
	"github.com/quietloop/memoria/fingerprint"
	"github.com/quietloop/memoria/internal/config"
	"github.com/quietloop/memoria/provider/embedclient"
	"github.com/quietloop/memoria/provider/openaicompat"
	"github.com/quietloop/memoria/store/postgres"
	"github.com/quietloop/memoria/store/sqlite"
	"github.com/quietloop/memoria/telemetry/otel"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load(os.Getenv("MEMORIA_CONFIG_PATH"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Error("memoriad: build store failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if err := store.Init(ctx); err != nil {
		logger.Error("memoriad: store init failed", "error", err)
		os.Exit(1)
	}
	if err := store.CreateSupersessionConstraint(ctx); err != nil {
		logger.Error("memoriad: supersession constraint failed", "error", err)
		os.Exit(1)
	}

	embedder := buildEmbedder(cfg)

	// The fingerprint classifier is built here only to prove out the
	// config-driven wiring; the calling application's extract.Extractor is
	// what actually calls Classify per conversational turn.
	_ = buildClassifier(cfg)

	var inst *otel.Instruments
	var tracer memoria.Tracer
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		var shutdown func(context.Context) error
		inst, shutdown, err = otel.Init(ctx)
		if err != nil {
			logger.Warn("memoriad: otel init failed, continuing without telemetry", "error", err)
		} else {
			defer shutdown(context.Background())
			tracer = otel.NewTracer()
		}
	}

	workerOpts := []backfill.Option{
		backfill.WithLogger(logger),
		backfill.WithConfig(backfill.Config{
			DefaultLimit:       cfg.Backfill.DefaultLimit,
			DefaultMaxSeconds:  cfg.Backfill.DefaultMaxSeconds,
			RowTimeout:         time.Duration(cfg.Embedding.BackfillTimeoutMs) * time.Millisecond,
			InterRowDelay:      50 * time.Millisecond,
			StaleProcessingAge: time.Duration(cfg.Backfill.StaleProcessingMin) * time.Minute,
		}),
	}
	if tracer != nil {
		workerOpts = append(workerOpts, backfill.WithTracer(tracer))
	}
	worker := backfill.New(store, embedder, workerOpts...)

	logger.Info("memoriad: starting backfill loop", "interval_seconds", cfg.Backfill.IntervalSeconds)
	runLoop(ctx, logger, worker, inst, time.Duration(cfg.Backfill.IntervalSeconds)*time.Second)
	logger.Info("memoriad: shutting down")
}

// runLoop drains the embedding backlog and reclaims stale "processing" rows
// on every tick until ctx is canceled. inst may be nil when telemetry isn't
// configured; Instruments' Record* methods are nil-safe.
func runLoop(ctx context.Context, logger *slog.Logger, worker *backfill.Worker, inst *otel.Instruments, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := func() {
		if n, err := worker.ReclaimStale(ctx); err != nil {
			logger.Error("memoriad: reclaim stale failed", "error", err)
		} else if n > 0 {
			logger.Info("memoriad: reclaimed stale rows", "count", n)
		}

		result, err := worker.Run(ctx, backfill.Options{})
		if err != nil {
			logger.Error("memoriad: backfill run failed", "error", err)
			return
		}
		inst.RecordBackfill(ctx, result)
		if result.Processed > 0 {
			logger.Info("memoriad: backfill tick",
				"processed", result.Processed,
				"succeeded", result.Succeeded,
				"failed", result.Failed,
				"remaining", result.Remaining)
		}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// buildStore constructs the configured Store implementation and a matching
// close function.
func buildStore(ctx context.Context, cfg config.Config) (memoria.Store, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions))
		return st, func() { pool.Close() }, nil
	default:
		st := sqlite.New(cfg.Database.SQLitePath)
		return st, func() { _ = st.Close() }, nil
	}
}

// buildEmbedder constructs the OpenAI-compatible embedding client, wrapped
// with memoria.WithEmbeddingRetry. The client reports HTTP error responses
// as *memoria.ErrEmbeddingFailure, not *memoria.ErrHTTP, so the wrapper's
// 429/503 retry does not fire for them.
func buildEmbedder(cfg config.Config) memoria.EmbeddingProvider {
	client := embedclient.New(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.Dimensions,
		embedclient.WithMaxInputChars(cfg.Embedding.MaxContentChars))
	return memoria.WithEmbeddingRetry(client)
}

// buildClassifier constructs the fingerprint classifier, with the optional
// bounded LLM fallback enabled per config.
func buildClassifier(cfg config.Config) *fingerprint.Classifier {
	if !cfg.Features.ClassifierFallback {
		return fingerprint.New()
	}
	chatProvider := memoria.WithRetry(openaicompat.NewProvider(cfg.Classifier.APIKey, cfg.Classifier.Model, cfg.Classifier.BaseURL))
	return fingerprint.New(fingerprint.WithFallback(fingerprint.NewLLMClassifier(chatProvider)))
}
