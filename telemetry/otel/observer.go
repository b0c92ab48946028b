// Package otel provides OTEL-based observability for memoria's store,
// retrieve, and backfill operations.
//
// It wires up trace, metric, and log providers via OTLP/HTTP exporters and
// exposes an Instruments value whose Record* methods translate a
// memoria.Telemetry or memoria.BackfillResult into metric recordings. Export
// to any OTEL-compatible backend by setting the standard OTEL_EXPORTER_OTLP_*
// env vars.
package otel

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	memorialog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/quietloop/memoria"
)

const scopeName = "github.com/quietloop/memoria/telemetry/otel"

// Instruments holds the OTEL instruments backing memoria's telemetry sink.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger memorialog.Logger

	RetrieveCalls       metric.Int64Counter
	CandidatesConsidered metric.Int64Counter
	VectorsCompared     metric.Int64Counter
	TokensUsed          metric.Int64Counter
	FallbackCount       metric.Int64Counter
	CrossUserFiltered   metric.Int64Counter
	RetrieveDuration    metric.Float64Histogram

	StoreCalls      metric.Int64Counter
	Supersessions   metric.Int64Counter
	StoreDuration   metric.Float64Histogram

	BackfillRuns      metric.Int64Counter
	BackfillProcessed metric.Int64Counter
	BackfillFailed    metric.Int64Counter
	BackfillDuration  metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc). Returns a shutdown function that must
// be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("memoria")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	retrieveCalls, err := meter.Int64Counter("memoria.retrieve.calls",
		metric.WithDescription("Retrieve calls"), metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}
	candidatesConsidered, err := meter.Int64Counter("memoria.retrieve.candidates",
		metric.WithDescription("Candidate memories considered per retrieve call"), metric.WithUnit("{memory}"))
	if err != nil {
		return nil, err
	}
	vectorsCompared, err := meter.Int64Counter("memoria.retrieve.vectors_compared",
		metric.WithDescription("Embedding vectors scored per retrieve call"), metric.WithUnit("{vector}"))
	if err != nil {
		return nil, err
	}
	tokensUsed, err := meter.Int64Counter("memoria.retrieve.tokens_used",
		metric.WithDescription("Tokens spent on injected memories"), metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}
	fallbackCount, err := meter.Int64Counter("memoria.retrieve.fallback",
		metric.WithDescription("Retrieve calls that fell back to unembedded rows"), metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}
	crossUserFiltered, err := meter.Int64Counter("memoria.retrieve.cross_user_filtered",
		metric.WithDescription("Rows filtered by the user-isolation sentinel"), metric.WithUnit("{memory}"))
	if err != nil {
		return nil, err
	}
	retrieveDuration, err := meter.Float64Histogram("memoria.retrieve.duration",
		metric.WithDescription("Retrieve call latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	storeCalls, err := meter.Int64Counter("memoria.store.calls",
		metric.WithDescription("Store calls"), metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}
	supersessions, err := meter.Int64Counter("memoria.store.supersessions",
		metric.WithDescription("Memories superseded by a store call"), metric.WithUnit("{memory}"))
	if err != nil {
		return nil, err
	}
	storeDuration, err := meter.Float64Histogram("memoria.store.duration",
		metric.WithDescription("Store call latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	backfillRuns, err := meter.Int64Counter("memoria.backfill.runs",
		metric.WithDescription("Backfill Run calls"), metric.WithUnit("{call}"))
	if err != nil {
		return nil, err
	}
	backfillProcessed, err := meter.Int64Counter("memoria.backfill.processed",
		metric.WithDescription("Rows processed by backfill"), metric.WithUnit("{memory}"))
	if err != nil {
		return nil, err
	}
	backfillFailed, err := meter.Int64Counter("memoria.backfill.failed",
		metric.WithDescription("Rows that failed embedding during backfill"), metric.WithUnit("{memory}"))
	if err != nil {
		return nil, err
	}
	backfillDuration, err := meter.Float64Histogram("memoria.backfill.duration",
		metric.WithDescription("Backfill Run call duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer: tracer,
		Meter:  meter,
		Logger: logger,

		RetrieveCalls:        retrieveCalls,
		CandidatesConsidered: candidatesConsidered,
		VectorsCompared:      vectorsCompared,
		TokensUsed:           tokensUsed,
		FallbackCount:        fallbackCount,
		CrossUserFiltered:    crossUserFiltered,
		RetrieveDuration:     retrieveDuration,

		StoreCalls:    storeCalls,
		Supersessions: supersessions,
		StoreDuration: storeDuration,

		BackfillRuns:      backfillRuns,
		BackfillProcessed: backfillProcessed,
		BackfillFailed:    backfillFailed,
		BackfillDuration:  backfillDuration,
	}, nil
}

// RecordRetrieve records one retrieve call's telemetry. Safe to call with a
// nil *Instruments (no-op), so callers don't need to guard every call site
// when telemetry wiring is optional.
func (inst *Instruments) RecordRetrieve(ctx context.Context, tel memoria.Telemetry) {
	if inst == nil {
		return
	}
	attrs := metric.WithAttributes(AttrMode.String(string(tel.Mode)))
	inst.RetrieveCalls.Add(ctx, 1, attrs)
	inst.CandidatesConsidered.Add(ctx, int64(tel.CandidatesConsidered), attrs)
	inst.VectorsCompared.Add(ctx, int64(tel.VectorsCompared), attrs)
	inst.TokensUsed.Add(ctx, int64(tel.TokensUsed), attrs)
	inst.CrossUserFiltered.Add(ctx, int64(tel.WrongUserMemoriesFiltered), attrs)
	if tel.FallbackUsed {
		inst.FallbackCount.Add(ctx, 1, metric.WithAttributes(
			AttrMode.String(string(tel.Mode)), AttrFallbackReason.String(tel.FallbackReason)))
	}
	if total, ok := tel.LatencyPhases["total"]; ok {
		inst.RetrieveDuration.Record(ctx, float64(total.Microseconds())/1000.0, attrs)
	}
}

// RecordStore records one store call's supersession count and duration.
func (inst *Instruments) RecordStore(ctx context.Context, mode memoria.Mode, supersessionCount int, duration time.Duration) {
	if inst == nil {
		return
	}
	attrs := metric.WithAttributes(AttrMode.String(string(mode)))
	inst.StoreCalls.Add(ctx, 1, attrs)
	inst.Supersessions.Add(ctx, int64(supersessionCount), attrs)
	inst.StoreDuration.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
}

// RecordBackfill records one backfill Run call's outcome.
func (inst *Instruments) RecordBackfill(ctx context.Context, result memoria.BackfillResult) {
	if inst == nil {
		return
	}
	inst.BackfillRuns.Add(ctx, 1)
	inst.BackfillProcessed.Add(ctx, int64(result.Processed))
	inst.BackfillFailed.Add(ctx, int64(result.Failed))
	inst.BackfillDuration.Record(ctx, result.SecondsElapsed)
}
