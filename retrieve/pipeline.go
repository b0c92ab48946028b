package retrieve

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/quietloop/memoria"
	"github.com/quietloop/memoria/tokencount"
)

// discardWriter is an io.Writer that drops everything written to it,
// backing the default no-op logger the same way the store packages do.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

var nopLogger = slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))

// QueryCache is the narrow interface Pipeline needs from querycache.Cache,
// letting tests substitute a fake without importing the LRU dependency.
type QueryCache interface {
	Get(userID, query string) ([]float32, bool)
	Set(userID, query string, vector []float32)
}

// Pipeline runs the retrieval pipeline described in the component design:
// domain detection, query embedding, SQL prefilter, scoring, boosts,
// threshold/sort, and token-budget selection.
type Pipeline struct {
	store    memoria.Store
	embedder memoria.EmbeddingProvider
	counter  *tokencount.Counter
	cache    QueryCache
	tracer   memoria.Tracer
	logger   *slog.Logger
	cfg      Config
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracer sets the tracer used to emit spans for each retrieval call.
func WithTracer(t memoria.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithQueryCache enables the per-user query-embedding cache.
func WithQueryCache(c QueryCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithTokenCounter overrides the default tokencount.Counter.
func WithTokenCounter(c *tokencount.Counter) Option {
	return func(p *Pipeline) { p.counter = c }
}

// New creates a Pipeline backed by store and embedder.
func New(store memoria.Store, embedder memoria.EmbeddingProvider, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		embedder: embedder,
		counter:  tokencount.New(),
		logger:   nopLogger,
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Retrieve runs the full pipeline for opts and returns the selected
// memories plus telemetry. Telemetry is always populated, including on
// early-exit and error paths.
func (p *Pipeline) Retrieve(ctx context.Context, opts memoria.RetrieveOptions) (memoria.RetrieveResult, error) {
	start := time.Now()
	phases := make(map[string]time.Duration)
	tel := memoria.Telemetry{
		Method:      "retrieve",
		QueryLength: len(opts.Query),
		Mode:        opts.Mode,
		Categories:  opts.Categories,
		TokenBudget: opts.TokenBudget,
	}

	var span memoria.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "retrieve.retrieve", memoria.StringAttr("user_id", opts.User), memoria.StringAttr("mode", string(opts.Mode)))
		defer span.End()
	}

	user := strings.TrimSpace(opts.User)
	if user == "" {
		tel.Error = "invalid input: user is required"
		tel.LatencyPhases = phases
		return memoria.RetrieveResult{Telemetry: tel, Success: false}, &memoria.ErrInvalidInput{Field: "user", Reason: "must be a non-empty string"}
	}

	query := strings.TrimSpace(opts.Query)
	if query == "" {
		tel.Error = "invalid input: query is required"
		tel.LatencyPhases = phases
		return memoria.RetrieveResult{Telemetry: tel, Success: false}, &memoria.ErrInvalidInput{Field: "query", Reason: "must be a non-empty string"}
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = p.cfg.DefaultTopK
	}
	tokenBudget := opts.TokenBudget
	if tokenBudget <= 0 {
		tokenBudget = p.cfg.DefaultTokenBudget
	}

	// Stage 0: domain & recall detection.
	stage0 := time.Now()
	qctx := newQueryContext(query)
	categories := unionCategories(opts.Categories, qctx.safetyDomains)
	tel.SafetyCriticalDetected = qctx.safetyHit
	tel.Categories = categories
	phases["stage0_domain"] = time.Since(stage0)

	// Stage 1: embed query.
	stage1 := time.Now()
	vector, err := p.embedQuery(ctx, user, qctx.embeddingText)
	phases["stage1_embed"] = time.Since(stage1)
	if err != nil {
		tel.Error = err.Error()
		tel.LatencyPhases = phases
		if span != nil {
			span.Error(err)
		}
		return memoria.RetrieveResult{Telemetry: tel, Success: false}, err
	}

	// Stage 2: SQL prefilter.
	stage2 := time.Now()
	pf := memoria.Prefilter{
		UserID:          user,
		Mode:            opts.Mode,
		AllowCrossMode:  opts.AllowCrossMode,
		IncludeAllModes: opts.IncludeAllModes,
		Categories:      categories,
		MaxCandidates:   p.cfg.MaxCandidates,
	}
	candidates, err := p.store.GetCandidates(ctx, pf)
	phases["stage2_prefilter"] = time.Since(stage2)
	if err != nil {
		wrapped := &memoria.ErrInternal{Op: "retrieve.prefilter", Cause: err}
		tel.Error = wrapped.Error()
		tel.LatencyPhases = phases
		if span != nil {
			span.Error(wrapped)
		}
		return memoria.RetrieveResult{Telemetry: tel, Success: false}, wrapped
	}

	// Stage 2b: user-isolation sentinel.
	candidates, filtered := p.sentinelFilter(candidates, user)
	tel.WrongUserMemoriesFiltered = filtered

	// Stage 2c: embedding-lag augmentation.
	stage2c := time.Now()
	modes := lagModes(opts.Mode, opts.AllowCrossMode, opts.IncludeAllModes)
	lagRows, lagErr := p.store.GetRecentUnembedded(ctx, user, modes, p.cfg.EmbeddingLagWindow)
	phases["stage2c_lag"] = time.Since(stage2c)
	if lagErr != nil {
		p.logger.Warn("retrieve: lag augmentation failed", "error", lagErr, "user_id", user)
		lagRows = nil
	}
	lagRows, lagFiltered := p.sentinelFilter(lagRows, user)
	tel.WrongUserMemoriesFiltered += lagFiltered

	tel.CandidatesConsidered = len(candidates) + len(lagRows)

	if len(candidates) == 0 && len(lagRows) == 0 {
		tel.LatencyPhases = phases
		return memoria.RetrieveResult{Telemetry: tel, Success: true}, nil
	}

	fallback := len(candidates) == 0 && len(lagRows) > 0
	if fallback {
		tel.FallbackUsed = true
		tel.FallbackReason = "embedding_missing"
	}

	// Stage 3: scoring.
	stage3 := time.Now()
	scored := make([]memoria.ScoredMemory, 0, len(candidates)+len(lagRows))
	embeddedCount, vectorsCompared := 0, 0
	for _, m := range candidates {
		if len(m.Embedding) == 0 || m.EmbeddingStatus != memoria.EmbeddingReady {
			continue
		}
		embeddedCount++
		vectorsCompared++
		sim := cosineSimilarity(vector, m.Embedding)
		score, safetyBoosted := applyBoosts(m, sim, qctx, p.cfg)
		if safetyBoosted {
			tel.SafetyMemoriesBoosted++
		}
		scored = append(scored, memoria.ScoredMemory{Memory: m, Score: score})
	}
	for _, m := range lagRows {
		sim := heuristicScore(query, m.Content, m.CreatedAt, qctx.recallMode, m.Metadata.ExplicitStorageRequest())
		score, safetyBoosted := applyBoosts(m, sim, qctx, p.cfg)
		if safetyBoosted {
			tel.SafetyMemoriesBoosted++
		}
		scored = append(scored, memoria.ScoredMemory{Memory: m, Score: score})
	}
	tel.CandidatesWithEmbedding = embeddedCount
	tel.VectorsCompared = vectorsCompared
	phases["stage3_scoring"] = time.Since(stage3)

	// Stage 5: threshold & sort (stage 4 boosts were applied inline above).
	threshold := effectiveMinSimilarity(qctx, p.cfg)
	above := scored[:0]
	for _, sm := range scored {
		if sm.Score >= threshold {
			above = append(above, sm)
		}
	}
	sort.SliceStable(above, func(i, j int) bool { return above[i].Score > above[j].Score })
	tel.CandidatesAboveThreshold = len(above)

	resultCap := topK
	if fallback && resultCap > p.cfg.FallbackMaxResults {
		resultCap = p.cfg.FallbackMaxResults
	}

	// Stage 6: token-budget selection.
	selected, tokensUsed := selectWithinBudget(above, resultCap, tokenBudget, p.counter, p.cfg.DefaultEmbeddingModel)
	tel.ResultsInjected = len(selected)
	tel.TokensUsed = tokensUsed
	ids := make([]int64, len(selected))
	topScores := make([]float64, len(selected))
	for i, sm := range selected {
		ids[i] = sm.ID
		topScores[i] = sm.Score
	}
	tel.InjectedIDs = ids
	tel.TopScores = topScores

	// Stage 7: adaptive update, detached and non-blocking.
	if len(ids) > 0 {
		detached := context.WithoutCancel(ctx)
		go p.store.AdaptiveUpdate(detached, ids)
	}

	phases["total"] = time.Since(start)
	tel.LatencyPhases = phases
	return memoria.RetrieveResult{Memories: selected, Telemetry: tel, Success: true}, nil
}

// embedQuery checks the query-embedding cache before calling the embedder,
// and populates the cache on a miss.
func (p *Pipeline) embedQuery(ctx context.Context, user, text string) ([]float32, error) {
	if p.cache != nil {
		if v, ok := p.cache.Get(user, text); ok {
			return v, nil
		}
	}

	embedCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryEmbeddingTimeout)
	defer cancel()

	res, err := p.embedder.Embed(embedCtx, text)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Set(user, text, res.Vector)
	}
	return res.Vector, nil
}

// sentinelFilter implements Stage 2b: drop any row whose UserID does not
// match user, returning the filtered slice and the count removed. A match
// here means Store.GetCandidates' own user_id filter has a bug, so every
// occurrence is logged as a cross-user leak rather than silently dropped.
func (p *Pipeline) sentinelFilter(rows []memoria.Memory, user string) ([]memoria.Memory, int) {
	filtered := 0
	out := rows[:0]
	for _, m := range rows {
		if m.UserID != user {
			filtered++
			p.logger.Error("retrieve: cross-user leak filtered",
				"error", &memoria.ErrCrossUserLeak{RequestedUser: user, ActualUser: m.UserID, MemoryID: m.ID})
			continue
		}
		out = append(out, m)
	}
	return out, filtered
}

// lagModes returns the set of modes Stage 2c should query, matching the
// same visibility rule Stage 2's SQL filter applies.
func lagModes(mode memoria.Mode, allowCrossMode, includeAllModes bool) []memoria.Mode {
	if mode == memoria.ModeVault || includeAllModes {
		return nil
	}
	if allowCrossMode {
		return []memoria.Mode{mode, memoria.ModeGeneral}
	}
	return []memoria.Mode{mode}
}

// selectWithinBudget implements Stage 6: iterate the sorted, thresholded
// list, adding a memory only if it fits the remaining token budget,
// stopping at resultCap or when the budget is exhausted.
func selectWithinBudget(sorted []memoria.ScoredMemory, resultCap, tokenBudget int, counter *tokencount.Counter, model string) ([]memoria.ScoredMemory, int) {
	selected := make([]memoria.ScoredMemory, 0, resultCap)
	used := 0
	for _, sm := range sorted {
		if len(selected) >= resultCap {
			break
		}
		tc := sm.TokenCount
		if tc == 0 {
			tc = counter.Count(model, sm.Content)
		}
		if used+tc > tokenBudget {
			continue
		}
		used += tc
		selected = append(selected, sm)
	}
	return selected, used
}
