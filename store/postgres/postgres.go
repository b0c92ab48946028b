// Package postgres implements memoria.Store using PostgreSQL with pgvector
// for native cosine-distance vector search over an HNSW index.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quietloop/memoria"
)

// minSupersessionConfidence is the fingerprint confidence floor below which
// a store request is always a plain insert, never a supersession.
const minSupersessionConfidence = 0.85

// maxSupersessionRetries bounds the retry loop on serialization failure or
// deadlock during the supersession transaction.
const maxSupersessionRetries = 3

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
	logger             *slog.Logger
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536).
// When set, CREATE TABLE uses vector(N) instead of untyped vector. Only
// affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node). Default:
// pgvector's 16. Only affects index creation.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Default: pgvector's 64. Only affects index creation.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Default: pgvector's 40. Applied via SET on every Init.
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

// WithLogger sets the structured logger used for store operations.
// Defaults to a no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *pgConfig) { c.logger = l }
}

var nopLogger = slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Store implements memoria.Store backed by PostgreSQL with pgvector.
// Vector search uses an HNSW index with cosine distance.
type Store struct {
	pool   *pgxpool.Pool
	cfg    pgConfig
	logger *slog.Logger
}

var _ memoria.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	cfg := pgConfig{embeddingDimension: memoria.EmbeddingDimensions}
	for _, o := range opts {
		o(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = nopLogger
	}
	return &Store{pool: pool, cfg: cfg, logger: logger}
}

func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, the memories table, its ANN index,
// and the supersession constraint. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			mode VARCHAR NOT NULL DEFAULT 'truth-general',
			category VARCHAR,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			embedding %s,
			embedding_status VARCHAR NOT NULL DEFAULT 'pending',
			embedding_model VARCHAR,
			embedding_updated_at TIMESTAMPTZ,
			fact_fingerprint TEXT,
			fingerprint_confidence DOUBLE PRECISION,
			is_current BOOLEAN NOT NULL DEFAULT TRUE,
			superseded_by BIGINT REFERENCES memories(id),
			superseded_at TIMESTAMPTZ,
			relevance_score DOUBLE PRECISION DEFAULT 0.5,
			usage_frequency INTEGER DEFAULT 0,
			last_accessed TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT now(),
			metadata JSONB
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS memories_user_mode_idx ON memories(user_id, mode, is_current)`,
		`CREATE INDEX IF NOT EXISTS memories_created_idx ON memories(created_at)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memories_embedding_idx ON memories USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			s.logger.Error("postgres: init failed", "error", err, "duration", time.Since(start))
			return &memoria.ErrInternal{Op: "postgres.Init", Cause: err}
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return &memoria.ErrInternal{Op: "postgres.Init", Cause: err}
		}
	}

	if err := s.CreateSupersessionConstraint(ctx); err != nil {
		return err
	}

	s.logger.Info("postgres: init completed", "duration", time.Since(start))
	return nil
}

// CreateSupersessionConstraint creates the partial unique index enforcing
// at most one current row per (user_id, fact_fingerprint), mode-less per
// the fact-identity rule: a fingerprint belongs to the user, not to a mode.
func (s *Store) CreateSupersessionConstraint(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS memories_current_fingerprint_idx
		 ON memories (user_id, fact_fingerprint)
		 WHERE is_current AND fact_fingerprint IS NOT NULL`)
	if err != nil {
		return &memoria.ErrInternal{Op: "postgres.CreateSupersessionConstraint", Cause: err}
	}
	return nil
}

// Store inserts req, running the supersession transaction when the safety
// gate passes: fingerprint present, not "none", confidence >= 0.85, value
// signature true. Otherwise it behaves like StoreWithoutSupersession.
func (s *Store) Store(ctx context.Context, req memoria.MemoryRequest) (memoria.StoreResult, error) {
	if req.UserID == "" {
		return memoria.StoreResult{}, &memoria.ErrInvalidInput{Field: "user_id", Reason: "must not be empty"}
	}
	if req.Content == "" {
		return memoria.StoreResult{}, &memoria.ErrInvalidInput{Field: "content", Reason: "must not be empty"}
	}

	if !req.Fingerprint.Present() || req.Fingerprint.Confidence < minSupersessionConfidence {
		id, err := s.StoreWithoutSupersession(ctx, req)
		if err != nil {
			return memoria.StoreResult{}, err
		}
		return memoria.StoreResult{ID: id, Fingerprint: req.Fingerprint.Key}, nil
	}

	var result memoria.StoreResult
	var lastErr error
	for attempt := 0; attempt < maxSupersessionRetries; attempt++ {
		result, lastErr = s.supersedeOnce(ctx, req)
		if lastErr == nil {
			return result, nil
		}
		if !isSerializationFailure(lastErr) {
			return memoria.StoreResult{}, lastErr
		}
		s.logger.Warn("postgres: supersession retry", "user_id", req.UserID, "fingerprint", req.Fingerprint.Key, "attempt", attempt+1)
	}
	return memoria.StoreResult{}, &memoria.ErrSupersessionConflict{
		UserID:      req.UserID,
		Fingerprint: req.Fingerprint.Key,
		Attempts:    maxSupersessionRetries,
	}
}

func (s *Store) supersedeOnce(ctx context.Context, req memoria.MemoryRequest) (memoria.StoreResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "postgres.supersedeOnce.begin", Cause: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx,
		`SELECT id FROM memories
		 WHERE user_id = $1 AND fact_fingerprint = $2 AND is_current
		 FOR UPDATE`,
		req.UserID, req.Fingerprint.Key)
	if err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "postgres.supersedeOnce.lock", Cause: err}
	}
	var superseded []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return memoria.StoreResult{}, &memoria.ErrInternal{Op: "postgres.supersedeOnce.scan", Cause: err}
		}
		superseded = append(superseded, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "postgres.supersedeOnce.rows", Cause: err}
	}

	metaJSON, err := marshalMetadata(req.Metadata)
	if err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "postgres.supersedeOnce.marshal", Cause: err}
	}

	if len(superseded) > 0 {
		_, err = tx.Exec(ctx, `UPDATE memories SET is_current = FALSE WHERE id = ANY($1)`, superseded)
		if err != nil {
			return memoria.StoreResult{}, &memoria.ErrInternal{Op: "postgres.supersedeOnce.retire", Cause: err}
		}
	}

	var newID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO memories (user_id, mode, category, content, token_count, fact_fingerprint, fingerprint_confidence, is_current, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8::jsonb)
		 RETURNING id`,
		req.UserID, string(req.Mode), req.Category, req.Content, req.TokenCount, req.Fingerprint.Key, req.Fingerprint.Confidence, metaJSON,
	).Scan(&newID)
	if err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "postgres.supersedeOnce.insert", Cause: err}
	}

	if len(superseded) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE memories SET superseded_by = $1, superseded_at = now()
			 WHERE id = ANY($2)`,
			newID, superseded)
		if err != nil {
			return memoria.StoreResult{}, &memoria.ErrInternal{Op: "postgres.supersedeOnce.supersede", Cause: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "postgres.supersedeOnce.commit", Cause: err}
	}

	return memoria.StoreResult{ID: newID, SupersededIDs: superseded, Fingerprint: req.Fingerprint.Key}, nil
}

// isSerializationFailure reports whether err is a Postgres serialization
// failure (40001) or deadlock (40P01), both retryable per the supersession
// transaction's retry policy.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// StoreWithoutSupersession inserts req as a new, current row with no effect
// on any other row.
func (s *Store) StoreWithoutSupersession(ctx context.Context, req memoria.MemoryRequest) (int64, error) {
	if req.UserID == "" {
		return 0, &memoria.ErrInvalidInput{Field: "user_id", Reason: "must not be empty"}
	}
	metaJSON, err := marshalMetadata(req.Metadata)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "postgres.StoreWithoutSupersession.marshal", Cause: err}
	}

	var fingerprint *string
	var confidence *float64
	if req.Fingerprint.Key != "" {
		fingerprint = &req.Fingerprint.Key
		confidence = &req.Fingerprint.Confidence
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO memories (user_id, mode, category, content, token_count, fact_fingerprint, fingerprint_confidence, is_current, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8::jsonb)
		 RETURNING id`,
		req.UserID, string(req.Mode), req.Category, req.Content, req.TokenCount, fingerprint, confidence, metaJSON,
	).Scan(&id)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "postgres.StoreWithoutSupersession.insert", Cause: err}
	}
	return id, nil
}

// MarkEmbedding records the outcome of an embedding attempt.
func (s *Store) MarkEmbedding(ctx context.Context, id int64, status memoria.EmbeddingStatus, vector []float32, model string) error {
	if status != memoria.EmbeddingReady {
		_, err := s.pool.Exec(ctx,
			`UPDATE memories SET embedding_status = $1, embedding = NULL, embedding_model = NULL, embedding_updated_at = now() WHERE id = $2`,
			string(status), id)
		if err != nil {
			return &memoria.ErrInternal{Op: "postgres.MarkEmbedding", Cause: err}
		}
		return nil
	}

	if len(vector) != memoria.EmbeddingDimensions {
		return &memoria.ErrInvalidInput{Field: "vector", Reason: fmt.Sprintf("must have %d dimensions, got %d", memoria.EmbeddingDimensions, len(vector))}
	}
	embStr := serializeEmbedding(vector)
	_, err := s.pool.Exec(ctx,
		`UPDATE memories SET embedding_status = 'ready', embedding = $1::vector, embedding_model = $2, embedding_updated_at = now() WHERE id = $3`,
		embStr, model, id)
	if err != nil {
		return &memoria.ErrInternal{Op: "postgres.MarkEmbedding", Cause: err}
	}
	return nil
}

// FindByFingerprint returns every row for (user, fingerprint), oldest first.
func (s *Store) FindByFingerprint(ctx context.Context, user, fingerprint string) ([]memoria.Memory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+`
		 FROM memories WHERE user_id = $1 AND fact_fingerprint = $2
		 ORDER BY created_at ASC`,
		user, fingerprint)
	if err != nil {
		return nil, &memoria.ErrInternal{Op: "postgres.FindByFingerprint", Cause: err}
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetCandidates runs the Stage 2 SQL prefilter.
func (s *Store) GetCandidates(ctx context.Context, pf memoria.Prefilter) ([]memoria.Memory, error) {
	if pf.UserID == "" {
		return nil, &memoria.ErrInvalidInput{Field: "user_id", Reason: "must not be empty"}
	}

	clauses := []string{"user_id = $1"}
	args := []any{pf.UserID}
	next := 2

	if !pf.IncludeHistory {
		clauses = append(clauses, "is_current")
	}

	if pf.Mode != memoria.ModeVault && !pf.IncludeAllModes {
		if pf.AllowCrossMode {
			clauses = append(clauses, fmt.Sprintf("mode IN ($%d, $%d)", next, next+1))
			args = append(args, string(pf.Mode), string(memoria.ModeGeneral))
			next += 2
		} else {
			clauses = append(clauses, fmt.Sprintf("mode = $%d", next))
			args = append(args, string(pf.Mode))
			next++
		}
	}

	if len(pf.Categories) > 0 {
		clauses = append(clauses, fmt.Sprintf("category = ANY($%d)", next))
		args = append(args, pf.Categories)
		next++
	}

	limit := pf.MaxCandidates
	if limit <= 0 {
		limit = 200
	}

	q := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY relevance_score DESC, created_at DESC LIMIT $%d`,
		memoryColumns, strings.Join(clauses, " AND "), next)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, &memoria.ErrInternal{Op: "postgres.GetCandidates", Cause: err}
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetRecentUnembedded returns rows created within `within` whose embedding
// is not yet ready, for Stage 2c's lag augmentation.
func (s *Store) GetRecentUnembedded(ctx context.Context, user string, modes []memoria.Mode, within time.Duration) ([]memoria.Memory, error) {
	modeStrs := make([]string, len(modes))
	for i, m := range modes {
		modeStrs[i] = string(m)
	}
	since := time.Now().Add(-within)

	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+`
		 FROM memories
		 WHERE user_id = $1 AND embedding_status != 'ready' AND created_at >= $2
		   AND (cardinality($3::text[]) = 0 OR mode = ANY($3))
		 ORDER BY created_at DESC`,
		user, since, modeStrs)
	if err != nil {
		return nil, &memoria.ErrInternal{Op: "postgres.GetRecentUnembedded", Cause: err}
	}
	defer rows.Close()
	return scanMemories(rows)
}

// AdaptiveUpdate fires a non-blocking update of usage_frequency,
// relevance_score, and last_accessed for ids. Errors are logged, never
// propagated.
func (s *Store) AdaptiveUpdate(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, err := s.pool.Exec(bg,
			`UPDATE memories SET usage_frequency = usage_frequency + 1,
			   relevance_score = LEAST(relevance_score + 0.02, 1.0),
			   last_accessed = now()
			 WHERE id = ANY($1)`, ids)
		if err != nil {
			s.logger.Warn("postgres: adaptive update failed", "error", err, "count", len(ids))
		}
	}()
}

// ReclaimStaleProcessing resets rows stuck in "processing" back to
// "pending".
func (s *Store) ReclaimStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET embedding_status = 'pending'
		 WHERE embedding_status = 'processing' AND embedding_updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "postgres.ReclaimStaleProcessing", Cause: err}
	}
	return int(tag.RowsAffected()), nil
}

// ClaimNextForEmbedding selects the newest row with no embedding whose
// status is one of statuses, atomically marks it "processing" so no other
// worker can pick it up, and returns it. ok is false once nothing remains.
func (s *Store) ClaimNextForEmbedding(ctx context.Context, statuses []memoria.EmbeddingStatus) (memoria.Memory, bool, error) {
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE memories SET embedding_status = 'processing', embedding_updated_at = now()
		 WHERE id = (
			SELECT id FROM memories
			WHERE embedding IS NULL AND embedding_status = ANY($1) AND content IS NOT NULL
			ORDER BY created_at DESC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		 )
		 RETURNING `+memoryColumns,
		statusStrs)

	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memoria.Memory{}, false, nil
		}
		return memoria.Memory{}, false, &memoria.ErrInternal{Op: "postgres.ClaimNextForEmbedding", Cause: err}
	}
	return m, true, nil
}

// CountUnembedded reports how many rows still have no embedding and a
// status in statuses.
func (s *Store) CountUnembedded(ctx context.Context, statuses []memoria.EmbeddingStatus) (int, error) {
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM memories WHERE embedding IS NULL AND embedding_status = ANY($1) AND content IS NOT NULL`,
		statusStrs).Scan(&n)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "postgres.CountUnembedded", Cause: err}
	}
	return n, nil
}

// AppendEmbeddingError merges {embedding_error, error_time} into id's
// metadata, recording the cause of a backfill failure.
func (s *Store) AppendEmbeddingError(ctx context.Context, id int64, message string) error {
	patch, err := json.Marshal(map[string]any{
		"embedding_error": message,
		"error_time":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return &memoria.ErrInternal{Op: "postgres.AppendEmbeddingError", Cause: err}
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE memories SET metadata = coalesce(metadata, '{}'::jsonb) || $1::jsonb WHERE id = $2`,
		patch, id)
	if err != nil {
		return &memoria.ErrInternal{Op: "postgres.AppendEmbeddingError", Cause: err}
	}
	return nil
}

// DecayStale reduces relevance_score for memories not accessed recently.
func (s *Store) DecayStale(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE memories SET relevance_score = relevance_score * 0.97
		 WHERE is_current AND (last_accessed IS NULL OR last_accessed < now() - INTERVAL '7 days')
		   AND relevance_score > 0.05`)
	if err != nil {
		return &memoria.ErrInternal{Op: "postgres.DecayStale", Cause: err}
	}
	return nil
}

// CleanupDuplicateCurrentFacts repairs pre-existing violations of the
// one-current-fact invariant by keeping the newest current row per
// fingerprint and marking the rest superseded.
func (s *Store) CleanupDuplicateCurrentFacts(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		WITH ranked AS (
			SELECT id, user_id, fact_fingerprint,
			       ROW_NUMBER() OVER (PARTITION BY user_id, fact_fingerprint ORDER BY created_at DESC) AS rn
			FROM memories
			WHERE is_current AND fact_fingerprint IS NOT NULL
		),
		losers AS (
			SELECT r.id, w.id AS winner_id
			FROM ranked r
			JOIN ranked w ON w.user_id = r.user_id AND w.fact_fingerprint = r.fact_fingerprint AND w.rn = 1
			WHERE r.rn > 1
		)
		UPDATE memories m SET is_current = FALSE, superseded_by = losers.winner_id, superseded_at = now()
		FROM losers WHERE m.id = losers.id`)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "postgres.CleanupDuplicateCurrentFacts", Cause: err}
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error { return nil }

const memoryColumns = `id, user_id, mode, category, content, token_count, embedding::text, embedding_status, embedding_model,
	embedding_updated_at, fact_fingerprint, fingerprint_confidence, is_current, superseded_by, superseded_at,
	relevance_score, usage_frequency, last_accessed, created_at, metadata`

func scanMemories(rows pgx.Rows) ([]memoria.Memory, error) {
	var out []memoria.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both pgx.Rows and pgx.Row; scanMemory only
// needs Scan, so either can back a single-row or multi-row query.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(rows rowScanner) (memoria.Memory, error) {
	var m memoria.Memory
	var mode, embStatus string
	var category, embModel, fingerprint, embText *string
	var confidence *float64
	var metaJSON []byte

	err := rows.Scan(
		&m.ID, &m.UserID, &mode, &category, &m.Content, &m.TokenCount, &embText, &embStatus, &embModel,
		&m.EmbeddingUpdatedAt, &fingerprint, &confidence, &m.IsCurrent, &m.SupersededBy, &m.SupersededAt,
		&m.RelevanceScore, &m.UsageFrequency, &m.LastAccessed, &m.CreatedAt, &metaJSON,
	)
	if err != nil {
		return memoria.Memory{}, &memoria.ErrInternal{Op: "postgres.scanMemory", Cause: err}
	}

	m.Mode = memoria.Mode(mode)
	m.EmbeddingStatus = memoria.EmbeddingStatus(embStatus)
	if category != nil {
		m.Category = *category
	}
	if embModel != nil {
		m.EmbeddingModel = *embModel
	}
	if fingerprint != nil {
		m.FactFingerprint = *fingerprint
	}
	if confidence != nil {
		m.FingerprintConfidence = *confidence
	}
	if embText != nil {
		if vec, err := deserializeEmbedding(*embText); err == nil {
			m.Embedding = vec
		}
	}
	if metaJSON != nil {
		_ = unmarshalMetadata(metaJSON, &m.Metadata)
	}
	return m, nil
}

// deserializeEmbedding parses pgvector's text output format, e.g.
// "[0.1,0.2,0.3]", into a []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		vec[i] = float32(v)
	}
	return vec, nil
}

// serializeEmbedding converts []float32 to pgvector's text input format,
// e.g. "[0.1,0.2,0.3]".
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
