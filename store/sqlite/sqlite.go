// Package sqlite implements memoria.Store using pure-Go SQLite with
// in-process brute-force vector search. Zero CGO required.
//
// The one-current-fact invariant is enforced the same way as the
// PostgreSQL store's partial unique index: SQLite supports partial
// indexes natively, so the constraint is a single CREATE UNIQUE INDEX
// statement. Supersession runs inside a BEGIN IMMEDIATE transaction,
// which acquires SQLite's write lock up front instead of at first write,
// so two concurrent supersessions for the same fingerprint serialize
// rather than racing to commit.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quietloop/memoria"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const (
	minSupersessionConfidence = 0.85
	maxSupersessionRetries    = 3
)

// Option configures a SQLite Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store. Defaults to a no-op
// logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

var nopLogger = slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Store implements memoria.Store backed by a local SQLite file. Embeddings
// are stored as JSON-text arrays and similarity search is brute-force
// cosine similarity in process.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ memoria.Store = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath. It opens a
// single shared connection with SetMaxOpenConns(1) so every goroutine
// serializes through one connection, which is what lets a plain BEGIN
// IMMEDIATE behave like a real lock rather than racing independent
// connections into SQLITE_BUSY.
func New(dbPath string, opts ...Option) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the schema, indexes, and the supersession constraint.
// Idempotent.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'truth-general',
			category TEXT,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			embedding TEXT,
			embedding_status TEXT NOT NULL DEFAULT 'pending',
			embedding_model TEXT,
			embedding_updated_at TEXT,
			fact_fingerprint TEXT,
			fingerprint_confidence REAL,
			is_current INTEGER NOT NULL DEFAULT 1,
			superseded_by INTEGER REFERENCES memories(id),
			superseded_at TEXT,
			relevance_score REAL DEFAULT 0.5,
			usage_frequency INTEGER DEFAULT 0,
			last_accessed TEXT,
			created_at TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS memories_user_mode_idx ON memories(user_id, mode, is_current)`,
		`CREATE INDEX IF NOT EXISTS memories_created_idx ON memories(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("sqlite: init failed", "error", err, "duration", time.Since(start))
			return &memoria.ErrInternal{Op: "sqlite.Init", Cause: err}
		}
	}
	if err := s.CreateSupersessionConstraint(ctx); err != nil {
		return err
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// CreateSupersessionConstraint creates the partial unique index enforcing
// at most one current row per (user_id, fact_fingerprint), mode-less.
func (s *Store) CreateSupersessionConstraint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS memories_current_fingerprint_idx
		 ON memories (user_id, fact_fingerprint)
		 WHERE is_current = 1 AND fact_fingerprint IS NOT NULL`)
	if err != nil {
		return &memoria.ErrInternal{Op: "sqlite.CreateSupersessionConstraint", Cause: err}
	}
	return nil
}

// Store inserts req, running the supersession transaction when the safety
// gate passes. Otherwise it behaves like StoreWithoutSupersession.
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
		if !isBusy(lastErr) {
			return memoria.StoreResult{}, lastErr
		}
		s.logger.Warn("sqlite: supersession retry", "user_id", req.UserID, "fingerprint", req.Fingerprint.Key, "attempt", attempt+1)
	}
	return memoria.StoreResult{}, &memoria.ErrSupersessionConflict{
		UserID:      req.UserID,
		Fingerprint: req.Fingerprint.Key,
		Attempts:    maxSupersessionRetries,
	}
}

func (s *Store) supersedeOnce(ctx context.Context, req memoria.MemoryRequest) (result memoria.StoreResult, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.conn", Cause: err}
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.begin", Cause: err}
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	rows, err := conn.QueryContext(ctx,
		`SELECT id FROM memories WHERE user_id = ? AND fact_fingerprint = ? AND is_current = 1`,
		req.UserID, req.Fingerprint.Key)
	if err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.lock", Cause: err}
	}
	var superseded []int64
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.scan", Cause: err}
		}
		superseded = append(superseded, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.rows", Cause: err}
	}

	metaJSON, err := marshalMetadata(req.Metadata)
	if err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.marshal", Cause: err}
	}

	for _, id := range superseded {
		if _, err = conn.ExecContext(ctx, `UPDATE memories SET is_current = 0 WHERE id = ?`, id); err != nil {
			return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.retire", Cause: err}
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := conn.ExecContext(ctx,
		`INSERT INTO memories (user_id, mode, category, content, token_count, fact_fingerprint, fingerprint_confidence, is_current, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		req.UserID, string(req.Mode), req.Category, req.Content, req.TokenCount, req.Fingerprint.Key, req.Fingerprint.Confidence, now, metaJSON)
	if err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.insert", Cause: err}
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.lastid", Cause: err}
	}

	if len(superseded) > 0 {
		placeholders := strings.Repeat("?,", len(superseded))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(superseded)+2)
		args = append(args, newID, now)
		for _, id := range superseded {
			args = append(args, id)
		}
		_, err = conn.ExecContext(ctx,
			fmt.Sprintf(`UPDATE memories SET superseded_by = ?, superseded_at = ? WHERE id IN (%s)`, placeholders),
			args...)
		if err != nil {
			return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.supersede", Cause: err}
		}
	}

	if _, err = conn.ExecContext(ctx, "COMMIT"); err != nil {
		return memoria.StoreResult{}, &memoria.ErrInternal{Op: "sqlite.supersedeOnce.commit", Cause: err}
	}
	committed = true

	return memoria.StoreResult{ID: newID, SupersededIDs: superseded, Fingerprint: req.Fingerprint.Key}, nil
}

// isBusy reports whether err is a SQLite SQLITE_BUSY/SQLITE_LOCKED
// condition, both retryable per the supersession transaction's retry
// policy.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// StoreWithoutSupersession inserts req as a new, current row with no effect
// on any other row.
func (s *Store) StoreWithoutSupersession(ctx context.Context, req memoria.MemoryRequest) (int64, error) {
	if req.UserID == "" {
		return 0, &memoria.ErrInvalidInput{Field: "user_id", Reason: "must not be empty"}
	}
	metaJSON, err := marshalMetadata(req.Metadata)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "sqlite.StoreWithoutSupersession.marshal", Cause: err}
	}

	var fingerprint *string
	var confidence *float64
	if req.Fingerprint.Key != "" {
		fingerprint = &req.Fingerprint.Key
		confidence = &req.Fingerprint.Confidence
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (user_id, mode, category, content, token_count, fact_fingerprint, fingerprint_confidence, is_current, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		req.UserID, string(req.Mode), req.Category, req.Content, req.TokenCount, fingerprint, confidence, now, metaJSON)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "sqlite.StoreWithoutSupersession.insert", Cause: err}
	}
	return res.LastInsertId()
}

// MarkEmbedding records the outcome of an embedding attempt.
func (s *Store) MarkEmbedding(ctx context.Context, id int64, status memoria.EmbeddingStatus, vector []float32, model string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if status != memoria.EmbeddingReady {
		_, err := s.db.ExecContext(ctx,
			`UPDATE memories SET embedding_status = ?, embedding = NULL, embedding_model = NULL, embedding_updated_at = ? WHERE id = ?`,
			string(status), now, id)
		if err != nil {
			return &memoria.ErrInternal{Op: "sqlite.MarkEmbedding", Cause: err}
		}
		return nil
	}

	if len(vector) != memoria.EmbeddingDimensions {
		return &memoria.ErrInvalidInput{Field: "vector", Reason: fmt.Sprintf("must have %d dimensions, got %d", memoria.EmbeddingDimensions, len(vector))}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding_status = 'ready', embedding = ?, embedding_model = ?, embedding_updated_at = ? WHERE id = ?`,
		serializeEmbedding(vector), model, now, id)
	if err != nil {
		return &memoria.ErrInternal{Op: "sqlite.MarkEmbedding", Cause: err}
	}
	return nil
}

// FindByFingerprint returns every row for (user, fingerprint), oldest first.
func (s *Store) FindByFingerprint(ctx context.Context, user, fingerprint string) ([]memoria.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = ? AND fact_fingerprint = ? ORDER BY created_at ASC`,
		user, fingerprint)
	if err != nil {
		return nil, &memoria.ErrInternal{Op: "sqlite.FindByFingerprint", Cause: err}
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetCandidates runs the Stage 2 SQL prefilter.
func (s *Store) GetCandidates(ctx context.Context, pf memoria.Prefilter) ([]memoria.Memory, error) {
	if pf.UserID == "" {
		return nil, &memoria.ErrInvalidInput{Field: "user_id", Reason: "must not be empty"}
	}

	clauses := []string{"user_id = ?"}
	args := []any{pf.UserID}

	if !pf.IncludeHistory {
		clauses = append(clauses, "is_current = 1")
	}

	if pf.Mode != memoria.ModeVault && !pf.IncludeAllModes {
		if pf.AllowCrossMode {
			clauses = append(clauses, "mode IN (?, ?)")
			args = append(args, string(pf.Mode), string(memoria.ModeGeneral))
		} else {
			clauses = append(clauses, "mode = ?")
			args = append(args, string(pf.Mode))
		}
	}

	if len(pf.Categories) > 0 {
		placeholders := strings.Repeat("?,", len(pf.Categories))
		placeholders = placeholders[:len(placeholders)-1]
		clauses = append(clauses, fmt.Sprintf("category IN (%s)", placeholders))
		for _, c := range pf.Categories {
			args = append(args, c)
		}
	}

	limit := pf.MaxCandidates
	if limit <= 0 {
		limit = 200
	}

	q := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY relevance_score DESC, created_at DESC LIMIT ?`,
		memoryColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &memoria.ErrInternal{Op: "sqlite.GetCandidates", Cause: err}
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetRecentUnembedded returns rows created within `within` whose embedding
// is not yet ready, for Stage 2c's lag augmentation.
func (s *Store) GetRecentUnembedded(ctx context.Context, user string, modes []memoria.Mode, within time.Duration) ([]memoria.Memory, error) {
	since := time.Now().Add(-within).UTC().Format(time.RFC3339Nano)

	clauses := []string{"user_id = ?", "embedding_status != 'ready'", "created_at >= ?"}
	args := []any{user, since}

	if len(modes) > 0 {
		placeholders := strings.Repeat("?,", len(modes))
		placeholders = placeholders[:len(placeholders)-1]
		clauses = append(clauses, fmt.Sprintf("mode IN (%s)", placeholders))
		for _, m := range modes {
			args = append(args, string(m))
		}
	}

	q := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY created_at DESC`,
		memoryColumns, strings.Join(clauses, " AND "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &memoria.ErrInternal{Op: "sqlite.GetRecentUnembedded", Cause: err}
	}
	defer rows.Close()
	return scanMemories(rows)
}

// AdaptiveUpdate fires a non-blocking increment of usage_frequency,
// relevance_score, and last_accessed for ids. Errors are logged, never
// propagated.
func (s *Store) AdaptiveUpdate(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		placeholders := strings.Repeat("?,", len(ids))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(ids)+1)
		now := time.Now().UTC().Format(time.RFC3339Nano)
		args = append(args, now)
		for _, id := range ids {
			args = append(args, id)
		}
		q := fmt.Sprintf(`UPDATE memories SET usage_frequency = usage_frequency + 1,
			relevance_score = MIN(relevance_score + 0.02, 1.0),
			last_accessed = ? WHERE id IN (%s)`, placeholders)
		if _, err := s.db.ExecContext(bg, q, args...); err != nil {
			s.logger.Warn("sqlite: adaptive update failed", "error", err, "count", len(ids))
		}
	}()
}

// ReclaimStaleProcessing resets rows stuck in "processing" back to
// "pending".
func (s *Store) ReclaimStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET embedding_status = 'pending'
		 WHERE embedding_status = 'processing' AND embedding_updated_at < ?`,
		cutoff)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "sqlite.ReclaimStaleProcessing", Cause: err}
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ClaimNextForEmbedding selects the newest row with no embedding whose
// status is one of statuses, marks it "processing", and returns it. ok is
// false once nothing matching remains. The single shared connection makes
// this select-then-update race-free without SELECT ... FOR UPDATE.
func (s *Store) ClaimNextForEmbedding(ctx context.Context, statuses []memoria.EmbeddingStatus) (memoria.Memory, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memoria.Memory{}, false, &memoria.ErrInternal{Op: "sqlite.ClaimNextForEmbedding", Cause: err}
	}
	defer tx.Rollback()

	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}

	var id int64
	q := fmt.Sprintf(`SELECT id FROM memories
		 WHERE embedding IS NULL AND embedding_status IN (%s) AND content IS NOT NULL
		 ORDER BY created_at DESC LIMIT 1`, placeholders)
	err = tx.QueryRowContext(ctx, q, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return memoria.Memory{}, false, nil
	}
	if err != nil {
		return memoria.Memory{}, false, &memoria.ErrInternal{Op: "sqlite.ClaimNextForEmbedding", Cause: err}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET embedding_status = 'processing', embedding_updated_at = ? WHERE id = ?`,
		now, id); err != nil {
		return memoria.Memory{}, false, &memoria.ErrInternal{Op: "sqlite.ClaimNextForEmbedding", Cause: err}
	}

	row := tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err != nil {
		return memoria.Memory{}, false, &memoria.ErrInternal{Op: "sqlite.ClaimNextForEmbedding", Cause: err}
	}

	if err := tx.Commit(); err != nil {
		return memoria.Memory{}, false, &memoria.ErrInternal{Op: "sqlite.ClaimNextForEmbedding", Cause: err}
	}
	return m, true, nil
}

// CountUnembedded reports how many rows still have no embedding and a
// status in statuses.
func (s *Store) CountUnembedded(ctx context.Context, statuses []memoria.EmbeddingStatus) (int, error) {
	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}
	var n int
	q := fmt.Sprintf(`SELECT count(*) FROM memories WHERE embedding IS NULL AND embedding_status IN (%s) AND content IS NOT NULL`, placeholders)
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, &memoria.ErrInternal{Op: "sqlite.CountUnembedded", Cause: err}
	}
	return n, nil
}

// AppendEmbeddingError merges {embedding_error, error_time} into id's
// metadata, recording the cause of a backfill failure.
func (s *Store) AppendEmbeddingError(ctx context.Context, id int64, message string) error {
	var existing *string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM memories WHERE id = ?`, id).Scan(&existing)
	if err != nil {
		return &memoria.ErrInternal{Op: "sqlite.AppendEmbeddingError", Cause: err}
	}

	var meta memoria.Metadata
	if existing != nil && *existing != "" {
		if err := unmarshalMetadata([]byte(*existing), &meta); err != nil {
			meta = nil
		}
	}
	if meta == nil {
		meta = memoria.Metadata{}
	}
	meta["embedding_error"] = message
	meta["error_time"] = time.Now().UTC().Format(time.RFC3339Nano)

	encoded, err := marshalMetadata(meta)
	if err != nil {
		return &memoria.ErrInternal{Op: "sqlite.AppendEmbeddingError", Cause: err}
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE memories SET metadata = ? WHERE id = ?`, encoded, id); err != nil {
		return &memoria.ErrInternal{Op: "sqlite.AppendEmbeddingError", Cause: err}
	}
	return nil
}

// DecayStale reduces relevance_score for memories not accessed recently.
func (s *Store) DecayStale(ctx context.Context) error {
	cutoff := time.Now().Add(-7 * 24 * time.Hour).UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET relevance_score = relevance_score * 0.97
		 WHERE is_current = 1 AND (last_accessed IS NULL OR last_accessed < ?) AND relevance_score > 0.05`,
		cutoff)
	if err != nil {
		return &memoria.ErrInternal{Op: "sqlite.DecayStale", Cause: err}
	}
	return nil
}

// CleanupDuplicateCurrentFacts repairs pre-existing violations of the
// one-current-fact invariant by keeping the newest current row per
// fingerprint and marking the rest superseded.
func (s *Store) CleanupDuplicateCurrentFacts(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, fact_fingerprint FROM memories
		 WHERE is_current = 1 AND fact_fingerprint IS NOT NULL
		 GROUP BY user_id, fact_fingerprint HAVING COUNT(*) > 1`)
	if err != nil {
		return 0, &memoria.ErrInternal{Op: "sqlite.CleanupDuplicateCurrentFacts.scan", Cause: err}
	}
	type pair struct{ user, fp string }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.user, &p.fp); err != nil {
			rows.Close()
			return 0, &memoria.ErrInternal{Op: "sqlite.CleanupDuplicateCurrentFacts.rowscan", Cause: err}
		}
		pairs = append(pairs, p)
	}
	rows.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	changed := 0
	for _, p := range pairs {
		dupRows, err := s.db.QueryContext(ctx,
			`SELECT id FROM memories WHERE user_id = ? AND fact_fingerprint = ? AND is_current = 1
			 ORDER BY created_at DESC`, p.user, p.fp)
		if err != nil {
			return changed, &memoria.ErrInternal{Op: "sqlite.CleanupDuplicateCurrentFacts.dup", Cause: err}
		}
		var ids []int64
		for dupRows.Next() {
			var id int64
			if err := dupRows.Scan(&id); err != nil {
				dupRows.Close()
				return changed, &memoria.ErrInternal{Op: "sqlite.CleanupDuplicateCurrentFacts.dupscan", Cause: err}
			}
			ids = append(ids, id)
		}
		dupRows.Close()
		if len(ids) < 2 {
			continue
		}
		winner := ids[0]
		for _, loser := range ids[1:] {
			_, err := s.db.ExecContext(ctx,
				`UPDATE memories SET is_current = 0, superseded_by = ?, superseded_at = ? WHERE id = ?`,
				winner, now, loser)
			if err != nil {
				return changed, &memoria.ErrInternal{Op: "sqlite.CleanupDuplicateCurrentFacts.update", Cause: err}
			}
			changed++
		}
	}
	return changed, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB for callers that need to share the
// connection (e.g. a CLI inspecting the database directly).
func (s *Store) DB() *sql.DB { return s.db }

const memoryColumns = `id, user_id, mode, category, content, token_count, embedding, embedding_status, embedding_model,
	embedding_updated_at, fact_fingerprint, fingerprint_confidence, is_current, superseded_by, superseded_at,
	relevance_score, usage_frequency, last_accessed, created_at, metadata`

func scanMemories(rows *sql.Rows) ([]memoria.Memory, error) {
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

// rowScanner is satisfied by both *sql.Rows and *sql.Row; scanMemory only
// needs Scan, so either can back a single-row or multi-row query.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(rows rowScanner) (memoria.Memory, error) {
	var m memoria.Memory
	var mode, embStatus, createdAt string
	var category, embModel, fingerprint, embText, embUpdatedAt, supersededAt, lastAccessed, metaJSON *string
	var confidence *float64
	var isCurrent int

	err := rows.Scan(
		&m.ID, &m.UserID, &mode, &category, &m.Content, &m.TokenCount, &embText, &embStatus, &embModel,
		&embUpdatedAt, &fingerprint, &confidence, &isCurrent, &m.SupersededBy, &supersededAt,
		&m.RelevanceScore, &m.UsageFrequency, &lastAccessed, &createdAt, &metaJSON,
	)
	if err != nil {
		return memoria.Memory{}, &memoria.ErrInternal{Op: "sqlite.scanMemory", Cause: err}
	}

	m.Mode = memoria.Mode(mode)
	m.EmbeddingStatus = memoria.EmbeddingStatus(embStatus)
	m.IsCurrent = isCurrent != 0
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
	if embText != nil && *embText != "" {
		if vec, err := deserializeEmbedding(*embText); err == nil {
			m.Embedding = vec
		}
	}
	if metaJSON != nil {
		_ = unmarshalMetadata([]byte(*metaJSON), &m.Metadata)
	}
	m.CreatedAt = parseTime(createdAt)
	m.SupersededAt = parseTimePtr(supersededAt)
	m.LastAccessed = parseTimePtr(lastAccessed)
	m.EmbeddingUpdatedAt = parseTimePtr(embUpdatedAt)
	return m, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}

func marshalMetadata(m memoria.Metadata) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	return string(data), err
}

func unmarshalMetadata(data []byte, out *memoria.Metadata) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
