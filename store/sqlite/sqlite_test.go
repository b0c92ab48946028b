package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quietloop/memoria"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := New(filepath.Join(dir, "test.db"))
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestStoreWithoutSupersession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StoreWithoutSupersession(ctx, memoria.MemoryRequest{
		UserID: "u1", Mode: memoria.ModeGeneral, Content: "likes tea",
	})
	if err != nil {
		t.Fatalf("StoreWithoutSupersession: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	got, err := s.GetCandidates(ctx, memoria.Prefilter{UserID: "u1", Mode: memoria.ModeGeneral, IncludeHistory: true})
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	if len(got) != 1 || got[0].Content != "likes tea" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestSupersessionLinearizability(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req1 := memoria.MemoryRequest{
		UserID: "u1", Mode: memoria.ModeGeneral, Content: "my phone is 555-111-2222",
		Fingerprint: memoria.Fingerprint{Key: "user_phone_number", Confidence: 0.95, Method: memoria.FingerprintDeterministic, ValueSignature: true},
	}
	res1, err := s.Store(ctx, req1)
	if err != nil {
		t.Fatalf("Store 1: %v", err)
	}

	req2 := req1
	req2.Content = "my phone is 555-333-4444"
	res2, err := s.Store(ctx, req2)
	if err != nil {
		t.Fatalf("Store 2: %v", err)
	}
	if len(res2.SupersededIDs) != 1 || res2.SupersededIDs[0] != res1.ID {
		t.Fatalf("expected supersession of %d, got %+v", res1.ID, res2.SupersededIDs)
	}

	history, err := s.FindByFingerprint(ctx, "u1", "user_phone_number")
	if err != nil {
		t.Fatalf("FindByFingerprint: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(history))
	}
	var current int
	for _, m := range history {
		if m.IsCurrent {
			current++
			if m.Content != "my phone is 555-333-4444" {
				t.Fatalf("unexpected current content: %q", m.Content)
			}
		} else {
			if m.SupersededBy == nil || *m.SupersededBy != res2.ID {
				t.Fatalf("expected superseded_by=%d, got %v", res2.ID, m.SupersededBy)
			}
		}
	}
	if current != 1 {
		t.Fatalf("expected exactly one current row, got %d", current)
	}
}

func TestStoreBelowConfidenceDoesNotSupersede(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := memoria.MemoryRequest{
		UserID: "u1", Mode: memoria.ModeGeneral, Content: "I don't have a phone",
		Fingerprint: memoria.Fingerprint{Key: "", Method: memoria.FingerprintRejected},
	}
	if _, err := s.Store(ctx, req); err != nil {
		t.Fatalf("Store: %v", err)
	}

	req2 := memoria.MemoryRequest{
		UserID: "u1", Mode: memoria.ModeGeneral, Content: "my phone is 555-111-2222",
		Fingerprint: memoria.Fingerprint{Key: "user_phone_number", Confidence: 0.5, Method: memoria.FingerprintModel, ValueSignature: true},
	}
	res, err := s.Store(ctx, req2)
	if err != nil {
		t.Fatalf("Store 2: %v", err)
	}
	if len(res.SupersededIDs) != 0 {
		t.Fatalf("expected no supersession below confidence floor, got %+v", res.SupersededIDs)
	}
}

func TestMarkEmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StoreWithoutSupersession(ctx, memoria.MemoryRequest{UserID: "u1", Mode: memoria.ModeGeneral, Content: "x"})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	vec := make([]float32, memoria.EmbeddingDimensions)
	vec[0] = 1.0
	if err := s.MarkEmbedding(ctx, id, memoria.EmbeddingReady, vec, "test-model"); err != nil {
		t.Fatalf("MarkEmbedding: %v", err)
	}

	got, err := s.GetCandidates(ctx, memoria.Prefilter{UserID: "u1", Mode: memoria.ModeGeneral})
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].EmbeddingStatus != memoria.EmbeddingReady {
		t.Fatalf("expected ready, got %s", got[0].EmbeddingStatus)
	}
	if len(got[0].Embedding) != memoria.EmbeddingDimensions {
		t.Fatalf("expected %d dims, got %d", memoria.EmbeddingDimensions, len(got[0].Embedding))
	}

	if err := s.MarkEmbedding(ctx, id, memoria.EmbeddingFailed, nil, ""); err != nil {
		t.Fatalf("MarkEmbedding failed-status: %v", err)
	}
	got, _ = s.GetCandidates(ctx, memoria.Prefilter{UserID: "u1", Mode: memoria.ModeGeneral, IncludeHistory: true})
	if got[0].EmbeddingStatus != memoria.EmbeddingFailed {
		t.Fatalf("expected failed, got %s", got[0].EmbeddingStatus)
	}
	if got[0].Embedding != nil {
		t.Fatalf("expected cleared embedding, got %v", got[0].Embedding)
	}
}

func TestModeIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.StoreWithoutSupersession(ctx, memoria.MemoryRequest{UserID: "u1", Mode: memoria.ModeGeneral, Content: "general fact"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StoreWithoutSupersession(ctx, memoria.MemoryRequest{UserID: "u1", Mode: "business", Content: "business fact"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCandidates(ctx, memoria.Prefilter{UserID: "u1", Mode: "business"})
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	if len(got) != 1 || got[0].Content != "business fact" {
		t.Fatalf("expected strict mode isolation, got %+v", got)
	}

	gotCross, err := s.GetCandidates(ctx, memoria.Prefilter{UserID: "u1", Mode: "business", AllowCrossMode: true})
	if err != nil {
		t.Fatalf("GetCandidates cross-mode: %v", err)
	}
	if len(gotCross) != 2 {
		t.Fatalf("expected cross-mode to include truth-general, got %d", len(gotCross))
	}
}

func TestUserIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.StoreWithoutSupersession(ctx, memoria.MemoryRequest{UserID: "a", Mode: memoria.ModeGeneral, Content: "favorite color is blue"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StoreWithoutSupersession(ctx, memoria.MemoryRequest{UserID: "b", Mode: memoria.ModeGeneral, Content: "favorite color is red"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCandidates(ctx, memoria.Prefilter{UserID: "a", Mode: memoria.ModeGeneral})
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	for _, m := range got {
		if m.UserID != "a" {
			t.Fatalf("cross-user leak: %+v", m)
		}
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate for user a, got %d", len(got))
	}
}

func TestReclaimStaleProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.StoreWithoutSupersession(ctx, memoria.MemoryRequest{UserID: "u1", Mode: memoria.ModeGeneral, Content: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkEmbedding(ctx, id, memoria.EmbeddingProcessing, nil, ""); err != nil {
		t.Fatal(err)
	}

	n, err := s.ReclaimStaleProcessing(ctx, 0)
	if err != nil {
		t.Fatalf("ReclaimStaleProcessing: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed row, got %d", n)
	}
}

func TestCleanupDuplicateCurrentFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Drop the constraint Init created and bypass the supersession path to
	// simulate a pre-existing invariant violation (e.g. data imported
	// before the constraint existed).
	if _, err := s.DB().ExecContext(ctx, `DROP INDEX memories_current_fingerprint_idx`); err != nil {
		t.Fatal(err)
	}
	req := memoria.MemoryRequest{UserID: "u1", Mode: memoria.ModeGeneral, Content: "a", Fingerprint: memoria.Fingerprint{Key: "user_job_title"}}
	if _, err := s.StoreWithoutSupersession(ctx, req); err != nil {
		t.Fatal(err)
	}
	req.Content = "b"
	if _, err := s.StoreWithoutSupersession(ctx, req); err != nil {
		t.Fatal(err)
	}

	n, err := s.CleanupDuplicateCurrentFacts(ctx)
	if err != nil {
		t.Fatalf("CleanupDuplicateCurrentFacts: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cleaned row, got %d", n)
	}

	got, err := s.GetCandidates(ctx, memoria.Prefilter{UserID: "u1", Mode: memoria.ModeGeneral})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 current row after cleanup, got %d", len(got))
	}
}
