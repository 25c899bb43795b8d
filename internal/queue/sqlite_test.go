package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nathant8883/mtg-leaderboard/internal/match"
)

var _ Store = (*SQLiteStore)(nil)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id, fp string, queuedAt time.Time) *QueuedMatch {
	return &QueuedMatch{
		ID:          id,
		Fingerprint: fp,
		Status:      StatusPending,
		QueuedAt:    queuedAt,
		Payload: match.Result{
			Players: []match.Player{
				{PlayerID: "p1", PlayerName: "Alice", DeckID: "d1", DeckName: "Atraxa", IsWinner: true},
				{PlayerID: "p2", PlayerName: "Bob", DeckID: "d2", DeckName: "Krenko"},
				{PlayerID: "p3", PlayerName: "Cho", DeckID: "d3", DeckName: "Meren"},
			},
			WinnerPlayerID: "p1",
			WinnerDeckID:   "d1",
			MatchDate:      queuedAt,
		},
		Snapshots: []ParticipantSnapshot{
			{PlayerID: "p1", PlayerName: "Alice", DeckID: "d1", DeckName: "Atraxa"},
		},
	}
}

func TestSQLiteStore_InsertGetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	queuedAt := time.Now().UTC().Truncate(time.Millisecond)

	if err := s.Insert(ctx, testRecord("m1", "fp1", queuedAt)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "m1" || got.Fingerprint != "fp1" || got.Status != StatusPending {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.QueuedAt.Equal(queuedAt) {
		t.Errorf("queued_at mismatch: got %v want %v", got.QueuedAt, queuedAt)
	}
	if len(got.Payload.Players) != 3 || got.Payload.WinnerPlayerID != "p1" {
		t.Errorf("payload not preserved: %+v", got.Payload)
	}
	if len(got.Snapshots) != 1 || got.Snapshots[0].PlayerName != "Alice" {
		t.Errorf("snapshots not preserved: %+v", got.Snapshots)
	}
	if got.LastAttemptAt != nil || got.LastError != nil {
		t.Errorf("fresh record should have no attempt metadata: %+v", got)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListOrderedByQueuedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	// Insert out of order on purpose.
	for _, rec := range []*QueuedMatch{
		testRecord("m2", "fp2", base.Add(2*time.Minute)),
		testRecord("m1", "fp1", base.Add(1*time.Minute)),
		testRecord("m3", "fp3", base.Add(3*time.Minute)),
	} {
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.ID, err)
		}
	}

	recs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if recs[i].ID != want {
			t.Errorf("position %d: got %s want %s", i, recs[i].ID, want)
		}
	}
}

func TestSQLiteStore_UpdatePatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Insert(ctx, testRecord("m1", "fp1", time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// When: an attempt fails
	status := StatusError
	retries := 1
	attemptAt := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.Update(ctx, "m1", Patch{
		Status:        &status,
		RetryCount:    &retries,
		LastAttemptAt: &attemptAt,
		LastError: &SyncError{
			Code:       "transient",
			Message:    "connection refused",
			OccurredAt: attemptAt,
		},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusError || got.RetryCount != 1 {
		t.Errorf("patch not applied: %+v", got)
	}
	if got.LastAttemptAt == nil || !got.LastAttemptAt.Equal(attemptAt) {
		t.Errorf("last_attempt_at mismatch: %v", got.LastAttemptAt)
	}
	if got.LastError == nil || got.LastError.Code != "transient" {
		t.Errorf("last_error mismatch: %+v", got.LastError)
	}

	// When: the user edits and requeues
	pending := StatusPending
	zero := 0
	if err := s.Update(ctx, "m1", Patch{
		Status:         &pending,
		RetryCount:     &zero,
		ClearLastError: true,
	}); err != nil {
		t.Fatalf("requeue update: %v", err)
	}

	got, err = s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending || got.RetryCount != 0 || got.LastError != nil {
		t.Errorf("requeue patch not applied: %+v", got)
	}
}

func TestSQLiteStore_UpdateMissing(t *testing.T) {
	s := newTestStore(t)
	status := StatusError

	err := s.Update(context.Background(), "nope", Patch{Status: &status})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_DeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Insert(ctx, testRecord("m1", "fp1", time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	deleted, err := s.Delete(ctx, "m1")
	if err != nil || !deleted {
		t.Fatalf("first delete: deleted=%v err=%v", deleted, err)
	}

	// Delete-of-already-deleted is a no-op, not an error.
	deleted, err = s.Delete(ctx, "m1")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Error("second delete reported a removed row")
	}
}

func TestSQLiteStore_Count(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.Count(ctx)
	if err != nil || count != 0 {
		t.Fatalf("empty count: %d, %v", count, err)
	}

	if err := s.Insert(ctx, testRecord("m1", "fp1", time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, testRecord("m2", "fp2", time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	count, err = s.Count(ctx)
	if err != nil || count != 2 {
		t.Fatalf("count after inserts: %d, %v", count, err)
	}
}

func TestSQLiteStore_HasRecentFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Insert(ctx, testRecord("m1", "fp1", now.Add(-10*time.Minute))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert(ctx, testRecord("m2", "fp2", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// fp2 was queued just now: inside a 5 minute window.
	found, err := s.HasRecentFingerprint(ctx, "fp2", now.Add(-5*time.Minute))
	if err != nil || !found {
		t.Fatalf("expected fp2 found: %v, %v", found, err)
	}

	// fp1 was queued 10 minutes ago: outside the window.
	found, err = s.HasRecentFingerprint(ctx, "fp1", now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("recent fingerprint: %v", err)
	}
	if found {
		t.Error("fp1 should be outside the window")
	}
}

func TestSQLiteStore_SyncedFingerprintWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.MarkSynced(ctx, "fp1", "srv-42", 5*time.Minute); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	recent, err := s.RecentlySynced(ctx, "fp1")
	if err != nil || !recent {
		t.Fatalf("expected fp1 recently synced: %v, %v", recent, err)
	}

	recent, err = s.RecentlySynced(ctx, "fp-other")
	if err != nil {
		t.Fatalf("recently synced: %v", err)
	}
	if recent {
		t.Error("unknown fingerprint reported as recently synced")
	}
}

func TestSQLiteStore_SyncedFingerprintExpires(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a fingerprint whose window has already elapsed
	if err := s.MarkSynced(ctx, "fp1", "srv-42", -1*time.Second); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	recent, err := s.RecentlySynced(ctx, "fp1")
	if err != nil {
		t.Fatalf("recently synced: %v", err)
	}
	if recent {
		t.Error("expired fingerprint reported as recently synced")
	}
}

func TestSQLiteStore_SyncingNormalizedOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if err := s.Insert(ctx, testRecord("m1", "fp1", time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Simulate a crash mid-attempt: record left syncing, process dies.
	syncing := StatusSyncing
	if err := s.Update(ctx, "m1", Patch{Status: &syncing}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected syncing record normalized to pending, got %s", got.Status)
	}
}

func TestSQLiteStore_ClientIDPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	first := s.ClientID()
	if first == "" {
		t.Fatal("empty client id")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	if reopened.ClientID() != first {
		t.Errorf("client id changed across restart: %s vs %s", first, reopened.ClientID())
	}
}

func TestStorageError_MatchesSentinel(t *testing.T) {
	err := storageError("insert", errors.New("disk full"))
	if !errors.Is(err, ErrStorage) {
		t.Fatal("StorageError does not match ErrStorage")
	}
}
