// Package service coordinates the match queue: validated enqueue with
// duplicate suppression, queue inspection, removal and requeue, sync
// orchestration, and drain notification.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nathant8883/mtg-leaderboard/internal/fingerprint"
	"github.com/nathant8883/mtg-leaderboard/internal/match"
	"github.com/nathant8883/mtg-leaderboard/internal/queue"
	"github.com/nathant8883/mtg-leaderboard/internal/syncer"
	"github.com/nathant8883/mtg-leaderboard/internal/transport"
)

// ErrDuplicate indicates the same game was already queued or delivered
// within the duplicate suppression window.
var ErrDuplicate = errors.New("match already queued or recently synced")

// SyncMode selects which records a full-queue sync considers.
type SyncMode int

const (
	// SyncAuto is a background-triggered pass: it takes pending records
	// past the undo grace period plus transiently failed ones, and honors
	// the connectivity gate.
	SyncAuto SyncMode = iota
	// SyncManual is a user-requested pass: it takes every pending and
	// failed record regardless of grace period or gate.
	SyncManual
)

// Config holds the coordinator's timing policy.
type Config struct {
	// DedupWindow is how far back duplicate fingerprints are rejected.
	DedupWindow time.Duration
	// UndoGrace keeps freshly queued matches out of automatic sync so a
	// mistaken entry can be removed before it leaves the device.
	UndoGrace time.Duration
}

// Summary reports the outcome of a full-queue sync pass.
type Summary struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// SyncAllCallbacks receive per-record progress during a full-queue pass.
// Any field may be nil.
type SyncAllCallbacks struct {
	OnProgress      func(done, total int)
	OnRecordSuccess func(rec queue.QueuedMatch, serverID string)
	OnRecordError   func(rec queue.QueuedMatch, derr *transport.DeliveryError)
}

// Service is the queue coordinator. All mutation flows through it.
type Service struct {
	store  queue.Store
	engine *syncer.Engine
	cfg    Config

	mu      sync.Mutex
	drained []func()
	// armed tracks whether the queue has held records since the last
	// drain notification. Drain fires exactly once per transition from
	// non-empty to empty caused by a delivery.
	armed bool
}

// New creates the coordinator and wires it into the engine's removal hook.
// The drain latch arms immediately when the store already holds records.
func New(ctx context.Context, store queue.Store, engine *syncer.Engine, cfg Config) (*Service, error) {
	s := &Service{store: store, engine: engine, cfg: cfg}

	count, err := store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count queued matches: %w", err)
	}
	s.armed = count > 0

	engine.SetOnRemoved(s.recordRemoved)
	return s, nil
}

// Enqueue validates a match result and stores it for later delivery. It
// returns ErrDuplicate when an identical game was queued or delivered
// within the dedup window, and a *match.ValidationError when the result
// is malformed. Any storage failure is returned loudly: the match was
// not saved and the caller must tell the user so.
func (s *Service) Enqueue(ctx context.Context, result match.Result, snapshots []queue.ParticipantSnapshot) (*queue.QueuedMatch, error) {
	if err := match.Validate(result); err != nil {
		return nil, err
	}

	fp := fingerprint.Compute(result)
	since := time.Now().UTC().Add(-s.cfg.DedupWindow)

	dup, err := s.store.HasRecentFingerprint(ctx, fp, since)
	if err != nil {
		return nil, fmt.Errorf("check queued duplicates: %w", err)
	}
	if !dup {
		dup, err = s.store.RecentlySynced(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("check synced duplicates: %w", err)
		}
	}
	if dup {
		slog.Info("duplicate match rejected", "fingerprint", fp, "component", "service")
		return nil, ErrDuplicate
	}

	rec := &queue.QueuedMatch{
		ID:          ulid.Make().String(),
		Payload:     result,
		Fingerprint: fp,
		Snapshots:   snapshots,
		Status:      queue.StatusPending,
		QueuedAt:    time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("enqueue match: %w", err)
	}

	s.mu.Lock()
	s.armed = true
	s.mu.Unlock()

	slog.Info("match queued",
		"match_id", rec.ID,
		"players", len(result.Players),
		"component", "service",
	)
	return rec, nil
}

// Get returns one queued match.
func (s *Service) Get(ctx context.Context, id string) (*queue.QueuedMatch, error) {
	return s.store.Get(ctx, id)
}

// List returns all queued matches, oldest first.
func (s *Service) List(ctx context.Context) ([]queue.QueuedMatch, error) {
	return s.store.List(ctx)
}

// PendingCount returns the number of matches awaiting delivery.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Remove deletes a queued match without delivering it. Removing a record
// never triggers the drain notification; that is reserved for deliveries.
func (s *Service) Remove(ctx context.Context, id string) error {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return queue.ErrNotFound
	}
	slog.Info("match removed from queue", "match_id", id, "component", "service")
	return nil
}

// Requeue replaces a failed record's payload with a corrected result and
// resets it for a fresh delivery cycle: status pending, retry count zero,
// last error cleared. The fingerprint is recomputed from the new payload.
func (s *Service) Requeue(ctx context.Context, id string, result match.Result) (*queue.QueuedMatch, error) {
	if err := match.Validate(result); err != nil {
		return nil, err
	}

	fp := fingerprint.Compute(result)
	pending := queue.StatusPending
	zero := 0
	err := s.store.Update(ctx, id, queue.Patch{
		Payload:        &result,
		Fingerprint:    &fp,
		Status:         &pending,
		RetryCount:     &zero,
		ClearLastError: true,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("match requeued with corrections", "match_id", id, "component", "service")
	return s.store.Get(ctx, id)
}

// SyncOne delivers a single queued match now.
func (s *Service) SyncOne(ctx context.Context, id string, cb syncer.Callbacks) error {
	return s.engine.SyncOne(ctx, id, cb)
}

// SyncAll walks the queue oldest first and delivers each eligible record
// in turn. Records are attempted one at a time; the connectivity gate is
// consulted between records in auto mode, never mid-attempt. A failed
// record does not stop the pass.
func (s *Service) SyncAll(ctx context.Context, mode SyncMode, cb SyncAllCallbacks) (Summary, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list queued matches: %w", err)
	}

	now := time.Now().UTC()
	eligible := make([]queue.QueuedMatch, 0, len(recs))
	var summary Summary
	for _, rec := range recs {
		if s.eligibleFor(rec, mode, now) {
			eligible = append(eligible, rec)
		} else {
			summary.Skipped++
		}
	}

	total := len(eligible)
	for i, rec := range eligible {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if mode == SyncAuto && !s.engine.GateAllows() {
			slog.Debug("sync pass stopped by gate",
				"remaining", total-i,
				"component", "service",
			)
			summary.Skipped += total - i
			break
		}

		delivered := false
		err := s.engine.SyncOne(ctx, rec.ID, syncer.Callbacks{
			OnSuccess: func(r queue.QueuedMatch, serverID string) {
				delivered = true
				if cb.OnRecordSuccess != nil {
					cb.OnRecordSuccess(r, serverID)
				}
			},
			OnError: func(r queue.QueuedMatch, derr *transport.DeliveryError) {
				if cb.OnRecordError != nil {
					cb.OnRecordError(r, derr)
				}
			},
		})
		summary.Attempted++
		switch {
		case err != nil:
			summary.Failed++
		case delivered:
			summary.Succeeded++
		default:
			// The record vanished before the attempt (undo mid-pass).
			summary.Skipped++
			summary.Attempted--
		}
		if cb.OnProgress != nil {
			cb.OnProgress(i+1, total)
		}
	}

	slog.Info("sync pass finished",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"component", "service",
	)
	return summary, nil
}

// eligibleFor decides whether a pass in the given mode should attempt a
// record. Manual passes retry everything that is not mid-flight; auto
// passes respect the undo grace period and only retry transient failures.
func (s *Service) eligibleFor(rec queue.QueuedMatch, mode SyncMode, now time.Time) bool {
	switch rec.Status {
	case queue.StatusSyncing:
		return false
	case queue.StatusPending:
		if mode == SyncAuto && now.Sub(rec.QueuedAt) < s.cfg.UndoGrace {
			return false
		}
		return true
	case queue.StatusError:
		if mode == SyncManual {
			return true
		}
		return rec.LastError != nil && rec.LastError.Code == string(transport.ClassTransient)
	default:
		return false
	}
}

// OnDrained registers a callback fired when a delivery empties the queue.
// Each registered callback fires at most once per non-empty-to-empty
// transition.
func (s *Service) OnDrained(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained = append(s.drained, fn)
}

// ClearDrainedCallbacks removes all registered drain callbacks.
func (s *Service) ClearDrainedCallbacks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drained = nil
}

// recordRemoved runs after the engine's delivery removes a record. When
// the queue just became empty and the latch is armed, the drain callbacks
// fire once and the latch disarms until the next enqueue.
func (s *Service) recordRemoved(ctx context.Context) {
	count, err := s.store.Count(ctx)
	if err != nil {
		slog.Warn("drain check failed", "error", err, "component", "service")
		return
	}
	if count != 0 {
		return
	}

	s.mu.Lock()
	if !s.armed {
		s.mu.Unlock()
		return
	}
	s.armed = false
	subs := make([]func(), len(s.drained))
	copy(subs, s.drained)
	s.mu.Unlock()

	slog.Info("queue drained", "component", "service")
	for _, fn := range subs {
		fn()
	}
}
