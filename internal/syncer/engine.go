// Package syncer drives queued matches through delivery to the leaderboard
// server: one attempt at a time per record, failure classification, retry
// bookkeeping, and the exponential backoff schedule for transient failures.
//
// The engine owns no other triggers. Deciding when to sync (connectivity
// regained, manual "sync now") belongs to its callers.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nathant8883/mtg-leaderboard/internal/match"
	"github.com/nathant8883/mtg-leaderboard/internal/queue"
	"github.com/nathant8883/mtg-leaderboard/internal/transport"
)

// Transport delivers one match payload to the server.
type Transport interface {
	CreateMatch(ctx context.Context, result match.Result) (string, error)
}

// Callbacks receive per-record outcomes. Either field may be nil.
type Callbacks struct {
	OnSuccess func(rec queue.QueuedMatch, serverID string)
	OnError   func(rec queue.QueuedMatch, derr *transport.DeliveryError)
}

// Config holds the engine's retry schedule.
type Config struct {
	// BackoffMin is the delay before the first automatic retry.
	BackoffMin time.Duration
	// BackoffMax caps the exponential schedule.
	BackoffMax time.Duration
	// SyncedWindow is how long a delivered fingerprint keeps blocking
	// duplicate submissions.
	SyncedWindow time.Duration
}

// Engine delivers queued matches. At most one attempt per record is in
// flight at any time; a second sync request for an in-flight record joins
// the existing outcome instead of starting another network call.
type Engine struct {
	store  queue.Store
	client Transport
	cfg    Config

	// gate, when set, is consulted before a scheduled automatic retry
	// starts. It never aborts an attempt already in flight.
	gate func() bool
	// onRemoved fires after a successful delivery actually removed a
	// record from the store. The coordinator uses it for drain detection.
	onRemoved func(ctx context.Context)
	// notify carries the callbacks used by scheduled automatic retries.
	notify Callbacks

	mu       sync.Mutex
	inflight map[string]*inflightAttempt
	timers   map[string]*time.Timer
	closed   bool
}

type inflightAttempt struct {
	done chan struct{}
	err  error
}

// New creates an Engine over the given store and transport.
func New(store queue.Store, client Transport, cfg Config) *Engine {
	return &Engine{
		store:    store,
		client:   client,
		cfg:      cfg,
		inflight: make(map[string]*inflightAttempt),
		timers:   make(map[string]*time.Timer),
	}
}

// SetGate installs the connectivity decision consulted before scheduled
// automatic retries.
func (e *Engine) SetGate(gate func() bool) { e.gate = gate }

// GateAllows reports the current gate decision (true when no gate is set).
func (e *Engine) GateAllows() bool {
	if e.gate == nil {
		return true
	}
	return e.gate()
}

// SetOnRemoved installs the hook fired after a delivery removes a record.
func (e *Engine) SetOnRemoved(fn func(ctx context.Context)) { e.onRemoved = fn }

// SetNotify installs the callbacks used by scheduled automatic retries.
func (e *Engine) SetNotify(cb Callbacks) { e.notify = cb }

// Close stops all scheduled retries. In-flight attempts run to completion.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// SyncOne delivers one queued match. It is a no-op returning nil when the
// record no longer exists (already synced or removed). If an attempt for the
// record is already in flight, SyncOne waits for and returns that attempt's
// outcome without a second network call.
func (e *Engine) SyncOne(ctx context.Context, id string, cb Callbacks) error {
	e.mu.Lock()
	if fl, ok := e.inflight[id]; ok {
		e.mu.Unlock()
		select {
		case <-fl.done:
			return fl.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	fl := &inflightAttempt{done: make(chan struct{})}
	e.inflight[id] = fl
	// A directly requested sync supersedes any scheduled retry.
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()

	err := e.attempt(ctx, id, cb)

	e.mu.Lock()
	delete(e.inflight, id)
	fl.err = err
	close(fl.done)
	e.mu.Unlock()

	return err
}

// attempt runs a single delivery attempt through the per-record state
// machine: pending -> syncing -> removed on success, error on failure.
func (e *Engine) attempt(ctx context.Context, id string, cb Callbacks) error {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil
		}
		return err
	}

	// Every attempt bumps the bookkeeping, whatever the outcome.
	now := time.Now().UTC()
	syncing := queue.StatusSyncing
	attempts := rec.RetryCount + 1
	err = e.store.Update(ctx, id, queue.Patch{
		Status:        &syncing,
		RetryCount:    &attempts,
		LastAttemptAt: &now,
	})
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			// Removed between the read and the update; nothing to deliver.
			return nil
		}
		return err
	}
	rec.Status = syncing
	rec.RetryCount = attempts
	rec.LastAttemptAt = &now

	serverID, deliverErr := e.client.CreateMatch(ctx, rec.Payload)
	if deliverErr == nil {
		return e.finishSuccess(ctx, rec, serverID, cb)
	}
	return e.finishFailure(ctx, rec, deliverErr, cb)
}

func (e *Engine) finishSuccess(ctx context.Context, rec *queue.QueuedMatch, serverID string, cb Callbacks) error {
	removed, err := e.store.Delete(ctx, rec.ID)
	if err != nil {
		return err
	}

	// Remember the fingerprint so an immediate accidental resubmission of
	// the same game still dedups. Best effort.
	if markErr := e.store.MarkSynced(ctx, rec.Fingerprint, serverID, e.cfg.SyncedWindow); markErr != nil {
		slog.Warn("failed to record synced fingerprint",
			"match_id", rec.ID,
			"error", markErr,
			"component", "syncer",
		)
	}

	slog.Info("match delivered",
		"match_id", rec.ID,
		"server_id", serverID,
		"attempts", rec.RetryCount,
		"component", "syncer",
	)

	if cb.OnSuccess != nil {
		cb.OnSuccess(*rec, serverID)
	}
	// The record may have been removed mid-flight by an undo; the hook
	// fires only when this delivery actually removed a row.
	if removed && e.onRemoved != nil {
		e.onRemoved(ctx)
	}
	return nil
}

func (e *Engine) finishFailure(ctx context.Context, rec *queue.QueuedMatch, deliverErr error, cb Callbacks) error {
	derr := asDeliveryError(deliverErr)
	now := time.Now().UTC()

	errStatus := queue.StatusError
	err := e.store.Update(ctx, rec.ID, queue.Patch{
		Status: &errStatus,
		LastError: &queue.SyncError{
			Code:       string(derr.Class),
			Message:    derr.Message,
			OccurredAt: now,
		},
	})
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			// Removed mid-flight; the failure no longer matters.
			return nil
		}
		return err
	}
	rec.Status = errStatus

	slog.Warn("match delivery failed",
		"match_id", rec.ID,
		"class", derr.Class,
		"status", derr.Status,
		"attempts", rec.RetryCount,
		"component", "syncer",
	)

	if cb.OnError != nil {
		cb.OnError(*rec, derr)
	}

	// Only transient failures retry on their own; every other class waits
	// for the user action it names.
	if derr.Retryable() {
		e.scheduleRetry(rec.ID, rec.RetryCount)
	}
	return derr
}

// scheduleRetry arms a timer for the next automatic attempt. The delay grows
// with the record's cumulative attempt count, so a manual retry does not
// restart the schedule.
func (e *Engine) scheduleRetry(id string, attempts int) {
	delay := e.backoffDelay(attempts)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[id]; ok {
		t.Stop()
	}
	e.timers[id] = time.AfterFunc(delay, func() { e.runScheduled(id) })

	slog.Debug("retry scheduled",
		"match_id", id,
		"delay", delay,
		"attempts", attempts,
		"component", "syncer",
	)
}

func (e *Engine) runScheduled(id string) {
	e.mu.Lock()
	delete(e.timers, id)
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	if !e.GateAllows() {
		// Connectivity turned unfavorable while we waited. The record
		// stays queued; the next sync trigger picks it up.
		slog.Debug("scheduled retry skipped by gate", "match_id", id, "component", "syncer")
		return
	}
	_ = e.SyncOne(context.Background(), id, e.notify)
}

// backoffDelay walks the exponential schedule to the given cumulative
// attempt count, capped at BackoffMax.
func (e *Engine) backoffDelay(attempts int) time.Duration {
	b := retry.WithCappedDuration(e.cfg.BackoffMax, retry.NewExponential(e.cfg.BackoffMin))
	delay := e.cfg.BackoffMin
	for i := 0; i < attempts; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		delay = next
	}
	return delay
}

// asDeliveryError normalizes any delivery failure into a classified error.
// Failures without a classification (marshal bugs, truncated responses) are
// treated as transient: they carry no proof the server rejected the payload.
func asDeliveryError(err error) *transport.DeliveryError {
	var derr *transport.DeliveryError
	if errors.As(err, &derr) {
		return derr
	}
	return &transport.DeliveryError{
		Class:   transport.ClassTransient,
		Message: err.Error(),
	}
}
