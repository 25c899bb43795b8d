// Package update holds app updates back while unsynced matches remain on
// the device. An update that wipes local state must not destroy queued
// results.
package update

import (
	"context"
	"fmt"
	"time"
)

// Counter reports how many matches still wait for delivery.
type Counter interface {
	PendingCount(ctx context.Context) (int, error)
}

// Gate answers whether it is safe to apply an update right now.
type Gate struct {
	counter Counter
	drained <-chan struct{}
}

// NewGate creates a Gate over the pending counter. The drained channel,
// when non-nil, is closed or signalled by the coordinator's drain
// notification and unblocks AwaitDrain early.
func NewGate(counter Counter, drained <-chan struct{}) *Gate {
	return &Gate{counter: counter, drained: drained}
}

// Ready reports whether the queue is empty and the update may proceed.
func (g *Gate) Ready(ctx context.Context) (bool, error) {
	count, err := g.counter.PendingCount(ctx)
	if err != nil {
		return false, fmt.Errorf("check queue before update: %w", err)
	}
	return count == 0, nil
}

// Describe returns a user-facing explanation of why the update waits, or
// an empty string when it need not wait.
func (g *Gate) Describe(ctx context.Context) (string, error) {
	count, err := g.counter.PendingCount(ctx)
	if err != nil {
		return "", fmt.Errorf("check queue before update: %w", err)
	}
	if count == 0 {
		return "", nil
	}
	noun := "matches"
	if count == 1 {
		noun = "match"
	}
	return fmt.Sprintf("waiting to sync %d %s before updating", count, noun), nil
}

// AwaitDrain blocks until the queue is empty, the timeout passes, or the
// context is cancelled. It returns true when the queue drained.
func (g *Gate) AwaitDrain(ctx context.Context, timeout time.Duration) (bool, error) {
	ready, err := g.Ready(ctx)
	if err != nil || ready {
		return ready, err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	// Poll as a fallback for drains signalled before we subscribed.
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-g.drainedOrNever():
			return g.Ready(ctx)
		case <-poll.C:
			ready, err := g.Ready(ctx)
			if err != nil || ready {
				return ready, err
			}
		}
	}
}

func (g *Gate) drainedOrNever() <-chan struct{} {
	if g.drained != nil {
		return g.drained
	}
	return nil
}
