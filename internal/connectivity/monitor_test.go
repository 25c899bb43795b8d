package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakePinger struct {
	up atomic.Bool
}

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.up.Load() {
		return nil
	}
	return errors.New("connection refused")
}

func TestMonitor_OnlineTransitionFiresCallbacks(t *testing.T) {
	p := &fakePinger{}
	m := NewMonitor(p, 10*time.Millisecond)

	var fired atomic.Int64
	m.OnOnline(func(ctx context.Context) { fired.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Offline at first.
	time.Sleep(30 * time.Millisecond)
	if m.Online() {
		t.Fatal("monitor online while pinger is down")
	}
	if fired.Load() != 0 {
		t.Fatal("callback fired while offline")
	}

	// The server comes back: exactly one transition.
	p.up.Store(true)
	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("online callback never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if !m.Online() {
		t.Error("monitor not online after successful probe")
	}

	// Staying up does not re-fire the callback.
	time.Sleep(50 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("callback fired %d times for one transition, want 1", n)
	}
}

func TestMonitor_AllowRespectsMetered(t *testing.T) {
	p := &fakePinger{}
	p.up.Store(true)
	m := NewMonitor(p, time.Hour)
	m.probe(context.Background())

	if !m.Allow() {
		t.Fatal("online unmetered connection should allow automatic sync")
	}
	m.SetMetered(true)
	if m.Allow() {
		t.Error("metered connection should hold automatic sync")
	}
	if !m.Online() {
		t.Error("metered must not affect the online flag")
	}
}
