// Package engine provides the fixed-interval simulation loop and the agent
// manager it drives.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = 100 * time.Millisecond

// Engine drives the simulation forward at a fixed interval. Ticks are strictly
// sequential; a tick that overruns the interval is followed immediately by the
// next one with no catch-up backlog.
type Engine struct {
	Interval time.Duration // Tick period and the simulated time each tick advances.

	// Callbacks, populated during setup.
	OnTick       func(ctx context.Context, tick uint64, dt time.Duration) // Every tick
	OnSummary    func(tick uint64)                                        // Every SummaryEvery ticks
	SummaryEvery uint64

	tick     atomic.Uint64 // Current tick counter (monotonic, never resets)
	overruns atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a simulation engine with the given tick period.
func NewEngine(interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		Interval:     interval,
		SummaryEvery: 50,
	}
}

// Start launches the loop in its own goroutine. Calling Start on a running
// engine is a no-op and returns false.
func (e *Engine) Start(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done != nil {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	go func() {
		defer close(done)
		e.Run(ctx)
	}()
	return true
}

// Stop signals the loop to exit and waits for the in-flight tick to finish.
// The engine reports running, and Start refuses, until that wait is over.
// Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()

	if done == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-done

	e.mu.Lock()
	if e.done == done {
		e.done = nil
	}
	e.mu.Unlock()
}

// Running reports whether the loop goroutine is active. A loop that has been
// told to stop counts as running until its last tick returns.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done != nil
}

// Tick returns the number of ticks completed so far.
func (e *Engine) Tick() uint64 {
	return e.tick.Load()
}

// Overruns returns how many ticks took longer than the interval.
func (e *Engine) Overruns() uint64 {
	return e.overruns.Load()
}

// Run executes ticks until ctx is cancelled. Cancellation is checked between
// ticks only; a tick in progress always runs to completion.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("simulation engine started", "tick", e.Tick(), "interval", e.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for ctx.Err() == nil {
		start := time.Now()

		e.Step(context.WithoutCancel(ctx))

		// Sleep for the remainder of the tick interval.
		elapsed := time.Since(start)
		if elapsed >= e.Interval {
			e.overruns.Add(1)
			continue
		}
		timer.Reset(e.Interval - elapsed)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Tick(), "overruns", e.Overruns())
}

// Step advances the simulation by exactly one tick.
func (e *Engine) Step(ctx context.Context) {
	tick := e.tick.Add(1)

	if e.OnTick != nil {
		e.OnTick(ctx, tick, e.Interval)
	}

	if e.SummaryEvery > 0 && tick%e.SummaryEvery == 0 && e.OnSummary != nil {
		e.OnSummary(tick)
	}
}
