// Package broadcast delivers encoded simulation snapshots to subscribers:
// websocket clients through a Hub and other processes through NATS. The
// simulation writes into a Queue and never waits on delivery.
package broadcast

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Sink receives encoded snapshots from a Queue.
type Sink interface {
	Send(data []byte) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(data []byte) error

// Send calls f(data).
func (f SinkFunc) Send(data []byte) error { return f(data) }

// Multi fans one message out to several sinks. A failing sink does not stop
// delivery to the rest.
type Multi []Sink

// Send delivers data to every sink and returns the first error seen.
func (m Multi) Send(data []byte) error {
	var first error
	for _, s := range m {
		if err := s.Send(data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Queue is a bounded, non-blocking hand-off between the simulation loop and a
// Sink. When the sink falls behind, new messages are dropped.
type Queue struct {
	ch   chan []byte
	sink Sink

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewQueue creates a queue holding up to size pending messages.
func NewQueue(size int, sink Sink) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan []byte, size), sink: sink}
}

// Publish enqueues data without blocking.
func (q *Queue) Publish(data []byte) {
	select {
	case q.ch <- data:
	default:
		if q.dropped.Add(1)%100 == 1 {
			slog.Warn("broadcast queue full, dropping snapshots", "dropped", q.dropped.Load())
		}
	}
}

// Run delivers queued messages until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-q.ch:
			if err := q.sink.Send(data); err != nil {
				slog.Warn("snapshot delivery failed", "error", err)
				continue
			}
			q.delivered.Add(1)
		}
	}
}

// Delivered returns the number of messages handed to the sink successfully.
func (q *Queue) Delivered() uint64 { return q.delivered.Load() }

// Dropped returns the number of messages discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
