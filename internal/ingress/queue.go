// Package ingress implements the cross-thread, multi-producer,
// single-consumer message queue of SPEC_FULL.md §4.1. Enqueue never
// blocks and never drops; the consumer (the engine goroutine) drains the
// queue exhaustively each time it wakes.
package ingress

import (
	"sync"

	"github.com/Rohde-Schwarz/libtracy/internal/registry"
)

// Payload carries one trace event from a producer into the engine.
type Payload struct {
	Tracepoint  string
	TimestampNs uint64
	Data        []byte
}

// NewTracepoint informs the engine of a tracepoint a producer just
// registered, handing over a clone of the shared enabled flag.
type NewTracepoint struct {
	Name string
	Flag *registry.Flag
}

// Terminate requests a final flush (if connected) and engine shutdown.
type Terminate struct{}

// Message is one of Payload, NewTracepoint or Terminate.
type Message interface{}

// Queue is the producer-shared, engine-exclusive message queue. The zero
// value is not usable; construct with New.
type Queue struct {
	mu       sync.Mutex
	messages []Message
	notify   chan struct{}
}

// New returns an empty queue. notify fires (non-blockingly) whenever the
// queue transitions from empty to non-empty, so the engine's select loop
// can wait on it instead of polling.
func New() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Notify returns the channel the engine selects on to learn the queue
// became readable.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Send enqueues msg. It never blocks and never fails: per SPEC_FULL.md
// §4.1 the queue is unbounded.
func (q *Queue) Send(msg Message) {
	q.mu.Lock()
	wasEmpty := len(q.messages) == 0
	q.messages = append(q.messages, msg)
	q.mu.Unlock()

	if wasEmpty {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// DrainAll removes and returns every currently queued message. The
// engine calls this exhaustively on each readiness notification, per
// SPEC_FULL.md §4.1 and §4.7.
func (q *Queue) DrainAll() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil
	}
	drained := q.messages
	q.messages = nil
	return drained
}
