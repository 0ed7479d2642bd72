package engine

import (
	"sync"

	"github.com/roach88/shoplist/internal/ir"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeLocalOp is an operation produced by this device.
	EventTypeLocalOp EventType = iota + 1
	// EventTypeInboundOp is an operation envelope received from a peer.
	EventTypeInboundOp
	// EventTypeInboundState is a full snapshot received from a peer.
	EventTypeInboundState
	// EventTypePeerJoin announces a newly connected peer.
	EventTypePeerJoin
	// EventTypePeerLeave announces a departed peer.
	EventTypePeerLeave
)

// String returns a short name for logs.
func (t EventType) String() string {
	switch t {
	case EventTypeLocalOp:
		return "local_op"
	case EventTypeInboundOp:
		return "inbound_op"
	case EventTypeInboundState:
		return "inbound_state"
	case EventTypePeerJoin:
		return "peer_join"
	case EventTypePeerLeave:
		return "peer_leave"
	default:
		return "unknown"
	}
}

// Event wraps everything the Run loop processes.
// Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	Op       ir.Op
	Envelope ir.Envelope
	Doc      *ir.Doc
	Peer     string
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so a transport callback never blocks on a slow
// Run loop; a burst of inbound ops simply waits its turn.
//
// Transport goroutines and local callers enqueue; only Replica.Run dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64), // Pre-allocate for typical workloads
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not pin the snapshot
	// and op payloads.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
