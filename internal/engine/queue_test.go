package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shoplist/internal/ir"
)

func TestEventQueue_EnqueueDequeue(t *testing.T) {
	q := newEventQueue()

	ok := q.Enqueue(Event{Type: EventTypeLocalOp, Op: rename("op-1", 1, "x")})
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, EventTypeLocalOp, got.Type)
	assert.Equal(t, "op-1", got.Op.OpMeta().OpID)
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, peer := range []string{"A", "B", "C"} {
		q.Enqueue(Event{Type: EventTypePeerJoin, Peer: peer})
	}

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Peer)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_WaitSignals(t *testing.T) {
	q := newEventQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(Event{Type: EventTypeInboundOp, Envelope: ir.Envelope{OpID: "late"}})
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("wait never signalled")
	}
	e, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "late", e.Envelope.OpID)
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(Event{Type: EventTypePeerLeave, Peer: "p"})
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(Event{Type: EventTypePeerJoin}), "enqueue after close fails")

	_, ok := q.TryDequeue()
	assert.True(t, ok, "events queued before close still drain")

	select {
	case <-q.Wait():
	default:
		t.Fatal("closed queue should wake waiters")
	}
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()
	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				q.Enqueue(Event{Type: EventTypePeerJoin})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, q.Len())
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "inbound_state", EventTypeInboundState.String())
	assert.Equal(t, "unknown", EventType(99).String())
}
