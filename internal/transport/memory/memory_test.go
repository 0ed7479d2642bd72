package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shoplist/internal/ir"
	"github.com/roach88/shoplist/internal/transport"
)

type inbox struct {
	mu     sync.Mutex
	ops    []string
	states []string
	joins  []string
	leaves []string
}

func (in *inbox) handlers() transport.Handlers {
	return transport.Handlers{
		OnOp: func(from string, env ir.Envelope) {
			in.mu.Lock()
			defer in.mu.Unlock()
			in.ops = append(in.ops, from+":"+env.OpID)
		},
		OnState: func(from string, doc ir.Doc) {
			in.mu.Lock()
			defer in.mu.Unlock()
			in.states = append(in.states, from+":"+doc.ListID)
		},
		OnPeerJoin: func(peer string) {
			in.mu.Lock()
			defer in.mu.Unlock()
			in.joins = append(in.joins, peer)
		},
		OnPeerLeave: func(peer string) {
			in.mu.Lock()
			defer in.mu.Unlock()
			in.leaves = append(in.leaves, peer)
		},
	}
}

func join(t *testing.T, hub *Hub, id string) (*Transport, *inbox) {
	t.Helper()
	tr := hub.Join(id)
	in := &inbox{}
	tr.Subscribe(in.handlers())
	require.NoError(t, tr.Start(context.Background()))
	return tr, in
}

var env = ir.Envelope{Type: ir.OpRemove, OpID: "op-1", ItemID: "1", TS: 1}

func TestHub_PresenceBothWays(t *testing.T) {
	hub := NewHub()
	a, inA := join(t, hub, "a")
	_, inB := join(t, hub, "b")

	assert.Equal(t, []string{"b"}, inA.joins)
	assert.Equal(t, []string{"a"}, inB.joins)
	assert.Equal(t, []string{"a", "b"}, hub.Members())

	require.NoError(t, a.Close())
	assert.Equal(t, []string{"a"}, inB.leaves)
	assert.Equal(t, []string{"b"}, hub.Members())
}

func TestHub_BroadcastAndDirected(t *testing.T) {
	hub := NewHub()
	a, inA := join(t, hub, "a")
	_, inB := join(t, hub, "b")
	_, inC := join(t, hub, "c")
	ctx := context.Background()

	require.NoError(t, a.BroadcastOp(ctx, env, ""))
	require.NoError(t, a.BroadcastState(ctx, ir.NewDoc("list-1"), "c"))

	assert.Empty(t, inA.ops, "sender never hears itself")
	assert.Equal(t, []string{"a:op-1"}, inB.ops)
	assert.Equal(t, []string{"a:op-1"}, inC.ops)
	assert.Empty(t, inB.states)
	assert.Equal(t, []string{"a:list-1"}, inC.states)
	assert.Equal(t, 3, hub.Sent())
}

func TestHub_DuplicateAndFilter(t *testing.T) {
	hub := NewHub()
	a, _ := join(t, hub, "a")
	_, inB := join(t, hub, "b")
	_, inC := join(t, hub, "c")
	ctx := context.Background()

	hub.SetDuplicate(true)
	hub.SetFilter(func(from, to string, msg transport.Message) bool { return to != "c" })
	require.NoError(t, a.BroadcastOp(ctx, env, ""))

	assert.Equal(t, []string{"a:op-1", "a:op-1"}, inB.ops)
	assert.Empty(t, inC.ops)
}

func TestTransport_SendRequiresStart(t *testing.T) {
	hub := NewHub()
	tr := hub.Join("a")
	assert.ErrorIs(t, tr.BroadcastOp(context.Background(), env, ""), transport.ErrClosed)

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.BroadcastOp(context.Background(), env, ""), transport.ErrClosed)
	assert.ErrorIs(t, tr.Start(context.Background()), transport.ErrClosed)
}

func TestTransport_DuplicateMember(t *testing.T) {
	hub := NewHub()
	join(t, hub, "a")
	assert.Error(t, hub.Join("a").Start(context.Background()))
}

func TestTransport_CancelledContext(t *testing.T) {
	hub := NewHub()
	a, _ := join(t, hub, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.BroadcastOp(ctx, env, ""), context.Canceled)
}
