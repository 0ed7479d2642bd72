package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shoplist/internal/ir"
)

func TestEncodeDecode_Op(t *testing.T) {
	item := ir.Item{ID: "1", Text: "milk", UpdatedAt: 100, UpdatedBy: "alice"}
	env := ir.EncodeOp(ir.Upsert{Meta: ir.Meta{OpID: "op-1", TS: 100}, Item: item})

	data, err := Encode(NewOpMessage("alice", "", env))
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindOp, msg.Kind)
	assert.Equal(t, ir.WireVersion, msg.V)
	require.NotNil(t, msg.Op)

	op, err := msg.Op.Decode()
	require.NoError(t, err)
	assert.Equal(t, item, op.(ir.Upsert).Item)
}

func TestEncodeDecode_State(t *testing.T) {
	doc := ir.NewDoc("list-1")
	doc.Items["1"] = ir.Item{ID: "1", Text: "milk", UpdatedAt: 100}
	doc.Tombstones["2"] = 90
	doc.UpdatedAt = 100

	data, err := Encode(NewStateMessage("alice", "bob", doc))
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "bob", msg.To)
	require.NotNil(t, msg.Doc)
	assert.True(t, doc.Equal(*msg.Doc))
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"no sender", `{"kind":"hello"}`},
		{"unknown kind", `{"kind":"gossip","from":"a"}`},
		{"op without op", `{"kind":"op","from":"a"}`},
		{"state without doc", `{"kind":"state","from":"a"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestAddressed(t *testing.T) {
	assert.True(t, Addressed(Message{From: "a"}, "b"))
	assert.True(t, Addressed(Message{From: "a", To: "b"}, "b"))
	assert.False(t, Addressed(Message{From: "a", To: "c"}, "b"))
	assert.False(t, Addressed(Message{From: "b"}, "b"), "own frames are never delivered")
}

func TestDispatch(t *testing.T) {
	var ops, states []string
	h := Handlers{
		OnOp:    func(from string, env ir.Envelope) { ops = append(ops, from+":"+env.OpID) },
		OnState: func(from string, doc ir.Doc) { states = append(states, from+":"+doc.ListID) },
	}

	env := ir.Envelope{Type: ir.OpRemove, OpID: "op-1", ItemID: "1"}
	Dispatch(h, NewOpMessage("a", "", env))
	Dispatch(h, NewStateMessage("b", "", ir.NewDoc("list-1")))
	Dispatch(h, NewPresenceMessage(KindHello, "c"))
	Dispatch(Handlers{}, NewOpMessage("a", "", env))

	assert.Equal(t, []string{"a:op-1"}, ops)
	assert.Equal(t, []string{"b:list-1"}, states)
}

func TestPeerSet(t *testing.T) {
	s := NewPeerSet()
	t0 := time.Unix(0, 0)

	assert.True(t, s.Touch("b", t0))
	assert.True(t, s.Touch("a", t0.Add(time.Second)))
	assert.False(t, s.Touch("b", t0.Add(2*time.Second)), "refreshing a known peer is not a join")
	assert.Equal(t, []string{"a", "b"}, s.List())

	gone := s.Expire(t0.Add(1500 * time.Millisecond))
	assert.Equal(t, []string{"a"}, gone)
	assert.Equal(t, 1, s.Len())

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
}
