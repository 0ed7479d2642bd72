package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeOp(t *testing.T) {
	ops := []Op{
		Upsert{Meta: Meta{OpID: "o1", TS: 100}, Item: Item{ID: "1", Text: "milk", UpdatedAt: 100, UpdatedBy: "a"}},
		Toggle{Meta: Meta{OpID: "o2", TS: 150}, ItemID: "1", Checked: true, ActorID: "b"},
		Remove{Meta: Meta{OpID: "o3", TS: 200}, ItemID: "1"},
		Rename{Meta: Meta{OpID: "o4", TS: 300}, ListName: "Weekend"},
	}

	for _, op := range ops {
		t.Run(string(op.Kind()), func(t *testing.T) {
			env := EncodeOp(op)
			assert.Equal(t, op.Kind(), env.Type)

			data, err := json.Marshal(env)
			require.NoError(t, err)

			var back Envelope
			require.NoError(t, json.Unmarshal(data, &back))

			decoded, err := back.Decode()
			require.NoError(t, err)
			assert.Equal(t, op, decoded)
		})
	}
}

func TestEnvelopeWireShape(t *testing.T) {
	env := EncodeOp(Toggle{Meta: Meta{OpID: "o2", TS: 150}, ItemID: "1", Checked: true, ActorID: "b"})
	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"toggle","op_id":"o2","ts":150,"item_id":"1","checked":true,"actor_id":"b"}`, string(data))
}

func TestEnvelopeDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"missing op id", Envelope{Type: OpRemove, ItemID: "1", TS: 1}},
		{"missing ts", Envelope{Type: OpRemove, OpID: "x", ItemID: "1"}},
		{"negative ts", Envelope{Type: OpRename, OpID: "x", TS: -5, ListName: "a"}},
		{"unknown type", Envelope{Type: "explode", OpID: "x", TS: 1}},
		{"upsert without item", Envelope{Type: OpUpsert, OpID: "x", TS: 1}},
		{"upsert with empty item id", Envelope{Type: OpUpsert, OpID: "x", TS: 1, Item: &Item{}}},
		{"upsert with unstamped item", Envelope{Type: OpUpsert, OpID: "x", TS: 1, Item: &Item{ID: "1", Text: "milk"}}},
		{"toggle without item id", Envelope{Type: OpToggle, OpID: "x", TS: 1}},
		{"remove without item id", Envelope{Type: OpRemove, OpID: "x", TS: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.env.Decode()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEnvelope)
		})
	}
}

func TestEnvelopeDecode_MissingTSOnTheWire(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"remove","op_id":"o3","item_id":"1"}`), &env))

	_, err := env.Decode()
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestOpMeta(t *testing.T) {
	op := Rename{Meta: Meta{OpID: "r", TS: 7}, ListName: "x"}
	assert.Equal(t, Meta{OpID: "r", TS: 7}, op.OpMeta())
	assert.Equal(t, OpRename, op.Kind())
}
