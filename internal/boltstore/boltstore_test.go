package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

var _ engine.Persister = (*Store)(nil)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testDoc(listID string) ir.Doc {
	doc := ir.NewDoc(listID)
	doc.ListName = "Groceries"
	doc.ListNameUpdatedAt = 10
	doc.Items["item-1"] = ir.Item{ID: "item-1", Text: "milk", Checked: true, UpdatedAt: 100, UpdatedBy: "alice"}
	doc.Tombstones["item-2"] = 50
	doc.UpdatedAt = 100
	return doc
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bolt")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveDoc(ctx, testDoc("list-1")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.LoadDoc(ctx, "list-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, testDoc("list-1").Equal(got))
}

func TestSession_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := ir.Session{ActorID: "a", UserName: "alice", ListID: "list-1", InviteCode: "AB-CD-EF", Role: ir.RoleOwner}
	require.NoError(t, s.SaveSession(ctx, want))

	got, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, s.ClearSession(ctx))
	_, ok, err = s.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadDoc_MalformedIsAbsent(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not json", `nope`},
		{"other list", `{"list_id":"list-2"}`},
		{"shadowed item", `{"list_id":"list-1","items":{"a":{"id":"a","updated_at":1}},"tombstones":{"a":2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestStore(t)
			ctx := context.Background()
			require.NoError(t, s.put(ctx, engine.DocKey("list-1"), []byte(tt.value)))

			_, ok, err := s.LoadDoc(ctx, "list-1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLoadSession_MalformedIsAbsent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.put(ctx, engine.SessionKey, []byte(`{"actor_id":"a"}`)))

	_, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveDoc_CanonicalBytes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := testDoc("list-1")
	require.NoError(t, s.SaveDoc(ctx, doc))

	raw, err := s.get(ctx, engine.DocKey("list-1"))
	require.NoError(t, err)
	want, err := ir.MarshalCanonical(doc)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(raw))
}

func TestQueue_FIFOAndDrop(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ops, err := s.Pending(ctx, "list-1")
	require.NoError(t, err)
	assert.NotNil(t, ops)
	assert.Empty(t, ops)

	queued := []ir.PendingOp{
		{Type: ir.PendingAdd, Text: "milk"},
		{Type: ir.PendingEdit, ItemID: "srv-1", Text: "oat milk"},
		{Type: ir.PendingRemove, ItemID: "srv-2"},
	}
	for _, op := range queued {
		require.NoError(t, s.Enqueue(ctx, "list-1", op))
	}
	require.NoError(t, s.Enqueue(ctx, "list-2", ir.PendingOp{Type: ir.PendingRename, Name: "Other"}))

	ops, err = s.Pending(ctx, "list-1")
	require.NoError(t, err)
	assert.Equal(t, queued, ops)

	require.NoError(t, s.DropPending(ctx, "list-1", 2))
	ops, err = s.Pending(ctx, "list-1")
	require.NoError(t, err)
	assert.Equal(t, queued[2:], ops)

	require.NoError(t, s.Enqueue(ctx, "list-1", ir.PendingOp{Type: ir.PendingAdd, Text: "eggs"}))
	require.NoError(t, s.DropPending(ctx, "list-1", 1))
	ops, err = s.Pending(ctx, "list-1")
	require.NoError(t, err)
	assert.Equal(t, []ir.PendingOp{{Type: ir.PendingAdd, Text: "eggs"}}, ops, "entries queued after the dropped ones stay")

	require.NoError(t, s.DropPending(ctx, "list-1", 5))
	ops, err = s.Pending(ctx, "list-1")
	require.NoError(t, err)
	assert.Empty(t, ops)

	ops, err = s.Pending(ctx, "list-2")
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestQueue_DropUnknownList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, "list-1", ir.PendingOp{Type: ir.PendingAdd, Text: "milk"}))

	require.NoError(t, s.DropPending(ctx, "list-2", 1))
	require.NoError(t, s.DropPending(ctx, "list-1", 0))

	ops, err := s.Pending(ctx, "list-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "milk", ops[0].Text)
}

func TestQueue_SkipsMalformedEntries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Enqueue(ctx, "list-1", ir.PendingOp{Type: ir.PendingAdd, Text: "milk"}))

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket).Bucket([]byte(engine.QueueKey("list-1")))
		return b.Put(seqKey(99), []byte("garbage"))
	})
	require.NoError(t, err)

	ops, err := s.Pending(ctx, "list-1")
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestCancelledContext(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.SaveDoc(ctx, testDoc("list-1")))
	_, _, err := s.LoadDoc(ctx, "list-1")
	assert.Error(t, err)
}
