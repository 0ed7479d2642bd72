package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

func TestSaveDoc_CanonicalJSON(t *testing.T) {
	s := createTestStore(t)
	doc := createTestDoc("list-1")

	require.NoError(t, s.SaveDoc(context.Background(), doc))

	var value, digest string
	err := s.db.QueryRow(`SELECT value, digest FROM records WHERE key = ?`, engine.DocKey("list-1")).Scan(&value, &digest)
	require.NoError(t, err)

	want, err := ir.MarshalCanonical(doc)
	require.NoError(t, err)
	assert.Equal(t, string(want), value)
	assert.Equal(t, ir.MustDocDigest(doc), digest)
}

func TestSaveDoc_Overwrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	doc := createTestDoc("list-1")
	require.NoError(t, s.SaveDoc(ctx, doc))

	doc.ListName = "Hardware"
	doc.ListNameUpdatedAt = 200
	doc.UpdatedAt = 200
	require.NoError(t, s.SaveDoc(ctx, doc))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&count))
	assert.Equal(t, 1, count)

	got, ok, err := s.LoadDoc(ctx, "list-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hardware", got.ListName)
}

func TestSaveDoc_SameContentSameDigest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	doc := createTestDoc("list-1")

	require.NoError(t, s.SaveDoc(ctx, doc))
	first, ok, err := s.DocDigest(ctx, "list-1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.SaveDoc(ctx, doc.Clone()))
	second, _, err := s.DocDigest(ctx, "list-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSaveDoc_ContextCancelled(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SaveDoc(ctx, createTestDoc("list-1"))
	assert.Error(t, err)
}

func TestSaveSession_ReplacesPrevious(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, createTestSession("list-1")))
	require.NoError(t, s.SaveSession(ctx, createTestSession("list-2")))

	got, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "list-2", got.ListID)
}

func TestClearSession_KeepsDocs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, createTestSession("list-1")))
	require.NoError(t, s.SaveDoc(ctx, createTestDoc("list-1")))
	require.NoError(t, s.ClearSession(ctx))

	_, ok, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.LoadDoc(ctx, "list-1")
	require.NoError(t, err)
	assert.True(t, ok, "cached doc survives leaving the list")
}

func TestClearSession_NoSession(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.ClearSession(context.Background()))
}

func TestEnqueue_RejectsInvalidOp(t *testing.T) {
	s := createTestStore(t)

	err := s.Enqueue(context.Background(), "list-1", ir.PendingOp{Type: ir.PendingToggle})
	assert.Error(t, err)

	ops, err := s.Pending(context.Background(), "list-1")
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDropPending_KeepsLaterEnqueues(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"a", "b"} {
		require.NoError(t, s.Enqueue(ctx, "list-1", ir.PendingOp{Type: ir.PendingAdd, Text: text}))
	}
	read, err := s.Pending(ctx, "list-1")
	require.NoError(t, err)
	require.Len(t, read, 2)

	// Another process queues while the first two are being replayed
	require.NoError(t, s.Enqueue(ctx, "list-1", ir.PendingOp{Type: ir.PendingAdd, Text: "c"}))
	require.NoError(t, s.DropPending(ctx, "list-1", len(read)))

	ops, err := s.Pending(ctx, "list-1")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "c", ops[0].Text)
}

func TestDropPending_Zero(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, "list-1", ir.PendingOp{Type: ir.PendingAdd, Text: "milk"}))
	require.NoError(t, s.DropPending(ctx, "list-1", 0))
	require.NoError(t, s.DropPending(ctx, "list-2", 3))

	ops, err := s.Pending(ctx, "list-1")
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}
