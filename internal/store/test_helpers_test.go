package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/shoplist/internal/ir"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestDoc creates a document with one live item and one tombstone.
func createTestDoc(listID string) ir.Doc {
	doc := ir.NewDoc(listID)
	doc.ListName = "Groceries"
	doc.ListNameUpdatedAt = 10
	doc.Items["item-1"] = ir.Item{ID: "item-1", Text: "milk", UpdatedAt: 100, UpdatedBy: "alice"}
	doc.Tombstones["item-2"] = 50
	doc.UpdatedAt = 100
	return doc
}

// createTestSession creates a member session for listID.
func createTestSession(listID string) ir.Session {
	return ir.Session{
		ActorID:    "actor-1",
		UserName:   "alice",
		ListID:     listID,
		ListName:   "Groceries",
		InviteCode: "AB12-CD34-EF56",
		Role:       ir.RoleMember,
	}
}
