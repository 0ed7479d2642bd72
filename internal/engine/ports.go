package engine

import (
	"context"

	"github.com/roach88/shoplist/internal/ir"
)

// DocSaver persists a document after every accepted change.
type DocSaver interface {
	SaveDoc(ctx context.Context, doc ir.Doc) error
}

// Persister is the device-local storage port.
//
// Loads report a missing or malformed record as absent (ok == false, nil
// error); only I/O failures are errors. Implemented by store.Store (SQLite)
// and boltstore.Store (bbolt).
type Persister interface {
	DocSaver
	LoadDoc(ctx context.Context, listID string) (ir.Doc, bool, error)
	SaveSession(ctx context.Context, s ir.Session) error
	LoadSession(ctx context.Context) (ir.Session, bool, error)
	ClearSession(ctx context.Context) error
}

// Storage key namespace shared by every Persister implementation.
const (
	KeyPrefix      = "shoplist:"
	SessionKey     = KeyPrefix + "session"
	docKeyPrefix   = KeyPrefix + "doc:"
	queueKeyPrefix = KeyPrefix + "queue:"
)

// DocKey returns the storage key of the cached document for listID.
func DocKey(listID string) string { return docKeyPrefix + listID }

// QueueKey returns the storage key of the offline queue for listID.
func QueueKey(listID string) string { return queueKeyPrefix + listID }
