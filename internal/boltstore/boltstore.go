// Package boltstore provides bbolt-backed device-local storage for shoplist.
//
// It is the single-file alternative to the SQLite store for devices where
// cgo is unavailable. Records use the same namespaced keys and the same
// canonical JSON encoding, so a document written by either store decodes
// identically.
//
// Layout:
//   - bucket "records": session and documents keyed by engine key
//   - bucket "queue": one nested bucket per engine queue key, keyed by big-endian
//     sequence number so cursor order is FIFO order
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

var (
	recordsBucket = []byte("records")
	queueBucket   = []byte("queue")
)

// Store is a bbolt-backed engine.Persister with an offline queue.
type Store struct {
	db *bolt.DB
}

// Open creates or opens a bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{recordsBucket, queueBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// bbolt transactions are not cancellable; the context is checked up front.
func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *Store) put(ctx context.Context, key string, value []byte) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Put([]byte(key), value)
	})
}

// get returns a copy of the value under key, or nil when absent.
func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.view(ctx, func(tx *bolt.Tx) error {
		if v := tx.Bucket(recordsBucket).Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// SaveSession replaces the current session.
func (s *Store) SaveSession(ctx context.Context, session ir.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := s.put(ctx, engine.SessionKey, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession returns the current session.
// A missing or malformed session is reported as absent.
func (s *Store) LoadSession(ctx context.Context) (ir.Session, bool, error) {
	data, err := s.get(ctx, engine.SessionKey)
	if err != nil {
		return ir.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if data == nil {
		return ir.Session{}, false, nil
	}

	var session ir.Session
	if err := json.Unmarshal(data, &session); err != nil || !session.Valid() {
		slog.Warn("discarding malformed record", "key", engine.SessionKey, "error", err)
		return ir.Session{}, false, nil
	}
	return session, true, nil
}

// ClearSession removes the current session. Cached documents stay.
func (s *Store) ClearSession(ctx context.Context) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).Delete([]byte(engine.SessionKey))
	})
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// SaveDoc writes the document for its list id as canonical JSON.
func (s *Store) SaveDoc(ctx context.Context, doc ir.Doc) error {
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return fmt.Errorf("save doc %s: %w", doc.ListID, err)
	}
	if err := s.put(ctx, engine.DocKey(doc.ListID), data); err != nil {
		return fmt.Errorf("save doc %s: %w", doc.ListID, err)
	}
	return nil
}

// LoadDoc returns the cached document for listID.
// A missing or malformed document is reported as absent.
func (s *Store) LoadDoc(ctx context.Context, listID string) (ir.Doc, bool, error) {
	key := engine.DocKey(listID)
	data, err := s.get(ctx, key)
	if err != nil {
		return ir.Doc{}, false, fmt.Errorf("load doc %s: %w", listID, err)
	}
	if data == nil {
		return ir.Doc{}, false, nil
	}

	var doc ir.Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("discarding malformed record", "key", key, "error", err)
		return ir.Doc{}, false, nil
	}
	if doc.ListID != listID {
		slog.Warn("discarding malformed record", "key", key, "list_id", doc.ListID)
		return ir.Doc{}, false, nil
	}
	if err := doc.Validate(); err != nil {
		slog.Warn("discarding malformed record", "key", key, "error", err)
		return ir.Doc{}, false, nil
	}
	return doc.Clone(), true, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func appendPending(b *bolt.Bucket, op ir.PendingOp) error {
	if err := op.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	return b.Put(seqKey(seq), data)
}

// Enqueue appends an op to the offline queue of listID.
func (s *Store) Enqueue(ctx context.Context, listID string, op ir.PendingOp) error {
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b, err := tx.Bucket(queueBucket).CreateBucketIfNotExists([]byte(engine.QueueKey(listID)))
		if err != nil {
			return err
		}
		return appendPending(b, op)
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", listID, err)
	}
	return nil
}

// Pending returns the offline queue of listID in FIFO order.
// Entries that fail to decode are skipped.
func (s *Store) Pending(ctx context.Context, listID string) ([]ir.PendingOp, error) {
	ops := []ir.PendingOp{}
	err := s.view(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket).Bucket([]byte(engine.QueueKey(listID)))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var op ir.PendingOp
			if err := json.Unmarshal(v, &op); err != nil {
				slog.Warn("skipping malformed pending op", "list_id", listID, "error", err)
				return nil
			}
			if err := op.Validate(); err != nil {
				slog.Warn("skipping malformed pending op", "list_id", listID, "error", err)
				return nil
			}
			ops = append(ops, op)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("pending %s: %w", listID, err)
	}
	return ops, nil
}

// DropPending removes the first n ops Pending would return for listID,
// along with any malformed entries queued among them. Later entries stay.
func (s *Store) DropPending(ctx context.Context, listID string, n int) error {
	if n <= 0 {
		return nil
	}
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(queueBucket).Bucket([]byte(engine.QueueKey(listID)))
		if b == nil {
			return nil
		}
		var drop [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil && n > 0; k, v = c.Next() {
			drop = append(drop, append([]byte(nil), k...))
			var op ir.PendingOp
			if json.Unmarshal(v, &op) == nil && op.Validate() == nil {
				n--
			}
		}
		for _, k := range drop {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("drop pending %s: %w", listID, err)
	}
	return nil
}
