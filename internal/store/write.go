package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

// putRecord inserts or replaces a record.
func (s *Store) putRecord(ctx context.Context, key, value, digest string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (key, value, digest)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, digest = excluded.digest
	`, key, value, digest)
	return err
}

// SaveSession replaces the current session.
func (s *Store) SaveSession(ctx context.Context, session ir.Session) error {
	data, err := marshalSession(session)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := s.putRecord(ctx, engine.SessionKey, data, ""); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ClearSession removes the current session. The cached documents stay, so
// rejoining a list starts from its last known state.
func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, engine.SessionKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// SaveDoc writes the document for its list id as canonical JSON.
// Writing the same content twice is a no-op.
func (s *Store) SaveDoc(ctx context.Context, doc ir.Doc) error {
	data, digest, err := marshalDoc(doc)
	if err != nil {
		return fmt.Errorf("save doc %s: %w", doc.ListID, err)
	}
	if err := s.putRecord(ctx, engine.DocKey(doc.ListID), data, digest); err != nil {
		return fmt.Errorf("save doc %s: %w", doc.ListID, err)
	}
	return nil
}

// Enqueue appends an op to the offline queue of listID.
func (s *Store) Enqueue(ctx context.Context, listID string, op ir.PendingOp) error {
	payload, err := marshalPending(op)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", listID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_ops (list_id, payload) VALUES (?, ?)
	`, listID, payload)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", listID, err)
	}
	return nil
}

// DropPending removes the first n ops Pending would return for listID,
// along with any malformed rows queued among them. Ops enqueued after those
// n are kept, so a concurrent Enqueue is never lost.
func (s *Store) DropPending(ctx context.Context, listID string, n int) error {
	if n <= 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("drop pending %s: begin: %w", listID, err)
	}
	defer tx.Rollback()

	last, err := nthPendingSeq(ctx, tx, listID, n)
	if err != nil {
		return fmt.Errorf("drop pending %s: %w", listID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM pending_ops WHERE list_id = ? AND seq <= ?
	`, listID, last); err != nil {
		return fmt.Errorf("drop pending %s: delete: %w", listID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("drop pending %s: commit: %w", listID, err)
	}
	return nil
}

// nthPendingSeq returns the seq of the n-th decodable op of listID, or the
// last seq when the queue holds fewer.
func nthPendingSeq(ctx context.Context, tx *sql.Tx, listID string, n int) (int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT seq, payload
		FROM pending_ops
		WHERE list_id = ?
		ORDER BY seq ASC
	`, listID)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var last int64
	for rows.Next() {
		var payload string
		if err := rows.Scan(&last, &payload); err != nil {
			return 0, fmt.Errorf("scan: %w", err)
		}
		if _, err := unmarshalPending(payload); err != nil {
			continue
		}
		if n--; n == 0 {
			break
		}
	}
	return last, rows.Err()
}
