package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/shoplist/internal/engine"
	"github.com/roach88/shoplist/internal/ir"
)

// getRecord returns the value stored under key.
// Returns ("", false, nil) if the record does not exist.
func (s *Store) getRecord(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// LoadSession returns the current session.
// A missing or malformed session is reported as absent.
func (s *Store) LoadSession(ctx context.Context) (ir.Session, bool, error) {
	data, ok, err := s.getRecord(ctx, engine.SessionKey)
	if err != nil {
		return ir.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return ir.Session{}, false, nil
	}

	session, err := unmarshalSession(data)
	if err != nil {
		slog.Warn("discarding malformed record", "key", engine.SessionKey, "error", err)
		return ir.Session{}, false, nil
	}
	return session, true, nil
}

// LoadDoc returns the cached document for listID.
// A missing or malformed document is reported as absent.
func (s *Store) LoadDoc(ctx context.Context, listID string) (ir.Doc, bool, error) {
	key := engine.DocKey(listID)
	data, ok, err := s.getRecord(ctx, key)
	if err != nil {
		return ir.Doc{}, false, fmt.Errorf("load doc %s: %w", listID, err)
	}
	if !ok {
		return ir.Doc{}, false, nil
	}

	doc, err := unmarshalDoc(data, listID)
	if err != nil {
		slog.Warn("discarding malformed record", "key", key, "error", err)
		return ir.Doc{}, false, nil
	}
	return doc, true, nil
}

// DocDigest returns the stored digest of the cached document for listID.
// Returns ("", false, nil) if no document is cached.
func (s *Store) DocDigest(ctx context.Context, listID string) (string, bool, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM records WHERE key = ?`, engine.DocKey(listID)).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("doc digest %s: %w", listID, err)
	}
	return digest, true, nil
}

// Pending returns the offline queue of listID in FIFO order.
// Rows that fail to decode are skipped.
//
// Returns an empty slice (not nil) if the queue is empty.
func (s *Store) Pending(ctx context.Context, listID string) ([]ir.PendingOp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, payload
		FROM pending_ops
		WHERE list_id = ?
		ORDER BY seq ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("query pending ops: %w", err)
	}
	defer rows.Close()

	ops := []ir.PendingOp{}
	for rows.Next() {
		var seq int64
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan pending op: %w", err)
		}
		op, err := unmarshalPending(payload)
		if err != nil {
			slog.Warn("skipping malformed pending op", "list_id", listID, "seq", seq, "error", err)
			continue
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending ops: %w", err)
	}
	return ops, nil
}
