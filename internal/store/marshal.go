package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/shoplist/internal/ir"
)

// marshalDoc converts a document to canonical JSON TEXT plus its digest.
func marshalDoc(doc ir.Doc) (string, string, error) {
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return "", "", fmt.Errorf("marshal doc: %w", err)
	}
	digest, err := ir.DocDigest(doc)
	if err != nil {
		return "", "", fmt.Errorf("digest doc: %w", err)
	}
	return string(data), digest, nil
}

// unmarshalDoc parses a stored document and checks it is usable for listID.
// Nil maps in the stored JSON come back as empty maps.
func unmarshalDoc(data, listID string) (ir.Doc, error) {
	var doc ir.Doc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return ir.Doc{}, fmt.Errorf("unmarshal doc: %w", err)
	}
	if doc.ListID != listID {
		return ir.Doc{}, fmt.Errorf("unmarshal doc: record holds list %q, want %q", doc.ListID, listID)
	}
	if err := doc.Validate(); err != nil {
		return ir.Doc{}, fmt.Errorf("unmarshal doc: %w", err)
	}
	return doc.Clone(), nil
}

// marshalJSON encodes v without HTML escaping, matching the canonical form
// used for documents.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// marshalSession converts a session to JSON TEXT.
func marshalSession(s ir.Session) (string, error) {
	data, err := marshalJSON(s)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

// unmarshalSession parses a stored session. A session missing the fields a
// replica needs is rejected.
func unmarshalSession(data string) (ir.Session, error) {
	var s ir.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return ir.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if !s.Valid() {
		return ir.Session{}, fmt.Errorf("unmarshal session: incomplete session")
	}
	return s, nil
}

// marshalPending converts a queued op to JSON TEXT.
func marshalPending(op ir.PendingOp) (string, error) {
	if err := op.Validate(); err != nil {
		return "", fmt.Errorf("marshal pending op: %w", err)
	}
	data, err := marshalJSON(op)
	if err != nil {
		return "", fmt.Errorf("marshal pending op: %w", err)
	}
	return data, nil
}

// unmarshalPending parses a queued op.
func unmarshalPending(data string) (ir.PendingOp, error) {
	var op ir.PendingOp
	if err := json.Unmarshal([]byte(data), &op); err != nil {
		return ir.PendingOp{}, fmt.Errorf("unmarshal pending op: %w", err)
	}
	if err := op.Validate(); err != nil {
		return ir.PendingOp{}, fmt.Errorf("unmarshal pending op: %w", err)
	}
	return op, nil
}
