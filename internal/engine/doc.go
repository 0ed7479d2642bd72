// Package engine implements the shoplist replication core.
//
// The engine folds operations and snapshots into a replica's document and
// decides what reaches the network. Replicas never coordinate; they converge
// because every fold is deterministic over timestamps and tombstones.
//
// ARCHITECTURE:
//
// Pure functions:
//   - ApplyOp(doc, op) folds one operation into a document
//   - MergeDocs(incoming, current) reconciles two full snapshots
//
// Both are total: they never fail and never mutate their inputs. ApplyOp is
// idempotent and commutative for operations on different ids or fields.
// MergeDocs is idempotent and commutative up to its documented tie-breaks.
//
// Single-Writer Replica Loop:
// A Replica owns exactly one mutable document. Transport callbacks and local
// user actions enqueue events; Replica.Run dequeues them one at a time:
//  1. Inbound ops pass the dedup Gate, then ApplyOp
//  2. Inbound snapshots for the same list pass through MergeDocs
//  3. Every accepted change is persisted, then broadcast fire-and-forget
//  4. Tickers in the same loop clear the Gate and rebroadcast snapshots
//
// Because only Run touches the document there is no lock on it. Send
// failures are logged and ignored; the next snapshot exchange repairs them.
//
// ORDERING:
//
// The transport gives no ordering or exactly-once guarantee. For any field,
// the write carrying the larger timestamp wins regardless of arrival order:
//   - Items: per-item UpdatedAt, with per-id tombstones
//   - List name: ListNameUpdatedAt
//
// Tombstones are never collected. Long-lived lists keep one tombstone per
// deleted item id.
package engine
