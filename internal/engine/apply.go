package engine

import "github.com/roach88/shoplist/internal/ir"

// ApplyOp folds one operation into a document and returns the result.
//
// ApplyOp is pure and total: doc is never mutated, and every drop/no-op path
// returns doc itself. Callers must not assume UpdatedAt changes on every call.
//
// Rules:
//   - Upsert: dropped when a tombstone >= item.UpdatedAt exists, or when the
//     existing item is strictly newer (ties keep the existing item)
//   - Toggle: dropped when the item is missing, tombstoned at >= ts, or
//     updated strictly after ts
//   - Remove: dropped when a tombstone >= ts exists; otherwise the tombstone
//     is raised to ts and the item is deleted unless it was written after ts
//   - Rename: dropped when ts < ListNameUpdatedAt (ties let the rename through)
func ApplyOp(doc ir.Doc, op ir.Op) ir.Doc {
	switch o := op.(type) {
	case ir.Upsert:
		return applyUpsert(doc, o)
	case ir.Toggle:
		return applyToggle(doc, o)
	case ir.Remove:
		return applyRemove(doc, o)
	case ir.Rename:
		return applyRename(doc, o)
	default:
		// ir.Op is sealed; nothing else can reach here.
		return doc
	}
}

func applyUpsert(doc ir.Doc, op ir.Upsert) ir.Doc {
	item := op.Item
	if ts, ok := doc.Tombstones[item.ID]; ok && ts >= item.UpdatedAt {
		return doc
	}
	if existing, ok := doc.Items[item.ID]; ok && existing.UpdatedAt > item.UpdatedAt {
		return doc
	}

	next := doc.Clone()
	next.Items[item.ID] = item
	next.UpdatedAt = max(next.UpdatedAt, op.TS)
	return next
}

func applyToggle(doc ir.Doc, op ir.Toggle) ir.Doc {
	existing, ok := doc.Items[op.ItemID]
	if !ok {
		return doc
	}
	if ts, ok := doc.Tombstones[op.ItemID]; ok && ts >= op.TS {
		return doc
	}
	if existing.UpdatedAt > op.TS {
		return doc
	}

	next := doc.Clone()
	existing.Checked = op.Checked
	existing.UpdatedAt = op.TS
	existing.UpdatedBy = op.ActorID
	next.Items[op.ItemID] = existing
	next.UpdatedAt = max(next.UpdatedAt, op.TS)
	return next
}

func applyRemove(doc ir.Doc, op ir.Remove) ir.Doc {
	if ts, ok := doc.Tombstones[op.ItemID]; ok && ts >= op.TS {
		return doc
	}

	next := doc.Clone()
	next.Tombstones[op.ItemID] = op.TS
	if existing, ok := next.Items[op.ItemID]; ok && existing.UpdatedAt <= op.TS {
		delete(next.Items, op.ItemID)
	}
	next.UpdatedAt = max(next.UpdatedAt, op.TS)
	return next
}

func applyRename(doc ir.Doc, op ir.Rename) ir.Doc {
	if op.TS < doc.ListNameUpdatedAt {
		return doc
	}
	if doc.ListName == op.ListName && doc.ListNameUpdatedAt == op.TS && doc.UpdatedAt >= op.TS {
		return doc
	}

	next := doc.Clone()
	next.ListName = op.ListName
	next.ListNameUpdatedAt = op.TS
	next.UpdatedAt = max(next.UpdatedAt, op.TS)
	return next
}

// ApplyAll folds a sequence of operations in order.
func ApplyAll(doc ir.Doc, ops ...ir.Op) ir.Doc {
	for _, op := range ops {
		doc = ApplyOp(doc, op)
	}
	return doc
}
