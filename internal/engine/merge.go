package engine

import "github.com/roach88/shoplist/internal/ir"

// MergeDocs reconciles two full snapshots of the same list and returns the
// merged document. Neither input is mutated.
//
// Ties on item UpdatedAt and on ListNameUpdatedAt favour incoming, which
// differs from ApplyOp's upsert (ties keep the existing item). Both rules are
// pinned by tests.
//
// Snapshots of different lists are never merged: current is returned as is.
// Use SameList to detect that case before calling.
func MergeDocs(incoming, current ir.Doc) ir.Doc {
	if !SameList(incoming, current) {
		return current
	}

	out := current.Clone()

	for id, ts := range incoming.Tombstones {
		if cur, ok := out.Tombstones[id]; !ok || ts > cur {
			out.Tombstones[id] = ts
		}
	}

	for id, item := range incoming.Items {
		if ts, ok := out.Tombstones[id]; ok && ts >= item.UpdatedAt {
			continue
		}
		if existing, ok := out.Items[id]; ok && existing.UpdatedAt > item.UpdatedAt {
			continue
		}
		out.Items[id] = item
	}

	for id, item := range out.Items {
		if ts, ok := out.Tombstones[id]; ok && ts >= item.UpdatedAt {
			delete(out.Items, id)
		}
	}

	if incoming.ListNameUpdatedAt >= current.ListNameUpdatedAt {
		out.ListName = incoming.ListName
		out.ListNameUpdatedAt = incoming.ListNameUpdatedAt
	}

	out.UpdatedAt = max(incoming.UpdatedAt, current.UpdatedAt)
	return out
}

// SameList reports whether two documents describe the same list.
func SameList(a, b ir.Doc) bool {
	return a.ListID == b.ListID
}
