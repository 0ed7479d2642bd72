package engine

import "sync"

// Gate remembers recently seen operation ids so a duplicate delivery never
// reaches ApplyOp.
//
// The seen-set is cleared wholesale on a fixed interval (Replica does this
// from its Run loop). An op arriving after its id was cleared is still
// harmless: ApplyOp is idempotent, so the gate only saves work.
//
// Thread-safety: Gate is safe for concurrent use via internal mutex.
type Gate struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	dropped int
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{seen: make(map[string]struct{})}
}

// Admit records opID and reports whether it was new.
// A false return means the op must be discarded.
func (g *Gate) Admit(opID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[opID]; ok {
		g.dropped++
		return false
	}
	g.seen[opID] = struct{}{}
	return true
}

// MarkSeen records a locally emitted opID before it is sent, so a peer
// echoing it back is dropped.
func (g *Gate) MarkSeen(opID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[opID] = struct{}{}
}

// Seen reports whether opID is currently remembered.
func (g *Gate) Seen(opID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[opID]
	return ok
}

// Clear forgets every remembered id.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = make(map[string]struct{})
}

// Len returns the number of remembered ids.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Dropped returns how many duplicates Admit has rejected since creation.
// Clear does not reset it.
func (g *Gate) Dropped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}
