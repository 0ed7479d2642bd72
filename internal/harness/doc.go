// Package harness runs convergence scenarios against real replicas.
//
// A scenario names a few replicas of one list, makes local changes on them,
// and moves traffic between them one explicit step at a time. Nothing is
// delivered unless a step says so, which makes partitions, reordering and
// duplicate delivery easy to script.
//
// # Scenario Format
//
//	name: stale_remove
//	description: "A remove older than the latest toggle leaves the item"
//	replicas: [alice, bob]
//	steps:
//	  - do: upsert
//	    replica: alice
//	    id: "1"
//	    text: milk
//	    ts: 100
//	  - do: deliver
//	    from: alice
//	    to: bob
//	  - do: sync
//	    from: bob
//	    to: alice
//	assertions:
//	  - type: item
//	    replica: bob
//	    id: "1"
//	    expect: { text: milk, checked: false }
//	  - type: converged
//
// Step kinds: upsert, toggle, remove and rename run on one replica with an
// explicit timestamp. deliver hands over the ops one replica emitted that
// the other has not seen; redeliver hands over all of them again; sync
// merges a full snapshot.
//
// # Assertion Types
//
//   - item: subset match on text, checked, updated_at and updated_by
//   - absent: the item is not live
//   - tombstone: the tombstone for an id has an exact timestamp
//   - list_name: the list name equals the given name
//   - converged: every replica holds the same document
//   - duplicates: how many inbound ops a replica's gate dropped
//
// # Determinism
//
// Steps run on the calling goroutine against engine.Replica's handlers, so
// no Run loop, ticker or wall clock is involved. Every replica persists to
// its own in-memory SQLite store, and Run checks that the persisted copy
// matches the live one. Golden snapshots are canonical JSON.
package harness
