// Package store provides SQLite-backed device-local storage for shoplist.
//
// The store keeps three kinds of state:
//   - Session: the current list membership of this device
//   - Documents: the last known document per list id
//   - Pending ops: the offline queue of the remote-backend variant
//
// Sessions and documents live in one records table under the namespaced
// keys from the engine package. Documents are written as canonical JSON with
// a content digest alongside, so two devices holding the same list can be
// compared without decoding.
//
// # Malformed Records
//
// A record that fails to decode or validate is reported as absent, never as
// an error. The caller starts from a fresh document instead.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
