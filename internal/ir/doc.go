// Package ir provides the replicated document types for shoplist.
//
// This package contains type definitions and their encodings only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// document model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Timestamps are int64 Unix milliseconds; there are no floats anywhere
//   - Item ids, op ids and actor ids are opaque strings
//   - All JSON tags use snake_case
//   - Op is a closed sum type: Upsert, Toggle, Remove, Rename
//   - A Doc never holds an item whose tombstone is >= the item's UpdatedAt
package ir
