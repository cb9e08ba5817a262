// Package storage persists tenant records and their activity logs.
//
// Drivers:
//   - file: JSON snapshot plus an append-only journal, compacted periodically
//   - sqlite: modernc SQLite with versioned migrations
//   - redis: one hash per tenant, a set of tenant ids, a capped log list
//
// Writes are single-field and last-writer-wins; there are no multi-field
// transactions.
package storage
