// Package store provides SQLite-backed durable storage for the namespace
// inventory.
//
// The store persists two tables:
//   - apks: one row per scanned package identity
//   - namespaces: one row per (package, namespace) observation
//
// # Write Semantics
//
//   - Inserts are idempotent: ON CONFLICT DO NOTHING on both tables, so
//     re-scanning a directory never duplicates rows
//   - All namespace rows for one package go through a single transaction,
//     so a batch item is recorded atomically or not at all
//   - Every value is bound as a parameter; nothing from a filename or an
//     archive entry ever reaches the SQL text
//
// # Read Semantics
//
//   - All list queries carry a deterministic ORDER BY, so report output
//     is identical across runs over the same database
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
