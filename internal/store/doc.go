// Package store persists learning records in a single SQLite file.
//
// All writes are short IMMEDIATE transactions bounded by a lock budget, so
// concurrent hook processes never lose updates and never block indefinitely.
// Reads are single statements and see a consistent snapshot under WAL.
//
// Driver errors are mapped onto memory.ErrStoreUnavailable (lock contention,
// unopenable path) and memory.ErrCorrupt (not a database, undecodable rows).
package store
