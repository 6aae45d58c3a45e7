// Package storage persists job run history.
//
// Drivers:
//   - "file": JSON Lines, one record per run
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
