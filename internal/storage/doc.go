// Package storage persists the history of dispatched messages.
//
// Two drivers are available:
//   - "file": append-only JSON Lines
//   - "sqlite": a SQLite database through the pure-Go modernc driver
package storage
