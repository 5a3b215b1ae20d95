// Package audit keeps an append-only record of every write the API accepted or
// rejected.
//
// Drivers:
//   - "file": JSON Lines, one entry per line
//   - "sqlite": a single table in a SQLite database (modernc.org/sqlite, no cgo)
//
// Open returns a nil Store when the driver is empty or "none".
package audit
