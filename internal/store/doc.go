// Package store persists the client's state between runs using SQLite.
//
// Two things are kept: the login credential (a single-row credentials
// table) and the ID of the last selected conversation (a key/value settings
// table).
//
// # SQLite Configuration
//
// The store uses the pure-Go modernc.org/sqlite driver with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Database file locations:
//
//   - Default: ~/.local/share/coven/groups.db
//   - Testing: a file under t.TempDir()
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	st := store.NewMockStore()
//	// st implements Store
package store
