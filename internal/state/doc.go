// Package state persists script instance snapshots.
//
// A Snapshot captures everything needed to resume a script after a
// restart: variable bindings, the current state name, the pending event
// queue, plugin data and permissions. Snapshots are serialized to XML
// (Marshal/Unmarshal) and stored as opaque bytes keyed by script item ID
// in a Store. Writers compare Hash values to skip unchanged saves.
//
// Three Store backends are provided:
//   - FileStore: one file per item under a data directory
//   - SQLiteStore: one row per item in a local SQLite database
//   - PostgresStore: one row per item in a shared PostgreSQL database
package state
