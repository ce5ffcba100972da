// Package store provides persistent storage for in-process agents using SQLite.
//
// NoteStore is the only interface: per-owner key/value notes used by the
// notes agent. SQLiteStore implements it on modernc.org/sqlite, so the
// binary needs no cgo.
//
// Pass MemoryPath to NewSQLiteStore for a throwaway database in tests.
// File databases run in WAL mode; their parent directory is created on open.
//
// Lookups of missing notes return ErrNotFound.
package store
