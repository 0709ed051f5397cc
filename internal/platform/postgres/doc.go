// Package postgres provides a PostgreSQL implementation of store.Store.
// It owns the connection setup, the embedded goose migrations for the
// kv_entries table, and the mapping of driver errors onto store errors.
package postgres
