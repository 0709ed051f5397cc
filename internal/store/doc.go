// Package store defines the opaque key-value persistence port used by the
// pipeline for its statistics and by the credential vault for the sealed API
// key. Callers treat a Store as get/set/remove over byte values; backends live
// in internal/platform (redis, postgres) and MemoryStore serves tests and
// single-process runs.
package store
