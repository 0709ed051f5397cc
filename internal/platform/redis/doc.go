// Package redis implements store.Store on top of a Redis server, so that
// statistics and the stored API key survive restarts and can be shared by
// several relay processes.
package redis
