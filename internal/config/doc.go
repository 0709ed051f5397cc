// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file and CHATRELAY_ environment variables.
// It provides type-safe access to the settings needed by the pipeline, the
// Gemini transport, the storage backends and the HTTP server, while keeping
// configuration details separate from business logic.
package config
