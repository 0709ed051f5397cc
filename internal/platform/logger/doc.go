// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured
// JSON (or text) logging with configurable log levels. Every handler built
// here scrubs error values through the redact package, so a Gemini key in a
// provider error never reaches the log. Loggers travel in context.Context
// together with the request ID that correlates an HTTP request with its
// pipeline events.
package logger
