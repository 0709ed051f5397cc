// Package redact scrubs credentials and other sensitive fragments out of
// strings before they are logged, emitted as pipeline events or returned in
// error responses. Gemini API keys travel in request URLs and provider error
// messages, so every error that crosses a process boundary goes through here.
package redact

import (
	"log/slog"
	"regexp"
)

// Redaction placeholders.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

// rules are applied in order; earlier rules see the original text.
var rules = []rule{
	// Userinfo in storage connection strings
	{regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|rediss?|mysql|mongodb)://[^@\s/]*@`), RedactedCredentialPlaceholder},

	// Gemini API keys
	{regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), RedactedKeyPlaceholder},

	// Keys passed as URL query parameters
	{regexp.MustCompile(`([?&](?:key|api_key|access_token)=)[^&\s"']+`), "${1}" + RedactedKeyPlaceholder},

	// Authorization headers
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/]+=*`), "Bearer " + RedactedKeyPlaceholder},

	// Passwords and generic secrets in key=value form
	{regexp.MustCompile(`(?i)(?:password|passwd|pwd)[=:\s]?['"]?[^'"&\s]{3,}`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)(?:x-goog-api-key|api[_-]?key|secret|token)['"\s:=]+[A-Za-z0-9_\-.~+/]{8,}`), RedactedKeyPlaceholder},

	// Stack trace fragments, before paths so the trace goes as a whole
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), RedactedStackPlaceholder},

	// File paths
	{regexp.MustCompile(`(/[\w.-]+){2,}`), RedactedPathPlaceholder},

	// Email addresses
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), RedactedEmailPlaceholder},
}

// sensitiveKeys are log attribute keys whose string values are always scrubbed.
var sensitiveKeys = map[string]bool{
	"error":   true,
	"err":     true,
	"api_key": true,
	"url":     true,
	"dsn":     true,
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook. It scrubs every
// error value and the string values of well-known sensitive keys, leaving
// other attributes (request paths, model names) intact.
func ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, Error(err))
		}
	case slog.KindString:
		if sensitiveKeys[a.Key] {
			return slog.String(a.Key, String(a.Value.String()))
		}
	}
	return a
}
