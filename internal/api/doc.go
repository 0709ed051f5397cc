// Package api exposes the request pipeline over HTTP. It validates incoming
// generation requests, maps pipeline errors to status codes without leaking
// their text, and serves statistics, cache control, health and metrics.
package api
