// Package gemini implements generation.Transport on top of Google's Gemini
// API using the google.golang.org/genai client.
//
// This package is an infrastructure adapter: it translates a prepared
// generation.Payload into a GenerateContent call, maps the response back to a
// generation.Result and sorts provider failures into the generation error
// taxonomy. It performs exactly one network call per GenerateContent; retry,
// rate limiting and caching belong to the pipeline that drives it.
//
// Error messages produced here follow the form
// "API request failed: <code> <status> - <message>" so that the pipeline's
// classifier and the logs see the HTTP status the provider returned.
package gemini
