// Package generation defines the content-generation model shared by the
// request pipeline and the LLM adapters: the caller-facing Request, the fully
// prepared Payload sent over the wire, the Result handed back, and the error
// taxonomy used to decide whether a failed call may be retried.
//
// The Transport interface is the boundary between the application core and
// the external Gemini service; see internal/platform/gemini for the adapter.
package generation
