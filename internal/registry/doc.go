// Package registry holds the in-memory table of transcription tasks.
//
// A Registry is an explicitly owned value: the daemon constructs one and
// hands it to the progress publisher (the only writer) and to the observer
// endpoints (read-only through Get and List). Reads always return copies.
//
// Terminal tasks are kept for a retention window and then reaped by Run;
// reaped ids are forgotten entirely and may be submitted again.
package registry
