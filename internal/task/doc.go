// Package task defines the transcription task model shared by the registry,
// the progress publisher, and the notification hub.
//
// It owns the lifecycle statuses and the transition graph between them, the
// immutable Snapshot handed to observers, the partial Update applied by the
// pipeline, and the error taxonomy (duplicate, unknown, invalid transition)
// surfaced across package boundaries.
//
// Keep this package free of locking and I/O: concurrency lives in the
// registry and notify packages, which treat these types as plain values.
package task
