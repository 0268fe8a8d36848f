// Package api defines the wire-format types shared by the daemon's HTTP
// surface and the CLI, plus a client for that surface.
//
// # Key Types
//
// task.Snapshot is served as-is for a single task: it already carries the
// reference JSON shape (task_id, progress, status, message, transcription,
// error_detail).
//
// Events: one long-poll batch with the cursor to resume from.
//
// Frame: one line of the NDJSON stream or one WebSocket message. A stream is
// a sequence of snapshot frames, optional heartbeat frames, and a final end
// frame when the task reached a terminal status or the stream was cut.
//
// DaemonStatus: runtime counters, worker pool occupancy, dependency and
// preflight results.
//
// # Client
//
// Client wraps the HTTP endpoints for the CLI. Non-2xx responses become
// *Error values; IsNotFound and friends classify them.
package api
