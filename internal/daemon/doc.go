// Package daemon hosts the long-running vidscribe process: it owns the task
// registry, notification hub, progress publisher and pipeline driver, holds
// the single-instance lock, and serves the HTTP observer surface.
//
// Observers can read a snapshot, long-poll for new snapshots, hold an NDJSON
// pull stream, or subscribe over WebSocket for push delivery. Every transport
// reads from the same per-task topic, so all observers see one commit order.
package daemon
