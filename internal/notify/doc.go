// Package notify fans committed task snapshots out to observers.
//
// Each task gets a topic: a bounded ring of snapshots ordered by registry
// revision plus a condition variable that wakes waiters on every publish.
// Observers never share a cursor. Fetch is the long-poll primitive, Stream
// is the pull loop (value coalescing, ends after the terminal snapshot), and
// Subscribe wraps Stream into a channel for push transports.
//
// Joining observers first receive the latest committed snapshot, then every
// later one. Streams are bounded by a maximum lifetime and an idle timeout so
// a task that dies silently cannot pin observers forever.
package notify
