// Package logs reads the daemon's JSON log file for `vidscribe logs`.
//
// Last returns the final N lines with the offset to resume from, and Follow
// polls from that offset until the context ends. Filter narrows output to one
// task or a minimum level using the structured fields the daemon writes.
package logs
