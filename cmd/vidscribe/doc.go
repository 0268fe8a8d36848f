// Command vidscribe runs the transcription daemon and talks to it over HTTP.
//
// `vidscribe daemon` runs the server in the foreground; `start` and `stop`
// manage a detached instance. `submit`, `status`, `watch` and `list` are
// thin clients of the daemon API.
package main
