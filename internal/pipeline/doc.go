// Package pipeline drives one task through fetch, convert and transcribe.
//
// The Driver runs each submitted task on a bounded ants worker pool and
// reports stage checkpoints to a Reporter. The stages themselves sit behind
// narrow interfaces; the exec-backed implementations shell out to yt-dlp,
// ffmpeg and the whisper CLI. Any stage error ends the task with a single
// error report. Nothing is retried.
package pipeline
