// Package services holds the small shared pieces the pipeline, publisher and
// HTTP layer agree on: context helpers that carry the task id, stage and
// request id for logging, and error markers that classify failures of
// external tools (yt-dlp, ffmpeg, whisper) before they become error
// snapshots.
package services
