package pipeline

import (
	"context"

	"vidscribe/internal/task"
)

// Reporter receives the driver's progress reports. progress.Publisher
// satisfies it.
type Reporter interface {
	Report(ctx context.Context, id string, u task.Update) error
}

// Fetcher downloads the media behind url into dir and returns the local path.
// onProgress receives download percentages in [0,100].
type Fetcher interface {
	Fetch(ctx context.Context, url, dir string, onProgress func(percent float64)) (string, error)
}

// Converter transcodes src into a mono 16 kHz WAV at dest.
type Converter interface {
	Convert(ctx context.Context, src, dest string) error
}

// Transcriber turns a WAV file into text. outDir receives any side files.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath, outDir string) (string, error)
}

// Stage checkpoints on the 0..100 task scale.
const (
	downloadStart   = 0
	downloadEnd     = 30
	convertStart    = 30
	transcribeStart = 50
	transcribeCap   = 85
	transcribeStep  = 5
	completeAt      = 100
)

const (
	stageDownloading  = string(task.StatusDownloading)
	stageConverting   = string(task.StatusConverting)
	stageTranscribing = string(task.StatusTranscribing)
)

// downloadCheckpoint maps a download percentage onto the downloading range.
func downloadCheckpoint(percent float64) int {
	switch {
	case percent <= 0:
		return downloadStart
	case percent >= 100:
		return downloadEnd
	}
	return downloadStart + int(percent*float64(downloadEnd-downloadStart)/100)
}
