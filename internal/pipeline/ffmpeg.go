package pipeline

import (
	"context"
	"strings"

	"vidscribe/internal/services"
)

// FFmpegCommand is the default ffmpeg executable.
const FFmpegCommand = "ffmpeg"

// FFmpeg transcodes media into the WAV format whisper expects.
type FFmpeg struct {
	Binary string
	run    CommandRunner
}

// NewFFmpeg returns a converter for binary, defaulting to ffmpeg on PATH.
func NewFFmpeg(binary string) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = FFmpegCommand
	}
	return &FFmpeg{Binary: binary, run: ExecRunner}
}

// WithCommandRunner sets a custom command runner (for testing).
func (f *FFmpeg) WithCommandRunner(runner CommandRunner) {
	f.run = runner
}

// Convert writes a mono 16 kHz PCM WAV of src to dest.
func (f *FFmpeg) Convert(ctx context.Context, src, dest string) error {
	if err := f.run(ctx, nil, f.Binary, buildFFmpegArgs(src, dest)...); err != nil {
		return services.Wrap(services.ErrExternalTool, stageConverting, "ffmpeg", "transcode to wav", err)
	}
	return nil
}

func buildFFmpegArgs(src, dest string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-i", src,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		dest,
	}
}
