package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vidscribe/internal/services"
)

const (
	// WhisperCommand is the default openai-whisper CLI.
	WhisperCommand = "whisper"
	// DefaultWhisperModel is used when no model is configured.
	DefaultWhisperModel = "base"
)

// Whisper transcribes WAV files with the openai-whisper CLI.
type Whisper struct {
	Binary   string
	Model    string
	Language string
	run      CommandRunner
}

// NewWhisper returns a transcriber for binary and model.
func NewWhisper(binary, model, language string) *Whisper {
	if strings.TrimSpace(binary) == "" {
		binary = WhisperCommand
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultWhisperModel
	}
	return &Whisper{Binary: binary, Model: model, Language: strings.TrimSpace(language), run: ExecRunner}
}

// WithCommandRunner sets a custom command runner (for testing).
func (w *Whisper) WithCommandRunner(runner CommandRunner) {
	w.run = runner
}

// Transcribe runs whisper on wavPath and returns the plain-text transcript.
func (w *Whisper) Transcribe(ctx context.Context, wavPath, outDir string) (string, error) {
	if outDir == "" {
		outDir = filepath.Dir(wavPath)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("transcribe: ensure output dir: %w", err)
	}
	if err := w.run(ctx, nil, w.Binary, w.buildArgs(wavPath, outDir)...); err != nil {
		return "", services.Wrap(services.ErrExternalTool, stageTranscribing, "whisper", "model "+w.Model, err)
	}

	textPath := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))+".txt")
	data, err := os.ReadFile(textPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrValidation, stageTranscribing, "whisper", "transcript not written", err)
		}
		return "", fmt.Errorf("transcribe: read transcript: %w", err)
	}
	return normalizeTranscript(string(data)), nil
}

func (w *Whisper) buildArgs(wavPath, outDir string) []string {
	args := []string{
		wavPath,
		"--model", w.Model,
		"--output_format", "txt",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if w.Language != "" {
		args = append(args, "--language", w.Language)
	}
	return args
}

// normalizeTranscript joins whisper's per-segment lines into one paragraph.
func normalizeTranscript(raw string) string {
	lines := strings.Split(raw, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
