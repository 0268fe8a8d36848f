package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"vidscribe/internal/services"
)

// YTDLPCommand is the default yt-dlp executable.
const YTDLPCommand = "yt-dlp"

const fetchBaseName = "source"

var downloadPercentPattern = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// YTDLP fetches media with yt-dlp.
type YTDLP struct {
	Binary string
	run    CommandRunner
}

// NewYTDLP returns a fetcher for binary, defaulting to yt-dlp on PATH.
func NewYTDLP(binary string) *YTDLP {
	if strings.TrimSpace(binary) == "" {
		binary = YTDLPCommand
	}
	return &YTDLP{Binary: binary, run: ExecRunner}
}

// WithCommandRunner sets a custom command runner (for testing).
func (y *YTDLP) WithCommandRunner(runner CommandRunner) {
	y.run = runner
}

// Fetch downloads url into dir and returns the downloaded file.
func (y *YTDLP) Fetch(ctx context.Context, url, dir string, onProgress func(percent float64)) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", services.Wrap(services.ErrValidation, stageDownloading, "yt-dlp", "source url required", nil)
	}
	args := buildYTDLPArgs(url, dir)
	onLine := func(line string) {
		if onProgress == nil {
			return
		}
		if percent, ok := parseDownloadPercent(line); ok {
			onProgress(percent)
		}
	}
	if err := y.run(ctx, onLine, y.Binary, args...); err != nil {
		return "", services.Wrap(services.ErrExternalTool, stageDownloading, "yt-dlp", "download failed", err)
	}
	path, err := findDownloaded(dir)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stageDownloading, "yt-dlp", "locate download", err)
	}
	return path, nil
}

func buildYTDLPArgs(url, dir string) []string {
	return []string{
		"--no-playlist",
		"--newline",
		"--format", "bestaudio/best",
		"--output", filepath.Join(dir, fetchBaseName+".%(ext)s"),
		"--",
		url,
	}
}

// parseDownloadPercent reads the percentage from a yt-dlp progress line such
// as "[download]  42.0% of 3.21MiB at 1.2MiB/s ETA 00:02".
func parseDownloadPercent(line string) (float64, bool) {
	match := downloadPercentPattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return 0, false
	}
	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return percent, true
}

func findDownloaded(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, fetchBaseName+".*"))
	if err != nil {
		return "", err
	}
	for _, candidate := range matches {
		switch filepath.Ext(candidate) {
		case ".part", ".ytdl", ".tmp":
			continue
		}
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Size() == 0 {
			return "", fmt.Errorf("%s is empty", filepath.Base(candidate))
		}
		return candidate, nil
	}
	return "", errors.New("no downloaded file found")
}
