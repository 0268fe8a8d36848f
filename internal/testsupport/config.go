// Package testsupport builds temp-dir configurations and fixture files for
// package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"vidscribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a fresh temp directory with its log
// and work directories created and an ephemeral API port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Pipeline.Workers = 1
	cfgVal.Pipeline.QueueDepth = 4

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithRetention sets the registry retention in seconds.
func WithRetention(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Registry.RetentionSeconds = seconds
	}
}

// WithMaxTasks caps the registry size.
func WithMaxTasks(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Registry.MaxTasks = n
	}
}

// WithNotifyTimings sets the stream liveness bounds and heartbeat, in seconds.
func WithNotifyTimings(maxWait, idle, heartbeat int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notify.MaxWaitSeconds = maxWait
		b.cfg.Notify.IdleTimeoutSeconds = idle
		b.cfg.Notify.HeartbeatSeconds = heartbeat
	}
}

// WithStubbedBinaries writes executables that exit 0 for yt-dlp, ffmpeg and
// whisper (or the given names), points the pipeline config at them, and
// prepends their directory to PATH for the duration of the test.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"yt-dlp", "ffmpeg", "whisper"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
			switch name {
			case "yt-dlp":
				b.cfg.Pipeline.YTDLPBinary = target
			case "ffmpeg":
				b.cfg.Pipeline.FFmpegBinary = target
			case "whisper":
				b.cfg.Pipeline.WhisperBinary = target
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
