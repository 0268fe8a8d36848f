package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	LogDir  string `toml:"log_dir"`
	WorkDir string `toml:"work_dir"`
	APIBind string `toml:"api_bind"`
}

// Registry controls how long finished tasks stay observable.
type Registry struct {
	RetentionSeconds     int `toml:"retention_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	MaxTasks             int `toml:"max_tasks"`
}

// Notify bounds per-task buffering and observer stream lifetimes.
type Notify struct {
	Buffer             int `toml:"buffer"`
	MaxWaitSeconds     int `toml:"max_wait_seconds"`
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`
	HeartbeatSeconds   int `toml:"heartbeat_seconds"`
}

// Pipeline configures the fetch, convert and transcribe workers.
type Pipeline struct {
	Workers            int    `toml:"workers"`
	QueueDepth         int    `toml:"queue_depth"`
	TaskTimeoutSeconds int    `toml:"task_timeout_seconds"`
	YTDLPBinary        string `toml:"ytdlp_binary"`
	FFmpegBinary       string `toml:"ffmpeg_binary"`
	WhisperBinary      string `toml:"whisper_binary"`
	WhisperModel       string `toml:"whisper_model"`
	// Language is passed to whisper; empty lets the model detect it.
	Language string `toml:"language"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for vidscribe.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Registry Registry `toml:"registry"`
	Notify   Notify   `toml:"notify"`
	Pipeline Pipeline `toml:"pipeline"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vidscribe/config.toml")
}

// Load locates, parses, applies environment overrides to, and validates a
// configuration file. It also reports the resolved path and whether a file
// existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(context.Background()); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("vidscribe.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{defaultPath, projectPath} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the log and work directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) RegistryRetention() time.Duration {
	return seconds(c.Registry.RetentionSeconds)
}

func (c *Config) SweepInterval() time.Duration {
	return seconds(c.Registry.SweepIntervalSeconds)
}

// NotifyMaxWait is zero when the cap is disabled.
func (c *Config) NotifyMaxWait() time.Duration {
	return seconds(c.Notify.MaxWaitSeconds)
}

// NotifyIdleTimeout is zero when idle streams are never cut.
func (c *Config) NotifyIdleTimeout() time.Duration {
	return seconds(c.Notify.IdleTimeoutSeconds)
}

func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.Notify.HeartbeatSeconds)
}

func (c *Config) TaskTimeout() time.Duration {
	return seconds(c.Pipeline.TaskTimeoutSeconds)
}

// LockPath is the flock file guarding a single daemon per log directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "vidscribed.lock")
}

// APIBaseURL is the HTTP base the CLI talks to.
func (c *Config) APIBaseURL() string {
	bind := c.Paths.APIBind
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	return "http://" + bind
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
