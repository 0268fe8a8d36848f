package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// envOverrides lists the settings that may be replaced from the environment.
// Zero values mean "not set" and leave the file value alone.
type envOverrides struct {
	LogDir       string `env:"VIDSCRIBE_LOG_DIR"`
	WorkDir      string `env:"VIDSCRIBE_WORK_DIR"`
	APIBind      string `env:"VIDSCRIBE_API_BIND"`
	LogLevel     string `env:"VIDSCRIBE_LOG_LEVEL"`
	LogFormat    string `env:"VIDSCRIBE_LOG_FORMAT"`
	MaxTasks     int    `env:"VIDSCRIBE_MAX_TASKS"`
	Workers      int    `env:"VIDSCRIBE_WORKERS"`
	QueueDepth   int    `env:"VIDSCRIBE_QUEUE_DEPTH"`
	WhisperModel string `env:"VIDSCRIBE_WHISPER_MODEL"`
	Language     string `env:"VIDSCRIBE_LANGUAGE"`
	YTDLP        string `env:"VIDSCRIBE_YTDLP_BINARY"`
	FFmpeg       string `env:"VIDSCRIBE_FFMPEG_BINARY"`
	Whisper      string `env:"VIDSCRIBE_WHISPER_BINARY"`
}

func (c *Config) applyEnv(ctx context.Context) error {
	var env envOverrides
	if err := envconfig.Process(ctx, &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	setString(&c.Paths.LogDir, env.LogDir)
	setString(&c.Paths.WorkDir, env.WorkDir)
	setString(&c.Paths.APIBind, env.APIBind)
	setString(&c.Logging.Level, env.LogLevel)
	setString(&c.Logging.Format, env.LogFormat)
	setInt(&c.Registry.MaxTasks, env.MaxTasks)
	setInt(&c.Pipeline.Workers, env.Workers)
	setInt(&c.Pipeline.QueueDepth, env.QueueDepth)
	setString(&c.Pipeline.WhisperModel, env.WhisperModel)
	setString(&c.Pipeline.Language, env.Language)
	setString(&c.Pipeline.YTDLPBinary, env.YTDLP)
	setString(&c.Pipeline.FFmpegBinary, env.FFmpeg)
	setString(&c.Pipeline.WhisperBinary, env.Whisper)
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value != 0 {
		*dst = value
	}
}
