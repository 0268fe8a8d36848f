package config

const (
	defaultLogDir  = "~/.local/share/vidscribe/logs"
	defaultWorkDir = "~/.local/share/vidscribe/work"
	defaultAPIBind = "127.0.0.1:7489"

	defaultRetentionSeconds     = 3600
	defaultSweepIntervalSeconds = 60
	defaultMaxTasks             = 10000

	defaultNotifyBuffer       = 64
	defaultMaxWaitSeconds     = 7200
	defaultIdleTimeoutSeconds = 600
	defaultHeartbeatSeconds   = 15

	defaultWorkers            = 2
	defaultQueueDepth         = 16
	defaultTaskTimeoutSeconds = 7200
	defaultYTDLPBinary        = "yt-dlp"
	defaultFFmpegBinary       = "ffmpeg"
	defaultWhisperBinary      = "whisper"
	defaultWhisperModel       = "base"

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:  defaultLogDir,
			WorkDir: defaultWorkDir,
			APIBind: defaultAPIBind,
		},
		Registry: Registry{
			RetentionSeconds:     defaultRetentionSeconds,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
			MaxTasks:             defaultMaxTasks,
		},
		Notify: Notify{
			Buffer:             defaultNotifyBuffer,
			MaxWaitSeconds:     defaultMaxWaitSeconds,
			IdleTimeoutSeconds: defaultIdleTimeoutSeconds,
			HeartbeatSeconds:   defaultHeartbeatSeconds,
		},
		Pipeline: Pipeline{
			Workers:            defaultWorkers,
			QueueDepth:         defaultQueueDepth,
			TaskTimeoutSeconds: defaultTaskTimeoutSeconds,
			YTDLPBinary:        defaultYTDLPBinary,
			FFmpegBinary:       defaultFFmpegBinary,
			WhisperBinary:      defaultWhisperBinary,
			WhisperModel:       defaultWhisperModel,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
