package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRegistry()
	c.normalizeNotify()
	c.normalizePipeline()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(strings.TrimSpace(c.Paths.WorkDir)); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeRegistry() {
	if c.Registry.SweepIntervalSeconds <= 0 {
		c.Registry.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
	if c.Registry.MaxTasks <= 0 {
		c.Registry.MaxTasks = defaultMaxTasks
	}
}

func (c *Config) normalizeNotify() {
	if c.Notify.Buffer <= 0 {
		c.Notify.Buffer = defaultNotifyBuffer
	}
	if c.Notify.HeartbeatSeconds <= 0 {
		c.Notify.HeartbeatSeconds = defaultHeartbeatSeconds
	}
	if c.Notify.MaxWaitSeconds < 0 {
		c.Notify.MaxWaitSeconds = 0
	}
	if c.Notify.IdleTimeoutSeconds < 0 {
		c.Notify.IdleTimeoutSeconds = 0
	}
}

func (c *Config) normalizePipeline() {
	p := &c.Pipeline
	if p.Workers <= 0 {
		p.Workers = defaultWorkers
	}
	if p.TaskTimeoutSeconds < 0 {
		p.TaskTimeoutSeconds = 0
	}
	p.YTDLPBinary = orDefault(p.YTDLPBinary, defaultYTDLPBinary)
	p.FFmpegBinary = orDefault(p.FFmpegBinary, defaultFFmpegBinary)
	p.WhisperBinary = orDefault(p.WhisperBinary, defaultWhisperBinary)
	p.WhisperModel = orDefault(p.WhisperModel, defaultWhisperModel)
	p.Language = strings.ToLower(strings.TrimSpace(p.Language))
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}
