package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind %q: %w", c.Paths.APIBind, err)
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if c.Registry.RetentionSeconds < 0 {
		return errors.New("registry.retention_seconds must be zero or positive")
	}
	if c.Registry.MaxTasks <= 0 {
		return errors.New("registry.max_tasks must be positive")
	}
	return nil
}

func (c *Config) validateNotify() error {
	if c.Notify.Buffer < 2 {
		return errors.New("notify.buffer must be at least 2")
	}
	if c.Notify.MaxWaitSeconds > 0 && c.Notify.IdleTimeoutSeconds > c.Notify.MaxWaitSeconds {
		return errors.New("notify.idle_timeout_seconds must not exceed notify.max_wait_seconds")
	}
	if c.Notify.IdleTimeoutSeconds > 0 && c.Notify.HeartbeatSeconds >= c.Notify.IdleTimeoutSeconds {
		return errors.New("notify.heartbeat_seconds must be shorter than notify.idle_timeout_seconds")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.Workers <= 0 {
		return errors.New("pipeline.workers must be positive")
	}
	if c.Pipeline.Workers > 64 {
		return errors.New("pipeline.workers must be 64 or fewer")
	}
	if c.Pipeline.QueueDepth < 1 {
		return errors.New("pipeline.queue_depth must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	return nil
}
