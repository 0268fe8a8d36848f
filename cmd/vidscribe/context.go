package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"vidscribe/internal/api"
	"vidscribe/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) baseURL() string {
	if c.apiFlag != nil {
		if value := strings.TrimRight(strings.TrimSpace(*c.apiFlag), "/"); value != "" {
			return value
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.APIBaseURL()
	}
	fallback := config.Default()
	return fallback.APIBaseURL()
}

func (c *commandContext) client() *api.Client {
	return api.NewClient(c.baseURL())
}

// wrapDialError turns transport failures into a hint about starting the
// daemon; API errors pass through untouched.
func wrapDialError(err error, baseURL string) error {
	if err == nil {
		return nil
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return err
	}
	var opErr *net.OpError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: %s refused the connection; start the daemon with `vidscribe start`", baseURL)
	case errors.As(err, &opErr):
		return fmt.Errorf("connect to daemon at %s: %w", baseURL, err)
	default:
		return err
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
