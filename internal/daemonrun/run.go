// Package daemonrun runs the vidscribe daemon in the foreground: it sets up
// the log file, checks preflight, and blocks until a signal arrives.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"vidscribe/internal/config"
	"vidscribe/internal/daemon"
	"vidscribe/internal/deps"
	"vidscribe/internal/logging"
	"vidscribe/internal/preflight"
)

const currentLogName = "vidscribe.log"

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel    string
	Development bool
	// Ready, when set, receives the bound API address once serving.
	Ready func(addr string)
}

// Run starts the vidscribe daemon and blocks until ctx ends or the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("vidscribe-%s.log", runID))
	logger, err := newDaemonLogger(cfg, opts, logPath)
	if err != nil {
		return err
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", currentLogName, err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "vidscribe-*.log", Exclude: []string{logPath}},
	)

	results := preflight.RunAll(cfg)
	logPreflight(logger, results)
	logDependencySnapshot(logger, cfg)
	if failed, ok := preflight.FirstFatal(results); ok {
		return fmt.Errorf("preflight %s: %s", failed.Name, failed.Detail)
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "vidscribe.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(cfg, logger, daemon.WithLogPath(logPath))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.api_bind and that no other daemon holds the lock"),
			logging.String(logging.FieldImpact, "no tasks can be submitted"),
		)
		return err
	}
	defer d.Stop()
	if opts.Ready != nil {
		opts.Ready(d.Addr())
	}

	<-signalCtx.Done()
	logger.Info("vidscribe daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// newDaemonLogger writes human-readable output to stdout and JSON lines to
// the per-run log file.
func newDaemonLogger(cfg *config.Config, opts Options, logPath string) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	console, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		Development: opts.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	file, err := logging.New(logging.Options{
		Level:       level,
		Format:      "json",
		OutputPaths: []string{logPath},
		Development: opts.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("init log file: %w", err)
	}
	return logging.TeeLogger(console, file.Handler()), nil
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("fatal", r.Fatal),
			logging.String(logging.FieldErrorHint, "install the missing tool or fix directory permissions"),
			logging.String(logging.FieldImpact, "tasks needing this check will fail"),
		)
	}
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	statuses := deps.CheckBinaries(deps.PipelineRequirements(cfg))
	attrs := make([]logging.Attr, 0, len(statuses)+2)
	attrs = append(attrs, logging.String(logging.FieldEventType, "dependency_snapshot"))
	for _, s := range statuses {
		value := "missing"
		if s.Available {
			value = s.Path
		}
		attrs = append(attrs, logging.String("dep_"+s.Name, value))
	}
	missing := deps.Missing(statuses)
	attrs = append(attrs, logging.Int("missing", len(missing)))
	if len(missing) > 0 {
		logging.WarnWithContext(logger, "pipeline dependencies missing", "dependency_missing",
			append(attrs,
				logging.String(logging.FieldErrorHint, "install the listed tools or set pipeline.*_binary"),
				logging.String(logging.FieldImpact, "tasks will fail at the stage needing the tool"),
			)...)
		return
	}
	logger.Info("pipeline dependencies ready", logging.Args(attrs...)...)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, currentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
