// Package daemonctl starts, probes and stops a background vidscribe daemon
// from the CLI.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vidscribe/internal/api"
	"vidscribe/internal/config"
)

const pollInterval = 200 * time.Millisecond

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts a detached vidscribe daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient polls the daemon status endpoint until it answers.
func WaitForClient(ctx context.Context, client *api.Client, timeout time.Duration) (api.DaemonStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var lastErr error
	for {
		status, err := client.Status(ctx)
		if err == nil && status.Running {
			return status, nil
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = fmt.Errorf("timeout waiting for daemon")
			}
			return api.DaemonStatus{}, fmt.Errorf("daemon failed to start: %w", lastErr)
		case <-time.After(pollInterval):
		}
	}
}

// EnsureStarted launches the daemon unless one already answers on the
// configured API address.
func EnsureStarted(ctx context.Context, client *api.Client, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if status, err := client.Status(ctx); err == nil && status.Running {
		return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	status, err := WaitForClient(ctx, client, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: StartStateStarted, PID: status.PID}, nil
}

// Stop sends SIGTERM to the daemon and escalates to SIGKILL when it is still
// answering after gracePeriod.
func Stop(ctx context.Context, client *api.Client, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	status, err := client.Status(ctx)
	if err != nil {
		return StopResult{}, ErrDaemonNotRunning
	}
	pid := status.PID
	if pid <= 0 {
		pid, err = readPID(pidPath(cfg))
		if err != nil {
			return StopResult{}, err
		}
	}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid}
	if waitForShutdown(ctx, client, gracePeriod) {
		return result, nil
	}
	if err := signalProcess(pid, syscall.SIGKILL); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(pidPath(cfg))
	if cfg != nil {
		_ = os.Remove(cfg.LockPath())
	}
	result.ForcedKill = true
	return result, nil
}

func waitForShutdown(ctx context.Context, client *api.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		probeCtx, cancel := context.WithTimeout(ctx, pollInterval)
		_, err := client.Status(probeCtx)
		cancel()
		if err != nil {
			return true
		}
		time.Sleep(pollInterval)
	}
	return false
}

func pidPath(cfg *config.Config) string {
	if cfg == nil || strings.TrimSpace(cfg.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(cfg.Paths.LogDir, "vidscribe.pid")
}

func readPID(path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("unable to determine daemon pid file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid daemon pid in %s", path)
	}
	return pid, nil
}

func signalProcess(pid int, sig syscall.Signal) error {
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return nil
}
