package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"vidscribe/internal/config"
	"vidscribe/internal/daemon"
	"vidscribe/internal/logging"
	"vidscribe/internal/task"
	"vidscribe/internal/testsupport"
)

const testTranscript = "hello from the test transcriber"

type instantFetcher struct{}

func (instantFetcher) Fetch(_ context.Context, url, dir string, onProgress func(float64)) (string, error) {
	if strings.Contains(url, "fail") {
		return "", errors.New("remote returned 404")
	}
	onProgress(100)
	path := filepath.Join(dir, "source.m4a")
	return path, os.WriteFile(path, []byte("media"), 0o644)
}

type wavConverter struct{ t *testing.T }

func (c wavConverter) Convert(_ context.Context, _, dest string) error {
	testsupport.WriteWAV(c.t, dest, 160)
	return nil
}

type fixedTranscriber struct{}

func (fixedTranscriber) Transcribe(context.Context, string, string) (string, error) {
	return testTranscript, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	apiURL     string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	home := filepath.Join(testsupport.BaseDir(cfg), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	d, err := daemon.New(cfg, logging.NewNop(),
		daemon.WithStages(instantFetcher{}, wavConverter{t: t}, fixedTranscriber{}),
		daemon.WithLogPath(filepath.Join(cfg.Paths.LogDir, "vidscribe-test.log")),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		configPath: configPath,
		apiURL:     "http://" + d.Addr(),
	}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, args, env.apiURL, env.configPath)
}

func (env *cliTestEnv) waitTerminal(t *testing.T, id string) task.Snapshot {
	t.Helper()
	var snap task.Snapshot
	waitFor(t, 5*time.Second, func() bool {
		var err error
		snap, err = env.daemon.Snapshot(id)
		return err == nil && snap.IsTerminal()
	})
	return snap
}

func runCLI(t *testing.T, args []string, apiURL, configPath string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if apiURL != "" {
		flags = append(flags, "--api", apiURL)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
