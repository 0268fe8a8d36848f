package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"vidscribe/internal/api"
	"vidscribe/internal/testsupport"
)

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, Options{LogLevel: "debug", Ready: func(addr string) { ready <- addr }})
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	client := api.NewClient("http://" + addr)
	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected daemon running")
	}
	if !strings.HasPrefix(filepath.Base(status.LogPath), "vidscribe-") {
		t.Fatalf("unexpected log path %q", status.LogPath)
	}

	pid, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "vidscribe.pid"))
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(pid)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("pid file = %q", pid)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "vidscribe.pid")); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err=%v", err)
	}
	if _, err := os.Lstat(filepath.Join(cfg.Paths.LogDir, currentLogName)); err != nil {
		t.Fatalf("expected current log pointer: %v", err)
	}
}

func TestRunFailsPreflightOnMissingDirectory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	blocker := filepath.Join(testsupport.BaseDir(cfg), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	cfg.Paths.WorkDir = blocker

	err := Run(context.Background(), cfg, Options{})
	if err == nil {
		t.Fatal("expected error for unusable work dir")
	}
}

func TestEnsureCurrentLogPointerReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "vidscribe-a.log")
	second := filepath.Join(dir, "vidscribe-b.log")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte(filepath.Base(p)), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, currentLogName))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "vidscribe-b.log" {
		t.Fatalf("pointer resolves to %q", data)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}
