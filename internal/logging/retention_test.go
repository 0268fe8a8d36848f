package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanupOldLogs(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "vidscribe-old.log")
	current := filepath.Join(dir, "vidscribe-current.log")
	other := filepath.Join(dir, "notes.txt")
	fresh := filepath.Join(dir, "vidscribe-fresh.log")
	for _, path := range []string{old, current, other, fresh} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{old, current, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := CleanupOldLogs(NewNop(), 7, RetentionTarget{Dir: dir, Pattern: "vidscribe-*.log", Exclude: []string{current}})
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("expected old log to be removed")
	}
	for _, path := range []string{current, other, fresh} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}

func TestCleanupOldLogsDisabled(t *testing.T) {
	if removed := CleanupOldLogs(nil, 0, RetentionTarget{Dir: t.TempDir()}); removed != 0 {
		t.Fatalf("removed = %d", removed)
	}
}
