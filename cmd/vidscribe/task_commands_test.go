package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidscribe/internal/api"
	"vidscribe/internal/task"
)

func TestSubmitWatchPrintsTranscription(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "submit", "https://media.example/talk", "--id", "talk-1", "--watch")
	if err != nil {
		t.Fatalf("submit --watch: %v\n%s", err, out)
	}
	requireContains(t, out, "Task talk-1 submitted")
	requireContains(t, out, "completed")
	requireContains(t, out, "Transcription complete")
	if !strings.HasSuffix(strings.TrimSpace(out), testTranscript) {
		t.Fatalf("expected transcript at end of output, got %q", out)
	}
}

func TestSubmitPrintsGeneratedID(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "submit", "https://media.example/clip")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := strings.TrimSpace(out)
	if id == "" || strings.Contains(id, " ") {
		t.Fatalf("expected bare task id, got %q", out)
	}
	env.waitTerminal(t, id)

	out, err = env.run(t, "status", id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Status:    completed")
	requireContains(t, out, "Progress:  100%")
	requireContains(t, out, testTranscript)
}

func TestSubmitRejectsDuplicateAndInvalid(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "submit", "https://media.example/a", "--id", "dup"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := env.run(t, "submit", "https://media.example/b", "--id", "dup"); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
	if _, err := env.run(t, "submit", "ftp://media.example/a"); err == nil {
		t.Fatal("expected non-http source to fail")
	}
}

func TestStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "submit", "https://media.example/json", "--id", "json-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.waitTerminal(t, "json-1")

	out, err := env.run(t, "status", "json-1", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var snap task.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode snapshot: %v\n%s", err, out)
	}
	if snap.TaskID != "json-1" || snap.Status != task.StatusCompleted || snap.Transcription != testTranscript {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "status", "missing")
	if err == nil {
		t.Fatal("expected error for unknown task")
	}
	requireContains(t, err.Error(), "task missing not found")

	_, err = env.run(t, "watch", "missing")
	if err == nil {
		t.Fatal("expected watch of unknown task to fail")
	}
	requireContains(t, err.Error(), "not found")
}

func TestWatchFailedTaskReturnsError(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "submit", "https://media.example/fail", "--id", "bad"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := env.waitTerminal(t, "bad")
	if snap.Status != task.StatusError {
		t.Fatalf("expected error status, got %s", snap.Status)
	}

	out, err := env.run(t, "watch", "bad")
	if err == nil {
		t.Fatalf("expected watch to report failure, output %q", out)
	}
	requireContains(t, err.Error(), "remote returned 404")
	requireContains(t, out, "error")
}

func TestWatchWebsocketJSONFrames(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := env.run(t, "submit", "https://media.example/ws", "--id", "ws-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.waitTerminal(t, "ws-1")

	out, err := env.run(t, "watch", "ws-1", "--ws", "--json")
	if err != nil {
		t.Fatalf("watch --ws --json: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected snapshot and end frames, got %q", out)
	}
	var first, last api.Frame
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first frame: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("decode last frame: %v", err)
	}
	if first.Type != api.FrameSnapshot || first.Snapshot == nil || first.Snapshot.Status != task.StatusCompleted {
		t.Fatalf("unexpected first frame %+v", first)
	}
	if last.Type != api.FrameEnd || last.Reason != api.EndTerminal {
		t.Fatalf("unexpected last frame %+v", last)
	}
}

func TestListTableAndFilter(t *testing.T) {
	env := setupCLITestEnv(t)

	for _, id := range []string{"ok-1", "ok-2"} {
		if _, err := env.run(t, "submit", "https://media.example/"+id, "--id", id); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	if _, err := env.run(t, "submit", "https://media.example/fail", "--id", "broken"); err != nil {
		t.Fatalf("submit broken: %v", err)
	}
	for _, id := range []string{"ok-1", "ok-2", "broken"} {
		env.waitTerminal(t, id)
	}

	out, err := env.run(t, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, id := range []string{"ok-1", "ok-2", "broken"} {
		requireContains(t, out, id)
	}
	requireContains(t, out, "PROGRESS")

	out, err = env.run(t, "list", "--status", "error", "--json")
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var resp api.TaskListResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Tasks) != 1 || resp.Tasks[0].TaskID != "broken" {
		t.Fatalf("unexpected filtered list %+v", resp.Tasks)
	}

	if _, err := env.run(t, "list", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status filter to fail")
	}
}

func TestDaemonStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "== Dependencies ==")
	requireContains(t, out, "yt-dlp")
	requireContains(t, out, "No tasks")

	out, err = env.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.PID == 0 {
		t.Fatalf("unexpected daemon status %+v", status)
	}
}

func TestUnreachableDaemonHint(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, []string{"list"}, "http://127.0.0.1:1", env.configPath)
	if err == nil {
		t.Fatal("expected connection error")
	}
	requireContains(t, err.Error(), "vidscribe start")
}

func TestRenderProgressLine(t *testing.T) {
	line := renderProgressLine(task.Snapshot{Progress: 45, Status: task.StatusTranscribing, Message: "Transcribing in progress (45%)"}, false)
	want := "[#########-----------]  45% transcribing Transcribing in progress (45%)"
	if line != want {
		t.Fatalf("renderProgressLine = %q, want %q", line, want)
	}
	colored := renderProgressLine(task.Snapshot{Progress: 100, Status: task.StatusCompleted}, true)
	if !strings.HasPrefix(colored, ansiGreen) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("expected green line, got %q", colored)
	}
}

func TestFormatAge(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{-time.Second, "now"},
		{5 * time.Second, "5s ago"},
		{3 * time.Minute, "3m ago"},
		{2 * time.Hour, "2h ago"},
	}
	for _, tc := range cases {
		if got := formatAge(tc.in); got != tc.want {
			t.Fatalf("formatAge(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLogsCommandFiltersByTask(t *testing.T) {
	env := setupCLITestEnv(t)
	content := `{"level":"INFO","msg":"task submitted","task_id":"a"}
{"level":"INFO","msg":"task submitted","task_id":"b"}
`
	if err := os.WriteFile(filepath.Join(env.cfg.Paths.LogDir, "vidscribe.log"), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, err := env.run(t, "logs", "--task", "b")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, `"task_id":"b"`)
	if strings.Contains(out, `"task_id":"a"`) {
		t.Fatalf("expected task a filtered out, got %q", out)
	}
}
