package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidscribe/internal/config"
	"vidscribe/internal/logging"
	"vidscribe/internal/services"
)

func newFileLogger(t *testing.T, format, level string) (*slog.Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	logger, err := logging.New(logging.Options{Format: format, Level: level, OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return logger, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(data)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
}

func TestConsoleInfoListsFields(t *testing.T) {
	logger, path := newFileLogger(t, "console", "info")
	logging.NewComponentLogger(logger, "progress").Info("report accepted",
		logging.String(logging.FieldTaskID, "abc"),
		logging.String(logging.FieldStage, "downloading"),
		logging.Int("progress", 42),
		logging.String(logging.FieldEventType, "report_accepted"),
	)

	out := readLog(t, path)
	if !strings.Contains(out, "INFO  [progress] Task abc (downloading): report accepted") {
		t.Fatalf("unexpected header: %q", out)
	}
	if !strings.Contains(out, "    - Progress: 42") {
		t.Fatalf("expected progress bullet: %q", out)
	}
	if strings.Contains(out, "report_accepted") {
		t.Fatalf("event_type should be hidden at info: %q", out)
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no caller information in info logs: %q", out)
	}
}

func TestConsoleDebugInline(t *testing.T) {
	logger, path := newFileLogger(t, "console", "debug")
	logger.Debug("tick", logging.String("message", "two words"), logging.Int("n", 3))

	out := readLog(t, path)
	if !strings.Contains(out, `message="two words"`) || !strings.Contains(out, "n=3") {
		t.Fatalf("expected inline fields: %q", out)
	}
	if !strings.Contains(out, "logger_test.go:") {
		t.Fatalf("expected source location on debug: %q", out)
	}
}

func TestConsoleFiltersBelowLevel(t *testing.T) {
	logger, path := newFileLogger(t, "console", "warn")
	logger.Info("hidden")
	logger.Warn("shown")
	out := readLog(t, path)
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filter not applied: %q", out)
	}
}

func TestJSONKeys(t *testing.T) {
	logger, path := newFileLogger(t, "json", "info")
	logger.Info("hello", logging.String(logging.FieldTaskID, "abc"))

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &entry); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "task_id"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing key %q in %v", key, entry)
		}
	}
	if entry["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := logging.ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := services.WithTaskID(context.Background(), "abc")
	ctx = services.WithStage(ctx, "converting")
	ctx = services.WithRequestID(ctx, "req-1")

	logging.WithContext(ctx, base).Info("hello")

	out := buf.String()
	for _, want := range []string{`"task_id":"abc"`, `"stage":"converting"`, `"correlation_id":"req-1"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestWarnWithContextDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logging.WarnWithContext(logger, "rejected", "invalid_transition",
		logging.String(logging.FieldImpact, "report dropped"))

	out := buf.String()
	if !strings.Contains(out, `"event_type":"invalid_transition"`) {
		t.Fatalf("missing event_type: %s", out)
	}
	if !strings.Contains(out, `"error_hint":"check logs for details"`) {
		t.Fatalf("missing default hint: %s", out)
	}
	if !strings.Contains(out, `"impact":"report dropped"`) || strings.Count(out, `"impact"`) != 1 {
		t.Fatalf("impact should keep caller value: %s", out)
	}
}

func TestTeeLogger(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	extra := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := logging.TeeLogger(base, extra).With(logging.String("k", "v"))
	logger.Debug("debug only")
	logger.Info("both")

	if strings.Contains(infoBuf.String(), "debug only") {
		t.Fatal("info handler received debug record")
	}
	if !strings.Contains(debugBuf.String(), "debug only") || !strings.Contains(debugBuf.String(), "both") {
		t.Fatalf("debug handler missed records: %s", debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), `"k":"v"`) {
		t.Fatalf("attrs not propagated: %s", infoBuf.String())
	}
}

func TestNopLogger(t *testing.T) {
	logger := logging.NewComponentLogger(nil, "x")
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should be disabled")
	}
	logging.WarnWithContext(nil, "ignored", "noop")
}
