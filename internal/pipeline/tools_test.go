package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"vidscribe/internal/services"
	"vidscribe/internal/testsupport"
)

func TestParseDownloadPercent(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{"[download]  42.0% of 3.21MiB at 1.20MiB/s ETA 00:02", 42, true},
		{"[download] 100% of 3.21MiB in 00:03", 100, true},
		{"[download]   0.5% of ~10.00MiB", 0.5, true},
		{"[download] Destination: /tmp/source.webm", 0, false},
		{"[youtube] abc: Downloading webpage", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseDownloadPercent(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("parseDownloadPercent(%q) = %v, %v; want %v, %v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDownloadCheckpoint(t *testing.T) {
	cases := map[float64]int{-5: 0, 0: 0, 10: 3, 50: 15, 99.9: 29, 100: 30, 140: 30}
	for percent, want := range cases {
		if got := downloadCheckpoint(percent); got != want {
			t.Fatalf("downloadCheckpoint(%v) = %d, want %d", percent, got, want)
		}
	}
}

func TestYTDLPFetch(t *testing.T) {
	dir := t.TempDir()
	y := NewYTDLP("/opt/bin/yt-dlp")
	y.WithCommandRunner(func(ctx context.Context, onLine func(string), name string, args ...string) error {
		if name != "/opt/bin/yt-dlp" {
			t.Fatalf("unexpected binary %q", name)
		}
		if !slices.Contains(args, "--newline") || args[len(args)-1] != "https://example.com/v" {
			t.Fatalf("unexpected args %v", args)
		}
		onLine("[youtube] v: Downloading webpage")
		onLine("[download]   5.0% of 1.00MiB")
		onLine("[download] 100% of 1.00MiB in 00:01")
		testsupport.WriteFile(t, filepath.Join(dir, "source.webm.part"), 0)
		testsupport.WriteFile(t, filepath.Join(dir, "source.webm"), 128)
		return nil
	})

	var seen []float64
	path, err := y.Fetch(context.Background(), "https://example.com/v", dir, func(p float64) { seen = append(seen, p) })
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if filepath.Base(path) != "source.webm" {
		t.Fatalf("unexpected path %q", path)
	}
	if !slices.Equal(seen, []float64{5, 100}) {
		t.Fatalf("unexpected progress %v", seen)
	}
}

func TestYTDLPFetchErrors(t *testing.T) {
	y := NewYTDLP("")
	if y.Binary != YTDLPCommand {
		t.Fatalf("expected default binary, got %q", y.Binary)
	}
	y.WithCommandRunner(func(context.Context, func(string), string, ...string) error {
		return errors.New("exit status 1: ERROR: Unsupported URL")
	})
	_, err := y.Fetch(context.Background(), "https://example.com/v", t.TempDir(), nil)
	if !errors.Is(err, services.ErrExternalTool) || !strings.Contains(err.Error(), "Unsupported URL") {
		t.Fatalf("expected external tool error, got %v", err)
	}

	y.WithCommandRunner(func(context.Context, func(string), string, ...string) error { return nil })
	if _, err := y.Fetch(context.Background(), "https://example.com/v", t.TempDir(), nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing download, got %v", err)
	}
	if _, err := y.Fetch(context.Background(), " ", t.TempDir(), nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty url, got %v", err)
	}
}

func TestFFmpegConvertArgs(t *testing.T) {
	f := NewFFmpeg("")
	var gotArgs []string
	f.WithCommandRunner(func(_ context.Context, _ func(string), name string, args ...string) error {
		if name != FFmpegCommand {
			t.Fatalf("unexpected binary %q", name)
		}
		gotArgs = args
		return nil
	})
	if err := f.Convert(context.Background(), "in.webm", "out.wav"); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"-i in.webm", "-vn", "-ac 1", "-ar 16000", "-f wav"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
	if gotArgs[len(gotArgs)-1] != "out.wav" {
		t.Fatalf("destination should be last: %v", gotArgs)
	}

	f.WithCommandRunner(func(context.Context, func(string), string, ...string) error { return errors.New("boom") })
	if err := f.Convert(context.Background(), "in.webm", "out.wav"); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestWhisperTranscribe(t *testing.T) {
	dir := t.TempDir()
	wav := filepath.Join(dir, "audio.wav")
	w := NewWhisper("", "", "en")
	if w.Model != DefaultWhisperModel {
		t.Fatalf("expected default model, got %q", w.Model)
	}
	w.WithCommandRunner(func(_ context.Context, _ func(string), name string, args ...string) error {
		if args[0] != wav {
			t.Fatalf("input should come first: %v", args)
		}
		joined := strings.Join(args, " ")
		for _, want := range []string{"--model base", "--output_format txt", "--output_dir " + dir, "--language en"} {
			if !strings.Contains(joined, want) {
				t.Fatalf("args %q missing %q", joined, want)
			}
		}
		return os.WriteFile(filepath.Join(dir, "audio.txt"), []byte(" hello\n\n world \n"), 0o644)
	})

	text, err := w.Transcribe(context.Background(), wav, dir)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestWhisperMissingTranscript(t *testing.T) {
	w := NewWhisper("whisper", "tiny", "")
	w.WithCommandRunner(func(_ context.Context, _ func(string), _ string, args ...string) error {
		if slices.Contains(args, "--language") {
			t.Fatalf("language flag should be omitted: %v", args)
		}
		return nil
	})
	dir := t.TempDir()
	if _, err := w.Transcribe(context.Background(), filepath.Join(dir, "audio.wav"), dir); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateWAV(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.wav")
	testsupport.WriteWAV(t, good, 16)
	if err := ValidateWAV(good); err != nil {
		t.Fatalf("valid wav rejected: %v", err)
	}

	empty := filepath.Join(dir, "empty.wav")
	testsupport.WriteWAV(t, empty, 0)
	if err := ValidateWAV(empty); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("header-only wav accepted: %v", err)
	}

	garbage := filepath.Join(dir, "garbage.wav")
	testsupport.WriteFile(t, garbage, 200)
	if err := ValidateWAV(garbage); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("garbage accepted: %v", err)
	}

	if err := ValidateWAV(filepath.Join(dir, "missing.wav")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("missing file accepted: %v", err)
	}
}

func TestLineWriterSplitsProgressOutput(t *testing.T) {
	var lines []string
	w := &lineWriter{fn: func(line string) { lines = append(lines, line) }}
	_, _ = w.Write([]byte("[download]   1.0%\r[download]  "))
	_, _ = w.Write([]byte("2.0%\n\nlast"))
	w.Flush()
	want := []string{"[download]   1.0%", "[download]  2.0%", "last"}
	if !slices.Equal(lines, want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
}

func TestExecRunner(t *testing.T) {
	var lines []string
	err := ExecRunner(context.Background(), func(line string) { lines = append(lines, line) }, "sh", "-c", `printf 'a\rb\nc'`)
	if err != nil {
		t.Fatalf("ExecRunner: %v", err)
	}
	if !slices.Equal(lines, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected lines %q", lines)
	}

	err = ExecRunner(context.Background(), nil, "sh", "-c", "echo boom >&2; exit 3")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}
