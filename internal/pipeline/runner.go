package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// CommandRunner executes an external tool. Lines written by the tool to
// stdout are passed to onLine when it is non-nil. Tests swap this out to
// avoid real binaries.
type CommandRunner func(ctx context.Context, onLine func(string), name string, args ...string) error

const stderrTail = 2048

// ExecRunner runs commands through os/exec.
func ExecRunner(ctx context.Context, onLine func(string), name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stdout io.Writer = io.Discard
	var lines *lineWriter
	if onLine != nil {
		lines = &lineWriter{fn: onLine}
		stdout = lines
	}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if lines != nil {
		lines.Flush()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", name, ctxErr)
		}
		tail := strings.TrimSpace(stderr.String())
		if len(tail) > stderrTail {
			tail = "..." + tail[len(tail)-stderrTail:]
		}
		if tail == "" {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: %w: %s", name, err, tail)
	}
	return nil
}

// lineWriter splits a byte stream on newlines and carriage returns.
type lineWriter struct {
	mu  sync.Mutex
	fn  func(string)
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.emit()
			continue
		}
		w.buf = append(w.buf, b)
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit()
}

func (w *lineWriter) emit() {
	if len(w.buf) == 0 {
		return
	}
	line := string(w.buf)
	w.buf = w.buf[:0]
	w.fn(line)
}
