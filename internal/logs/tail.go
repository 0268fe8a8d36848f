package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const maxLineBytes = 1024 * 1024

// Filter selects log lines by structured fields. The zero value matches
// everything.
type Filter struct {
	TaskID string
	// Level is the minimum level name: debug, info, warn or error.
	Level string
}

type lineFields struct {
	Level  string `json:"level"`
	TaskID string `json:"task_id"`
}

var levelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// Active reports whether the filter constrains anything.
func (f Filter) Active() bool {
	return strings.TrimSpace(f.TaskID) != "" || strings.TrimSpace(f.Level) != ""
}

// Match reports whether line passes the filter. Lines that are not JSON only
// pass an inactive filter.
func (f Filter) Match(line string) bool {
	if !f.Active() {
		return true
	}
	var fields lineFields
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return false
	}
	if id := strings.TrimSpace(f.TaskID); id != "" && fields.TaskID != id {
		return false
	}
	if min := strings.ToLower(strings.TrimSpace(f.Level)); min != "" {
		want, ok := levelRank[min]
		if !ok {
			return false
		}
		if levelRank[strings.ToLower(fields.Level)] < want {
			return false
		}
	}
	return true
}

// Last returns up to limit matching lines from the end of path and the offset
// just past them. A missing file yields no lines and offset 0.
func Last(path string, limit int, filter Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if info, err := file.Stat(); err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	} else if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}

	var ring []string
	if limit > 0 {
		ring = make([]string, limit)
	}
	count, idx := 0, 0
	offset, err := scanLines(file, func(line string) {
		if limit <= 0 || !filter.Match(line) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	})
	if err != nil {
		return nil, 0, err
	}

	lines := make([]string, count)
	if count == limit && limit > 0 {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

// Follow polls path from offset and calls fn for every new matching line
// until ctx ends. A file that shrinks below offset is read again from the
// start.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, filter Filter, fn func(string)) error {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		next, err := readFrom(path, offset, func(line string) {
			if filter.Match(line) {
				fn(line)
			}
		})
		if err != nil {
			return err
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, fn func(string)) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	read, err := scanLines(file, fn)
	if err != nil {
		return offset, err
	}
	return offset + read, nil
}

// scanLines feeds complete lines to fn and returns the bytes consumed. A
// trailing partial line is left for the next read.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return consumed, nil
		}
		if err != nil {
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		if len(line) > maxLineBytes {
			continue
		}
		fn(strings.TrimRight(line, "\r\n"))
	}
}
