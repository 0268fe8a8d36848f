package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimestampLayout = "2006-01-02 15:04:05"

// consoleHandler renders a readable header line per record. Info and above
// list their fields as indented bullets; debug records keep key=value pairs
// inline.
type consoleHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []kv
	groups    []string
	addSource bool
}

type kv struct {
	key   string
	value slog.Value
}

// Keys folded into the header rather than listed as fields.
var consoleHeaderKeys = map[string]struct{}{
	FieldComponent: {},
	FieldTaskID:    {},
	FieldStage:     {},
}

// Keys only shown on debug lines.
var consoleDebugOnlyKeys = map[string]struct{}{
	FieldEventType:     {},
	FieldCorrelationID: {},
	"revision":         {},
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := make([]kv, 0, len(h.attrs)+record.NumAttrs())
	fields = append(fields, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&fields, h.groups, attr)
		return true
	})
	fields = dedupeKeys(fields)

	var component, taskID, stage string
	body := fields[:0:0]
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			component = valueString(f.value)
		case FieldTaskID:
			taskID = valueString(f.value)
		case FieldStage:
			stage = valueString(f.value)
		}
		if _, header := consoleHeaderKeys[f.key]; header {
			continue
		}
		body = append(body, f)
	}

	var buf bytes.Buffer
	buf.WriteString(ts.In(time.Local).Format(consoleTimestampLayout))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	if component != "" {
		buf.WriteString(" [")
		buf.WriteString(component)
		buf.WriteByte(']')
	}
	if subject := subjectLabel(taskID, stage); subject != "" {
		buf.WriteByte(' ')
		buf.WriteString(subject)
		buf.WriteByte(':')
	}
	buf.WriteByte(' ')
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	buf.WriteString(msg)

	debug := record.Level < slog.LevelInfo
	if debug {
		for _, f := range body {
			buf.WriteByte(' ')
			buf.WriteString(f.key)
			buf.WriteByte('=')
			buf.WriteString(quoteIfNeeded(valueString(f.value)))
		}
	}
	if h.addSource && record.PC != 0 {
		if src := record.Source(); src != nil && src.File != "" {
			fmt.Fprintf(&buf, " (%s:%d)", filepath.Base(src.File), src.Line)
		}
	}
	buf.WriteByte('\n')
	if !debug {
		for _, f := range body {
			if _, hidden := consoleDebugOnlyKeys[f.key]; hidden {
				continue
			}
			buf.WriteString("    - ")
			buf.WriteString(displayLabel(f.key))
			buf.WriteString(": ")
			buf.WriteString(valueString(f.value))
			buf.WriteByte('\n')
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, attr := range attrs {
		flattenAttr(&next.attrs, next.groups, attr)
	}
	return next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.groups = append(next.groups, name)
	return next
}

func (h *consoleHandler) clone() *consoleHandler {
	return &consoleHandler{
		mu:        h.mu,
		writer:    h.writer,
		level:     h.level,
		attrs:     append([]kv(nil), h.attrs...),
		groups:    append([]string(nil), h.groups...),
		addSource: h.addSource,
	}
}

func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = append(append([]string(nil), prefix...), attr.Key)
		}
		for _, inner := range attr.Value.Group() {
			flattenAttr(dst, groupPrefix, inner)
		}
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(prefix, ".") + "." + key
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
}

// dedupeKeys keeps the last value for each key, in first-seen order.
func dedupeKeys(fields []kv) []kv {
	index := make(map[string]int, len(fields))
	out := make([]kv, 0, len(fields))
	for _, f := range fields {
		if i, ok := index[f.key]; ok {
			out[i] = f
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func subjectLabel(taskID, stage string) string {
	switch {
	case taskID != "" && stage != "":
		return "Task " + taskID + " (" + stage + ")"
	case taskID != "":
		return "Task " + taskID
	default:
		return stage
	}
}

func displayLabel(key string) string {
	switch key {
	case "error":
		return "Error"
	case FieldErrorHint:
		return "Hint"
	case FieldImpact:
		return "Impact"
	}
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '.' })
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

func valueString(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().In(time.Local).Format(consoleTimestampLayout)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return strconv.Quote(s)
		}
	}
	return s
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN "
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}
