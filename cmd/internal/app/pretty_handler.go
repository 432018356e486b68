package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders one key=value line per record for terminals.
// Attributes added with WithAttrs are rendered once and reused.
type prettyHandler struct {
	w         io.Writer
	level     slog.Leveler
	addSource bool
	color     bool

	prefix  string // open groups, dot-terminated
	preface string // rendered WithAttrs attributes

	mu *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{
		w:     w,
		level: slog.LevelInfo,
		color: color,
		mu:    &sync.Mutex{},
	}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.addSource = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString("ts=")
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteString(" lvl=")
	b.WriteString(levelTag(r.Level, h.color))
	b.WriteString(" msg=")
	b.WriteString(paint(r.Message, ansiBright, h.color))

	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" src=")
			b.WriteString(paint(filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line), ansiDim, h.color))
		}
	}

	b.WriteString(h.preface)
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, a, h.prefix)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	for _, a := range attrs {
		h.appendAttr(&b, a, h.prefix)
	}
	cp := *h
	cp.preface = h.preface + b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, a slog.Attr, prefix string) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		// Inline groups (empty key) keep the current prefix.
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, ga, prefix)
		}
		return
	}
	if key == "" {
		return
	}

	b.WriteByte(' ')
	b.WriteString(prettyKey(prefix + key))
	b.WriteByte('=')
	b.WriteString(h.prettyValue(key, a.Value))
}

// prettyValue styles well-known keys. Matching is on the leaf key so grouped
// attributes are styled the same way.
func (h *prettyHandler) prettyValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), h.color)
	case "path":
		return paint(quoteIfNeeded(v.String()), ansiCyan, h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return colorizeStatusClass(strings.TrimSpace(v.String()), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result", "outcome":
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), h.color)
	case "id", "from", "to", "conn_id":
		return paint(valueToString(v), ansiCyan, h.color)
	case "err":
		return paint(quoteIfNeeded(valueToString(v)), ansiRed, h.color)
	}
	return quoteIfNeeded(valueToString(v))
}

func prettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	default:
		return k
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("[ERROR]", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("[WARN]", ansiYellow, color)
	case level < slog.LevelInfo:
		return paint("[DEBUG]", ansiMagenta, color)
	default:
		return paint("[INFO]", ansiBlue, color)
	}
}
