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

// prettyHandler renders records as one colored "time LEVEL event k=v ..."
// line, wrapped to the terminal width. Attributes bound through WithAttrs are
// rendered once and reused.
type prettyHandler struct {
	w     io.Writer
	level slog.Leveler
	src   bool
	color bool

	prefix string   // group path with trailing dot
	bound  []string // pre-rendered WithAttrs segments

	mu *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, level: slog.LevelInfo, mu: &sync.Mutex{}}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.src = opts.AddSource
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

	segs := make([]string, 0, 4+len(h.bound)+r.NumAttrs())
	segs = append(segs, h.paint(ansiDim, ts.Format("15:04:05.000"))+" "+h.levelTag(r.Level)+" "+h.event(r.Message))

	if h.src && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			segs = append(segs, "src="+h.paint(ansiDim, filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line)))
		}
	}

	segs = append(segs, h.bound...)
	r.Attrs(func(a slog.Attr) bool {
		segs = h.render(segs, h.prefix, a)
		return true
	})

	var b strings.Builder
	for _, line := range wrapSegments(segs, " ", h.terminalWidth(), "    ") {
		b.WriteString(line)
		b.WriteByte('\n')
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.bound = append([]string(nil), h.bound...)
	for _, a := range attrs {
		cp.bound = cp.render(cp.bound, h.prefix, a)
	}
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

// render appends a, flattening groups into dotted keys.
func (h *prettyHandler) render(segs []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if a.Equal(slog.Attr{}) {
		return segs
	}

	if a.Value.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			segs = h.render(segs, prefix, ga)
		}
		return segs
	}
	if key == "" {
		return segs
	}

	full := prefix + key
	return append(segs, displayKey(full)+"="+h.value(full, a.Value))
}

// value formats v, highlighting the keys the relay and chat client log most.
func (h *prettyHandler) value(key string, v slog.Value) string {
	s := strings.TrimSpace(plainValue(v))

	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(s), h.color)
	case "path", "type", "event":
		return h.paint(ansiCyan, s)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return colorizeStatusClass(s, h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result", "outcome":
		return colorizeResult(strings.ToLower(s), h.color)
	case "user_id", "counterpart_id", "sender_id", "target_id":
		return h.paint(ansiMagenta, quoteIfNeeded(s))
	case "session_id", "message_id", "temp_id", "request_id":
		return h.paint(ansiDim, quoteIfNeeded(s))
	case "err", "error":
		return h.paint(ansiRed, quoteIfNeeded(s))
	}
	return quoteIfNeeded(plainValue(v))
}

// event colors the dotted subsystem prefix of event-style messages
// ("chat.send.ok", "relay.ws.accept.fail").
func (h *prettyHandler) event(msg string) string {
	sub, rest, ok := strings.Cut(msg, ".")
	if !ok || !h.color {
		return h.paint(ansiBright, msg)
	}
	code := ansiBlue
	switch sub {
	case "chat":
		code = ansiGreen
	case "relay":
		code = ansiCyan
	case "server", "db":
		code = ansiMagenta
	}
	if strings.HasSuffix(rest, ".fail") {
		code = ansiRed
	}
	return ansiBright + code + sub + ansiReset + ansiBright + "." + rest + ansiReset
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.paint(ansiRed, "[ERROR]")
	case level >= slog.LevelWarn:
		return h.paint(ansiYellow, "[WARN]")
	case level < slog.LevelInfo:
		return h.paint(ansiMagenta, "[DEBUG]")
	default:
		return h.paint(ansiBlue, "[INFO]")
	}
}

func (h *prettyHandler) paint(code, s string) string {
	return colorize(s, code, h.color)
}

func displayKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "duration"
	}
	return k
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
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
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
