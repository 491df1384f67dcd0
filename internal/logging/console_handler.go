package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one header line per record followed by indented
// fields: every field at debug, a curated summary at info and above.
type consoleHandler struct {
	mu         *sync.Mutex
	out        io.Writer
	level      *slog.LevelVar
	withCaller bool
	preset     fieldList
	prefix     string
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, withCaller bool) slog.Handler {
	return &consoleHandler{mu: new(sync.Mutex), out: w, level: lvl, withCaller: withCaller}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	if !h.Enabled(context.Background(), record.Level) {
		return nil
	}

	fields := make(fieldList, len(h.preset), len(h.preset)+record.NumAttrs())
	copy(fields, h.preset)
	record.Attrs(func(attr slog.Attr) bool {
		fields = fields.add(h.prefix, attr)
		return true
	})
	fields = fields.latest()

	var sb strings.Builder
	h.writeHeader(&sb, record, fields)
	if record.Level < slog.LevelInfo {
		writeDetail(&sb, fields)
	} else {
		writeSummary(&sb, fields)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, sb.String())
	return err
}

func (h *consoleHandler) writeHeader(sb *strings.Builder, record slog.Record, fields fieldList) {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(formatTimestamp(ts))
	sb.WriteString(" " + levelLabel(record.Level))
	if component := fields.lookup(FieldComponent); component != "" {
		sb.WriteString(" [" + component + "]")
	}
	if subject := FormatSubject(fields.lookup(FieldPlatform), fields.lookup(FieldJobID)); subject != "" {
		sb.WriteString(" " + subject)
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	sb.WriteString(" – " + msg)
	if h.withCaller {
		if src := record.Source(); src != nil && src.File != "" {
			sb.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
		}
	}
	sb.WriteByte('\n')
}

func writeDetail(sb *strings.Builder, fields fieldList) {
	for _, f := range fields {
		if f.key == FieldComponent {
			continue
		}
		sb.WriteString("    " + f.key + ": " + quotedValue(f.value) + "\n")
	}
}

func writeSummary(sb *strings.Builder, fields fieldList) {
	shown, hidden := summarize(fields)
	for _, f := range shown {
		sb.WriteString("    - " + f.label + ": " + f.value + "\n")
	}
	if hidden > 0 {
		sb.WriteString("    + " + pluralFields(hidden) + " hidden\n")
	}
}

func pluralFields(n int) string {
	if n == 1 {
		return "1 more field"
	}
	return strconv.Itoa(n) + " more fields"
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = make(fieldList, len(h.preset), len(h.preset)+len(attrs))
	copy(next.preset, h.preset)
	for _, attr := range attrs {
		next.preset = next.preset.add(h.prefix, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = joinKey(h.prefix, name)
	return &next
}

type field struct {
	key   string
	value slog.Value
}

// fieldList holds attributes flattened to dotted keys.
type fieldList []field

func (l fieldList) add(prefix string, attr slog.Attr) fieldList {
	if attr.Equal(slog.Attr{}) {
		return l
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		group := prefix
		if attr.Key != "" {
			group = joinKey(prefix, attr.Key)
		}
		for _, member := range value.Group() {
			l = l.add(group, member)
		}
		return l
	}
	key := joinKey(prefix, attr.Key)
	if key == "" {
		return l
	}
	return append(l, field{key: key, value: value})
}

// latest keeps the first position of each key with its last value.
func (l fieldList) latest() fieldList {
	if len(l) < 2 {
		return l
	}
	index := make(map[string]int, len(l))
	out := l[:0:0]
	for _, f := range l {
		if i, seen := index[f.key]; seen {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func (l fieldList) lookup(key string) string {
	for _, f := range l {
		if f.key == key {
			return plainValue(f.value)
		}
	}
	return ""
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	default:
		return prefix + "." + key
	}
}

// levelLabel collapses custom levels onto the four standard names.
func levelLabel(level slog.Level) string {
	for _, std := range [...]slog.Level{slog.LevelError, slog.LevelWarn, slog.LevelInfo} {
		if level >= std {
			return std.String()
		}
	}
	return slog.LevelDebug.String()
}
