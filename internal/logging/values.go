package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format(time.DateTime)
}

// plainValue renders v for the console header and info summary.
func plainValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindDuration:
		return v.Duration().Round(time.Millisecond).String()
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

// quotedValue renders v for key: value detail lines. Text that would be
// ambiguous unquoted is quoted.
func quotedValue(v slog.Value) string {
	s := plainValue(v)
	switch v.Resolve().Kind() {
	case slog.KindString, slog.KindAny:
		if needsQuotes(s) {
			return strconv.Quote(s)
		}
	}
	return s
}

func needsQuotes(s string) bool {
	return s == "" || strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"'
	})
}
