package logging

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"reelgrab/internal/textutil"
)

// summaryLimit caps how many fields an info-level record shows.
const summaryLimit = 8

// summaryRank orders the fields an info summary shows first. Unranked keys
// follow in record order.
var summaryRank = rankKeys(
	FieldEventType,
	FieldProgressStatus,
	FieldProgressPercent,
	"message",
	"error",
	FieldErrorKind,
	FieldErrorHint,
	FieldImpact,
	"status",
	"state",
	FieldTransport,
	"url",
	"quality",
	"kind",
	"file",
	"attempt",
	"backoff",
)

func rankKeys(keys ...string) map[string]int {
	ranks := make(map[string]int, len(keys))
	for i, k := range keys {
		ranks[k] = i
	}
	return ranks
}

func rankOf(key string) int {
	if r, ok := summaryRank[key]; ok {
		return r
	}
	return len(summaryRank)
}

type summaryField struct {
	label string
	value string
}

// summarize picks the fields an info line shows and counts the ones left out.
// Header fields are dropped silently; correlation ids only count as hidden.
func summarize(fields fieldList) ([]summaryField, int) {
	hidden := 0
	visible := make(fieldList, 0, len(fields))
	for _, f := range fields {
		switch f.key {
		case FieldComponent, FieldJobID, FieldPlatform:
			// in the header
		case FieldCorrelationID, FieldSessionID:
			hidden++
		default:
			visible = append(visible, f)
		}
	}
	slices.SortStableFunc(visible, func(a, b field) int {
		return cmp.Compare(rankOf(a.key), rankOf(b.key))
	})

	shown := make([]summaryField, 0, min(len(visible), summaryLimit))
	for _, f := range visible {
		if len(shown) == summaryLimit {
			hidden++
			continue
		}
		shown = append(shown, summaryField{label: fieldLabel(f.key), value: summaryValue(f.key, f.value)})
	}
	return shown, hidden
}

func summaryValue(key string, v slog.Value) string {
	v = v.Resolve()
	switch {
	case v.Kind() == slog.KindBool && v.Bool():
		return "yes"
	case v.Kind() == slog.KindBool:
		return "no"
	case key == FieldProgressPercent:
		return plainValue(v) + "%"
	case key == "error":
		return textutil.Truncate(quotedValue(v), 200)
	}
	return quotedValue(v)
}

// fieldLabel turns progress_percent into "Progress percent".
func fieldLabel(key string) string {
	label := strings.ReplaceAll(key, "_", " ")
	r, size := utf8.DecodeRuneInString(label)
	if size == 0 {
		return label
	}
	return string(unicode.ToUpper(r)) + label[size:]
}
