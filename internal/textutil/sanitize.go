package textutil

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxFileNameBytes keeps names below common filesystem limits.
const maxFileNameBytes = 200

// unsafeRunes maps characters most filesystems reject: separators become
// dashes, the rest are dropped.
var unsafeRunes = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-",
	"?", "", "\"", "", "<", "", ">", "", "|", "",
)

// cleanName folds accents and strips control characters.
var cleanName = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	runes.Remove(runes.Predicate(unicode.IsControl)),
	norm.NFC,
)

// SanitizeFileName makes a worker-supplied name safe to create in the
// download directory. Long names are cut on a rune boundary with the
// extension kept.
func SanitizeFileName(name string) string {
	if folded, _, err := transform.String(cleanName, name); err == nil {
		name = folded
	}
	name = strings.Trim(unsafeRunes.Replace(name), ". \t")
	if len(name) <= maxFileNameBytes {
		return name
	}

	ext := path.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	base := strings.TrimSuffix(name, ext)
	for len(base)+len(ext) > maxFileNameBytes {
		_, size := utf8.DecodeLastRuneInString(base)
		base = base[:len(base)-size]
	}
	return strings.TrimSpace(base) + ext
}

// TitleCase capitalizes each word for display.
func TitleCase(s string) string {
	return cases.Title(language.Und).String(strings.TrimSpace(s))
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
