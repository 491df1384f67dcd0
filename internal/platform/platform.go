// Package platform maps media URLs to the source platform the worker knows how
// to extract from.
package platform

import "strings"

// Platform names a supported source site.
type Platform string

const (
	None      Platform = ""
	YouTube   Platform = "youtube"
	Instagram Platform = "instagram"
	Pinterest Platform = "pinterest"
)

// rules are evaluated in order; the first matching needle wins.
var rules = []struct {
	needle   string
	platform Platform
}{
	{"youtu", YouTube},
	{"instagram", Instagram},
	{"pinterest", Pinterest},
}

// Classify reports the platform a URL belongs to using case-insensitive
// substring matching. It is a pure function; unrecognized input yields None.
func Classify(rawURL string) (Platform, bool) {
	lowered := strings.ToLower(rawURL)
	for _, rule := range rules {
		if strings.Contains(lowered, rule.needle) {
			return rule.platform, true
		}
	}
	return None, false
}

// Parse converts a stored platform name back into a Platform.
func Parse(value string) (Platform, bool) {
	switch Platform(strings.ToLower(strings.TrimSpace(value))) {
	case YouTube:
		return YouTube, true
	case Instagram:
		return Instagram, true
	case Pinterest:
		return Pinterest, true
	default:
		return None, false
	}
}

// String returns the wire name.
func (p Platform) String() string {
	return string(p)
}

// Label returns the display name.
func (p Platform) Label() string {
	switch p {
	case YouTube:
		return "YouTube"
	case Instagram:
		return "Instagram"
	case Pinterest:
		return "Pinterest"
	default:
		return "Unknown"
	}
}
