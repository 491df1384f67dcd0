package preview

import (
	"fmt"
	"math"
)

// StandardLadder is the display order of video qualities, best first.
var StandardLadder = []string{"2160p", "1440p", "1080p", "720p", "480p", "360p", "240p", "144p"}

// SortLadder orders qualities by StandardLadder; unknown labels keep their
// relative order after the known ones.
func SortLadder(qualities []string) []string {
	out := make([]string, 0, len(qualities))
	seen := make(map[string]bool, len(qualities))
	for _, q := range StandardLadder {
		for _, candidate := range qualities {
			if candidate == q && !seen[q] {
				out = append(out, q)
				seen[q] = true
			}
		}
	}
	for _, q := range qualities {
		if !seen[q] {
			out = append(out, q)
			seen[q] = true
		}
	}
	return out
}

// FormatDuration renders whole seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		return ""
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// FormatSpeed renders a transfer rate. Zero renders as a dash.
func FormatSpeed(bytesPerSecond float64) string {
	switch {
	case bytesPerSecond <= 0:
		return "—"
	case bytesPerSecond >= 1024*1024:
		return fmt.Sprintf("%.2f MB/s", bytesPerSecond/(1024*1024))
	default:
		return fmt.Sprintf("%.2f KB/s", bytesPerSecond/1024)
	}
}

// FormatETA renders remaining seconds as "Ns" or "Mm Ss". Unknown renders as a dash.
func FormatETA(seconds *float64) string {
	if seconds == nil || *seconds <= 0 || math.IsInf(*seconds, 0) || math.IsNaN(*seconds) {
		return "—"
	}
	s := *seconds
	if s < 60 {
		return fmt.Sprintf("%ds", int(math.Round(s)))
	}
	return fmt.Sprintf("%dm %ds", int(s/60), int(math.Round(math.Mod(s, 60))))
}
