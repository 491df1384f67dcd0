package logging

import (
	"strings"

	"reelgrab/internal/textutil"
)

// FormatSubject builds the "Platform · Job id" subject shown in console
// headers. Either part may be empty.
func FormatSubject(platform, jobID string) string {
	platform = textutil.TitleCase(platform)
	jobID = strings.TrimSpace(jobID)
	switch {
	case jobID == "":
		return platform
	case platform == "":
		return "Job " + jobID
	default:
		return platform + " · Job " + jobID
	}
}
