// Command reelgrab hosts a media-download session against an extraction
// worker from the terminal: previews, tracked video and audio jobs with live
// progress, artifact delivery, job history, and an interactive TUI.
package main
