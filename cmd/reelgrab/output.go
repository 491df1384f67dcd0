package main

import (
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"

	"reelgrab/internal/artifact"
)

// writeJSON encodes v as indented JSON.
func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type deliveredView struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	SHA256   string `json:"sha256"`
	Source   string `json:"source"`
}

func deliveredViews(saved []artifact.Delivered) []deliveredView {
	views := make([]deliveredView, 0, len(saved))
	for _, d := range saved {
		views = append(views, deliveredView{
			Filename: filepath.Base(d.Path),
			Path:     d.Path,
			Bytes:    d.Bytes,
			SHA256:   d.SHA256,
			Source:   d.Location.URL,
		})
	}
	return views
}

func renderDelivered(saved []artifact.Delivered) string {
	rows := make([][]string, 0, len(saved))
	for _, d := range saved {
		rows = append(rows, []string{filepath.Base(d.Path), humanize.Bytes(uint64(max(d.Bytes, 0))), d.Path})
	}
	return renderTable(tableSpec{
		Title:    "Saved",
		Headers:  []string{"File", "Size", "Path"},
		Rows:     rows,
		Aligns:   map[int]text.Align{1: text.AlignRight},
		WidthMax: map[int]int{2: 70},
	})
}
