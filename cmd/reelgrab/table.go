package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// tableSpec describes a rendered table. Aligns and WidthMax are keyed by
// column index; unset columns are left aligned and unbounded.
type tableSpec struct {
	Title    string
	Headers  []string
	Rows     [][]string
	Aligns   map[int]text.Align
	WidthMax map[int]int
}

func renderTable(spec tableSpec) string {
	if len(spec.Headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(spec.Title)
	tw.AppendHeader(toRow(spec.Headers, len(spec.Headers)))
	for _, row := range spec.Rows {
		tw.AppendRow(toRow(row, len(spec.Headers)))
	}

	configs := make([]table.ColumnConfig, len(spec.Headers))
	for i := range configs {
		align, ok := spec.Aligns[i]
		if !ok {
			align = text.AlignLeft
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			WidthMax:    spec.WidthMax[i],
		}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

// toRow pads or truncates cells to width columns.
func toRow(cells []string, width int) table.Row {
	row := make(table.Row, width)
	for i := range row {
		row[i] = ""
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	return row
}

// renderFields renders label/value pairs as a two-column table, skipping
// empty values.
func renderFields(title string, fields [][2]string) string {
	rows := make([][]string, 0, len(fields))
	for _, f := range fields {
		if f[1] != "" {
			rows = append(rows, f[:])
		}
	}
	return renderTable(tableSpec{
		Title:    title,
		Headers:  []string{"Field", "Value"},
		Rows:     rows,
		WidthMax: map[int]int{1: 80},
	})
}
