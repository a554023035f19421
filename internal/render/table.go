// Package render holds the terminal table formatting shared by
// /doctor and /audit-summary: column widths measured in display cells
// (not bytes) so wide-rune content still lines up.
package render

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Table is a simple header+rows text table. Every row must have the same
// number of cells as Header.
type Table struct {
	Header []string
	Rows   [][]string
}

// Render formats t as a left-aligned, space-padded table: a header row,
// a "---" separator sized to each column's widest cell, then the data
// rows. Column widths are measured with runewidth so multi-byte runes
// don't throw off alignment the way len() would.
func (t Table) Render() string {
	columns := len(t.Header)
	if columns == 0 {
		return ""
	}
	widths := make([]int, columns)
	for i, h := range t.Header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < columns && i < len(row); i++ {
			if w := runewidth.StringWidth(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow(&b, t.Header, widths)
	writeSeparator(&b, widths)
	for _, row := range t.Rows {
		writeRow(&b, row, widths)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string, widths []int) {
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		b.WriteString(runewidth.FillRight(cell, w))
		if i < len(widths)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")
}

func writeSeparator(b *strings.Builder, widths []int) {
	for i, w := range widths {
		b.WriteString(strings.Repeat("-", w))
		if i < len(widths)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")
}
