package render

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
)

func TestRenderAlignsColumnsByDisplayWidth(t *testing.T) {
	table := Table{
		Header: []string{"name", "status"},
		Rows: [][]string{
			{"telegram", "pass"},
			{"你好频道", "warn"},
		},
	}
	out := table.Render()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header + separator + 2 rows, got %d lines:\n%s", len(lines), out)
	}
	// every line's second column should start at the same display-cell offset.
	cellOffset := func(line, cell string) int {
		idx := strings.Index(line, cell)
		if idx < 0 {
			return -1
		}
		return runewidth.StringWidth(line[:idx])
	}
	statusCol := cellOffset(lines[0], "status")
	if statusCol != cellOffset(lines[2], "pass") || statusCol != cellOffset(lines[3], "warn") {
		t.Fatalf("expected columns aligned regardless of wide runes, got:\n%s", out)
	}
}

func TestRenderEmptyHeaderYieldsEmptyString(t *testing.T) {
	if out := (Table{}).Render(); out != "" {
		t.Fatalf("expected empty output for an empty table, got %q", out)
	}
}
