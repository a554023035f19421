package canvas

import (
	"strings"
	"testing"
)

func TestFormatFloatTrimsTrailingZerosToOneDigit(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{3, "3.0"},
		{1.25, "1.25"},
		{0, "0.0"},
		{-2.5, "-2.5"},
		{1.2345, "1.2345"},
	}
	for _, c := range cases {
		if got := formatFloat(c.in); got != c.want {
			t.Errorf("formatFloat(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRenderMarkdownListsEmptyPlaceholders(t *testing.T) {
	out := renderMarkdown(Snapshot{SchemaVersion: 1, CanvasID: "empty"})
	if !strings.Contains(out, "_none_") {
		t.Fatalf("expected an empty-state placeholder, got:\n%s", out)
	}
}
