package canvas

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func renderJSON(snap Snapshot) (string, error) {
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode canvas snapshot: %w", err)
	}
	return string(encoded) + "\n", nil
}

func renderMarkdown(snap Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Canvas `%s`\n\n", snap.CanvasID)
	fmt.Fprintf(&b, "- Schema: `%d`\n", snap.SchemaVersion)
	fmt.Fprintf(&b, "- Nodes: `%d`\n", len(snap.Nodes))
	fmt.Fprintf(&b, "- Edges: `%d`\n\n", len(snap.Edges))

	b.WriteString("## Nodes\n\n")
	b.WriteString("| id | label | x | y |\n")
	b.WriteString("| --- | --- | ---: | ---: |\n")
	if len(snap.Nodes) == 0 {
		b.WriteString("| _none_ |  |  |  |\n")
	} else {
		for _, n := range snap.Nodes {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", n.ID, n.Label, formatFloat(n.X), formatFloat(n.Y))
		}
	}

	b.WriteString("\n## Edges\n\n")
	b.WriteString("| id | from | to | label |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	if len(snap.Edges) == 0 {
		b.WriteString("| _none_ |  |  |  |\n")
	} else {
		for _, e := range snap.Edges {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", e.ID, e.From, e.To, e.Label)
		}
	}
	b.WriteString("\n")
	return b.String()
}

// formatFloat renders value to four decimal places, then trims trailing
// zeros down to a single fractional digit so "3.0000" becomes "3.0" and
// "1.2500" becomes "1.25".
func formatFloat(value float64) string {
	rendered := strconv.FormatFloat(value, 'f', 4, 64)
	for strings.Contains(rendered, ".") && strings.HasSuffix(rendered, "0") {
		trimmed := strings.TrimSuffix(rendered, "0")
		if strings.HasSuffix(trimmed, ".") {
			break
		}
		rendered = trimmed
	}
	return rendered
}
