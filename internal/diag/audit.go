package diag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tau-run/tau/internal/render"
)

// ToolAuditAggregate accumulates one tool's audit-log rows.
type ToolAuditAggregate struct {
	Count       uint64
	ErrorCount  uint64
	DurationsMS []uint64
}

// ProviderAuditAggregate accumulates one provider's audit-log rows.
type ProviderAuditAggregate struct {
	Count        uint64
	ErrorCount   uint64
	DurationsMS  []uint64
	InputTokens  uint64
	OutputTokens uint64
	TotalTokens  uint64
}

// AuditSummary is the result of scanning one audit JSONL file.
type AuditSummary struct {
	RecordCount       uint64
	ToolEventCount    uint64
	PromptRecordCount uint64
	Tools             map[string]*ToolAuditAggregate
	Providers         map[string]*ProviderAuditAggregate
}

func newAuditSummary() *AuditSummary {
	return &AuditSummary{
		Tools:     map[string]*ToolAuditAggregate{},
		Providers: map[string]*ProviderAuditAggregate{},
	}
}

// SummarizeAuditFile reads path line by line, treating it as a JSONL audit
// log, and aggregates tool_execution_end events and prompt_telemetry_v1
// records into per-tool / per-provider buckets.
func SummarizeAuditFile(path string) (*AuditSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
	}
	defer file.Close()

	summary := newAuditSummary()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}

		summary.RecordCount++
		var record map[string]any
		if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
			return nil, fmt.Errorf("failed to parse JSON at line %d in %s: %w", lineNo, path, err)
		}

		switch {
		case asString(record["event"]) == "tool_execution_end":
			summary.ToolEventCount++
			toolName := asString(record["tool_name"])
			if toolName == "" {
				toolName = "unknown_tool"
			}
			aggregate := summary.Tools[toolName]
			if aggregate == nil {
				aggregate = &ToolAuditAggregate{}
				summary.Tools[toolName] = aggregate
			}
			aggregate.Count++
			if asBool(record["is_error"]) {
				aggregate.ErrorCount++
			}
			if durationMS, ok := asUint64(record["duration_ms"]); ok {
				aggregate.DurationsMS = append(aggregate.DurationsMS, durationMS)
			}

		case asString(record["record_type"]) == "prompt_telemetry_v1":
			summary.PromptRecordCount++
			provider := asString(record["provider"])
			if provider == "" {
				provider = "unknown_provider"
			}
			durationMS, _ := asUint64(record["duration_ms"])
			status := asString(record["status"])
			success, hasSuccess := record["success"].(bool)
			if !hasSuccess {
				success = status == "completed"
			}

			var inputTokens, outputTokens, totalTokens uint64
			if usage, ok := record["token_usage"].(map[string]any); ok {
				inputTokens, _ = asUint64(usage["input_tokens"])
				outputTokens, _ = asUint64(usage["output_tokens"])
				totalTokens, _ = asUint64(usage["total_tokens"])
			}

			aggregate := summary.Providers[provider]
			if aggregate == nil {
				aggregate = &ProviderAuditAggregate{}
				summary.Providers[provider] = aggregate
			}
			aggregate.Count++
			if !success {
				aggregate.ErrorCount++
			}
			if durationMS > 0 {
				aggregate.DurationsMS = append(aggregate.DurationsMS, durationMS)
			}
			aggregate.InputTokens += inputTokens
			aggregate.OutputTokens += outputTokens
			aggregate.TotalTokens += totalTokens
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return summary, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

// PercentileDurationMS returns the percentileNumerator-th percentile (e.g.
// 50 or 95) of values using nearest-rank interpolation, matching the
// original's ceil(len * p / 100) rank selection. Returns 0 for no samples.
func PercentileDurationMS(values []uint64, percentileNumerator uint64) uint64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]uint64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	length := uint64(len(sorted))
	rank := (length*percentileNumerator + 99) / 100
	index := rank - 1
	if index >= length {
		index = length - 1
	}
	return sorted[index]
}

// RenderAuditSummary formats summary as the /audit-summary text report:
// headline counters then sorted tool and provider breakdown tables.
func RenderAuditSummary(path string, summary *AuditSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "audit summary: path=%s records=%d tool_events=%d prompt_records=%d\n",
		path, summary.RecordCount, summary.ToolEventCount, summary.PromptRecordCount)

	b.WriteString("tool_breakdown:\n")
	if len(summary.Tools) == 0 {
		b.WriteString("  none\n")
	} else {
		b.WriteString(indent(renderToolTable(summary.Tools)))
	}

	b.WriteString("provider_breakdown:\n")
	if len(summary.Providers) == 0 {
		b.WriteString("  none\n")
	} else {
		b.WriteString(indent(renderProviderTable(summary.Providers)))
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderToolTable(tools map[string]*ToolAuditAggregate) string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	table := render.Table{Header: []string{"tool", "count", "error_rate", "p50_ms", "p95_ms"}}
	for _, name := range names {
		aggregate := tools[name]
		table.Rows = append(table.Rows, []string{
			name,
			fmt.Sprintf("%d", aggregate.Count),
			formatErrorRate(aggregate.Count, aggregate.ErrorCount),
			fmt.Sprintf("%d", PercentileDurationMS(aggregate.DurationsMS, 50)),
			fmt.Sprintf("%d", PercentileDurationMS(aggregate.DurationsMS, 95)),
		})
	}
	return table.Render()
}

func renderProviderTable(providers map[string]*ProviderAuditAggregate) string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	table := render.Table{Header: []string{"provider", "count", "error_rate", "p50_ms", "p95_ms", "input_tokens", "output_tokens", "total_tokens"}}
	for _, name := range names {
		aggregate := providers[name]
		table.Rows = append(table.Rows, []string{
			name,
			fmt.Sprintf("%d", aggregate.Count),
			formatErrorRate(aggregate.Count, aggregate.ErrorCount),
			fmt.Sprintf("%d", PercentileDurationMS(aggregate.DurationsMS, 50)),
			fmt.Sprintf("%d", PercentileDurationMS(aggregate.DurationsMS, 95)),
			fmt.Sprintf("%d", aggregate.InputTokens),
			fmt.Sprintf("%d", aggregate.OutputTokens),
			fmt.Sprintf("%d", aggregate.TotalTokens),
		})
	}
	return table.Render()
}

func formatErrorRate(count, errorCount uint64) string {
	if count == 0 {
		return "0.00%"
	}
	rate := float64(errorCount) / float64(count) * 100.0
	return fmt.Sprintf("%.2f%%", rate)
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n") + "\n"
}

// AuditSummaryJSON is the /audit-summary --json payload shape.
type AuditSummaryJSON struct {
	Path              string                                `json:"path"`
	RecordCount       uint64                                `json:"record_count"`
	ToolEventCount    uint64                                `json:"tool_event_count"`
	PromptRecordCount uint64                                `json:"prompt_record_count"`
	Tools             map[string]ToolAuditAggregateJSON      `json:"tools"`
	Providers         map[string]ProviderAuditAggregateJSON `json:"providers"`
}

// ToolAuditAggregateJSON is one tool's JSON breakdown row.
type ToolAuditAggregateJSON struct {
	Count     uint64 `json:"count"`
	ErrorRate float64 `json:"error_rate_pct"`
	P50MS     uint64 `json:"p50_ms"`
	P95MS     uint64 `json:"p95_ms"`
}

// ProviderAuditAggregateJSON is one provider's JSON breakdown row.
type ProviderAuditAggregateJSON struct {
	Count        uint64  `json:"count"`
	ErrorRate    float64 `json:"error_rate_pct"`
	P50MS        uint64  `json:"p50_ms"`
	P95MS        uint64  `json:"p95_ms"`
	InputTokens  uint64  `json:"input_tokens"`
	OutputTokens uint64  `json:"output_tokens"`
	TotalTokens  uint64  `json:"total_tokens"`
}

// ToJSON converts summary into the serializable shape used by
// /audit-summary --json.
func (summary *AuditSummary) ToJSON(path string) AuditSummaryJSON {
	out := AuditSummaryJSON{
		Path:              path,
		RecordCount:       summary.RecordCount,
		ToolEventCount:    summary.ToolEventCount,
		PromptRecordCount: summary.PromptRecordCount,
		Tools:             map[string]ToolAuditAggregateJSON{},
		Providers:         map[string]ProviderAuditAggregateJSON{},
	}
	for name, aggregate := range summary.Tools {
		rate := 0.0
		if aggregate.Count > 0 {
			rate = float64(aggregate.ErrorCount) / float64(aggregate.Count) * 100.0
		}
		out.Tools[name] = ToolAuditAggregateJSON{
			Count:     aggregate.Count,
			ErrorRate: rate,
			P50MS:     PercentileDurationMS(aggregate.DurationsMS, 50),
			P95MS:     PercentileDurationMS(aggregate.DurationsMS, 95),
		}
	}
	for name, aggregate := range summary.Providers {
		rate := 0.0
		if aggregate.Count > 0 {
			rate = float64(aggregate.ErrorCount) / float64(aggregate.Count) * 100.0
		}
		out.Providers[name] = ProviderAuditAggregateJSON{
			Count:        aggregate.Count,
			ErrorRate:    rate,
			P50MS:        PercentileDurationMS(aggregate.DurationsMS, 50),
			P95MS:        PercentileDurationMS(aggregate.DurationsMS, 95),
			InputTokens:  aggregate.InputTokens,
			OutputTokens: aggregate.OutputTokens,
			TotalTokens:  aggregate.TotalTokens,
		}
	}
	return out
}
