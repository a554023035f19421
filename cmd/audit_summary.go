package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/diag"
)

func auditSummaryCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "audit-summary <path>",
		Short: "Summarize an audit log's tool and provider telemetry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditSummary(args[0], jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the summary as JSON")
	return cmd
}

func runAuditSummary(path string, jsonOut bool) error {
	summary, err := diag.SummarizeAuditFile(path)
	if err != nil {
		return fmt.Errorf("summarize audit log %s: %w", path, err)
	}

	if jsonOut {
		encoded, err := json.MarshalIndent(summary.ToJSON(path), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	fmt.Println(diag.RenderAuditSummary(path, summary))
	return nil
}
