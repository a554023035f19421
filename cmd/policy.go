package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func policyCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Print the resolved tool policy snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicy(jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the snapshot as JSON")
	return cmd
}

func runPolicy(jsonOut bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	snapshot := cfg.PolicySnapshot()

	if jsonOut {
		encoded, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	}

	fmt.Println("policy:")
	fmt.Printf("  command_profile:    %s\n", snapshot.CommandProfile)
	fmt.Printf("  protected_paths:    %v\n", snapshot.ProtectedPaths)
	fmt.Printf("  allowed_roots:      %v\n", snapshot.AllowedRoots)
	fmt.Printf("  max_file_write:     %d bytes\n", snapshot.MaxFileWriteBytes)
	fmt.Printf("  max_command_len:    %d\n", snapshot.MaxCommandLength)
	fmt.Printf("  rate_limit:         %.2f/s (burst %d, %s)\n", snapshot.RateLimitPerSecond, snapshot.RateLimitBurst, snapshot.RateLimitExceededBehavior)
	fmt.Printf("  sandbox:            mode=%s policy=%s launcher=%q\n", snapshot.SandboxMode, snapshot.SandboxPolicyMode, snapshot.SandboxLauncher)
	if snapshot.RBAC != nil {
		fmt.Printf("  rbac_rules:         %d\n", len(snapshot.RBAC.Rules))
	} else {
		fmt.Println("  rbac_rules:         (unenforced)")
	}
	if snapshot.Extension != nil {
		fmt.Printf("  extension:          %s (timeout %ds)\n", snapshot.Extension.Binary, snapshot.Extension.Timeout)
	}
	return nil
}
