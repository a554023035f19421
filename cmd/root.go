package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/config"
	"github.com/tau-run/tau/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/tau-run/tau/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tau",
	Short: "Tau — autonomous agent execution platform",
	Long:  "Tau: the runtime that schedules events, bridges chat channels, runs background jobs and voice sessions, and exposes them all over one gateway.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json5 or $TAU_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(auditSummaryCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(canvasCmd())
	rootCmd.AddCommand(eventsTemplateCmd())
	rootCmd.AddCommand(eventsInspectCmd())
	rootCmd.AddCommand(eventsValidateCmd())
	rootCmd.AddCommand(eventsSimulateCmd())
	rootCmd.AddCommand(eventsDryRunCmd())
	rootCmd.AddCommand(eventsSchedulerCmd())
	rootCmd.AddCommand(multiChannelLiveConnectorsCmd())
	rootCmd.AddCommand(voiceContractRunnerCmd())
	rootCmd.AddCommand(voiceLiveRunnerCmd())
	rootCmd.AddCommand(gatewayCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tau %s (schema %d)\n", Version, protocol.SchemaVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("TAU_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
