package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/voice"
)

func voiceContractRunnerCmd() *cobra.Command {
	var fixturePath string
	cmd := &cobra.Command{
		Use:   "voice-contract-runner",
		Short: "Replay a contract-mode voice fixture once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := cfg.NewPaths()
			voiceCfg := cfg.VoiceConfig(paths)
			if fixturePath != "" {
				voiceCfg.FixturePath = fixturePath
			}
			summary, err := voice.Run(context.Background(), voiceCfg)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().StringVar(&fixturePath, "voice-contract-fixture", "", "override the configured contract fixture path")
	return cmd
}

func voiceLiveRunnerCmd() *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "voice-live-runner",
		Short: "Drive one live-mode voice session cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := cfg.NewPaths()
			liveCfg := cfg.VoiceLiveConfig(paths)
			if inputPath != "" {
				liveCfg.InputPath = inputPath
			}
			summary, err := voice.RunLive(liveCfg)
			if err != nil {
				return err
			}
			return printJSON(summary)
		},
	}
	cmd.Flags().StringVar(&inputPath, "voice-live-input", "", "override the configured live input fixture path")
	return cmd
}
