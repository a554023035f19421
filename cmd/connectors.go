package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/connectors"
	"github.com/tau-run/tau/internal/store"
)

func multiChannelLiveConnectorsCmd() *cobra.Command {
	var pollOnce bool
	var pollInterval time.Duration
	cmd := &cobra.Command{
		Use:   "multi-channel-live-connectors",
		Short: "Poll Telegram/Discord and persist inbound events for WhatsApp's webhook handler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMultiChannelLiveConnectors(pollOnce, pollInterval)
		},
	}
	cmd.Flags().BoolVar(&pollOnce, "multi-channel-live-connectors-poll-once", false, "run exactly one poll cycle and exit")
	cmd.Flags().DurationVar(&pollInterval, "multi-channel-live-connectors-poll-interval", 5*time.Second, "interval between poll cycles")
	return cmd
}

func runMultiChannelLiveConnectors(pollOnce bool, pollInterval time.Duration) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	paths := cfg.NewPaths()
	connectorsCfg, err := cfg.ConnectorsConfig(paths)
	if err != nil {
		return fmt.Errorf("resolve connectors config: %w", err)
	}

	if pollOnce {
		summary, err := connectors.PollOnce(connectorsCfg, store.NowUnixMilli())
		if err != nil {
			return err
		}
		return printJSON(summary)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		summary, err := connectors.PollOnce(connectorsCfg, store.NowUnixMilli())
		if err != nil {
			slog.Error("connector poll failed", "error", err)
		} else if summary.IngestedEvents > 0 || summary.RetryAttempts > 0 {
			slog.Info("connector poll",
				"ingested", summary.IngestedEvents,
				"duplicates", summary.DuplicateEvents,
				"retries", summary.RetryAttempts,
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
