package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tau-run/tau/internal/events"
	"github.com/tau-run/tau/internal/jobs"
	"github.com/tau-run/tau/internal/store"
)

func printJSON(value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func eventsTemplateCmd() *cobra.Command {
	var targetPath string
	var overwrite bool
	var schedule, channel, prompt, eventID, cronExpr, timezone string
	var atUnixMS int64
	cmd := &cobra.Command{
		Use:   "events-template",
		Short: "Write a starter event manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := events.WriteEventTemplate(events.TemplateConfig{
				TargetPath: targetPath,
				Overwrite:  overwrite,
				Schedule:   events.TemplateSchedule(schedule),
				Channel:    channel,
				Prompt:     prompt,
				EventID:    eventID,
				AtUnixMS:   atUnixMS,
				Cron:       cronExpr,
				Timezone:   timezone,
			}, store.NowUnixMilli())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().StringVar(&targetPath, "events-template-path", "", "path to write the manifest (required)")
	cmd.Flags().BoolVar(&overwrite, "events-template-overwrite", false, "overwrite an existing file at the target path")
	cmd.Flags().StringVar(&schedule, "events-template-schedule", string(events.TemplateImmediate), "immediate|at|periodic")
	cmd.Flags().StringVar(&channel, "events-template-channel", "", "<transport>:<channel_id>")
	cmd.Flags().StringVar(&prompt, "events-template-prompt", "", "prompt text")
	cmd.Flags().StringVar(&eventID, "events-template-id", "", "event id (defaults to a generated id)")
	cmd.Flags().Int64Var(&atUnixMS, "events-template-at-unix-ms", 0, "due instant for schedule=at")
	cmd.Flags().StringVar(&cronExpr, "events-template-cron", "", "cron expression for schedule=periodic")
	cmd.Flags().StringVar(&timezone, "events-template-timezone", "UTC", "IANA timezone for schedule=periodic")
	cmd.MarkFlagRequired("events-template-path")
	return cmd
}

func eventsInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events-inspect",
		Short: "Summarize the current discovered/due state of the events directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			paths := cfg.NewPaths()
			report, err := events.InspectEvents(events.InspectConfig{
				EventsDir:                   paths.EventsDir(),
				StatePath:                   paths.EventsStatePath(),
				QueueLimit:                  cfg.Events.QueueLimit,
				StaleImmediateMaxAgeSeconds: cfg.Events.StaleImmediateMaxAgeSeconds,
			}, store.NowUnixMilli())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func eventsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events-validate",
		Short: "Validate every manifest in the events directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			paths := cfg.NewPaths()
			report, err := events.ValidateEventsDefinitions(events.ValidateConfig{
				EventsDir: paths.EventsDir(),
				StatePath: paths.EventsStatePath(),
			}, store.NowUnixMilli())
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if report.FailedFiles > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}

func eventsSimulateCmd() *cobra.Command {
	var horizonSeconds int64
	cmd := &cobra.Command{
		Use:   "events-simulate",
		Short: "Project each event's next due instant over a horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			paths := cfg.NewPaths()
			report, err := events.SimulateEvents(events.SimulateConfig{
				EventsDir:                   paths.EventsDir(),
				StatePath:                   paths.EventsStatePath(),
				HorizonSeconds:              horizonSeconds,
				StaleImmediateMaxAgeSeconds: cfg.Events.StaleImmediateMaxAgeSeconds,
			}, store.NowUnixMilli())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().Int64Var(&horizonSeconds, "events-simulate-horizon-seconds", 86400, "projection horizon in seconds")
	return cmd
}

func eventsDryRunCmd() *cobra.Command {
	var maxErrorRows, maxExecuteRows int
	var haveMaxErrorRows, haveMaxExecuteRows bool
	cmd := &cobra.Command{
		Use:   "events-dry-run",
		Short: "Simulate exactly one poll cycle's queueing decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			paths := cfg.NewPaths()
			report, err := events.DryRunEvents(events.DryRunConfig{
				EventsDir:                   paths.EventsDir(),
				StatePath:                   paths.EventsStatePath(),
				QueueLimit:                  cfg.Events.QueueLimit,
				StaleImmediateMaxAgeSeconds: cfg.Events.StaleImmediateMaxAgeSeconds,
			}, store.NowUnixMilli())
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}

			gateConfig := events.DryRunGateConfig{}
			if haveMaxErrorRows {
				gateConfig.MaxErrorRows = &maxErrorRows
			}
			if haveMaxExecuteRows {
				gateConfig.MaxExecuteRows = &maxExecuteRows
			}
			if err := events.EnforceDryRunGate(report, gateConfig); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxErrorRows, "events-dry-run-max-error-rows", 0, "fail if error rows exceed this count")
	cmd.Flags().IntVar(&maxExecuteRows, "events-dry-run-max-execute-rows", 0, "fail if would-execute rows exceed this count")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		haveMaxErrorRows = cmd.Flags().Changed("events-dry-run-max-error-rows")
		haveMaxExecuteRows = cmd.Flags().Changed("events-dry-run-max-execute-rows")
	}
	return cmd
}

func eventsSchedulerCmd() *cobra.Command {
	var agentCommand string
	cmd := &cobra.Command{
		Use:   "events-scheduler",
		Short: "Run the event scheduler's poll loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEventsScheduler(agentCommand)
		},
	}
	cmd.Flags().StringVar(&agentCommand, "events-scheduler-agent-command", "echo", "command invoked (with the event prompt as its argument) when an event fires")
	return cmd
}

func runEventsScheduler(agentCommand string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	paths := cfg.NewPaths()

	jobsRuntime, err := jobs.New(cfg.JobsConfig(paths))
	if err != nil {
		return fmt.Errorf("start jobs runtime: %w", err)
	}
	runner := &jobsEventRunner{jobs: jobsRuntime, command: agentCommand, channelStoreRoot: paths.ChannelStoreRoot()}

	runtime, err := events.NewRuntime(cfg.EventsSchedulerConfig(paths, runner))
	if err != nil {
		return fmt.Errorf("start events scheduler: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runtime.Run(ctx)
}

// jobsEventRunner dispatches a due event by enqueueing a background job
// running the configured command with the event's prompt as its sole
// argument, tracing the job back to the event's channel.
type jobsEventRunner struct {
	jobs             *jobs.Runtime
	command          string
	channelStoreRoot string
}

func (r *jobsEventRunner) RunEvent(ctx context.Context, event events.Definition, nowUnixMS int64, channel store.ChannelStore) error {
	transport, channelID, _ := strings.Cut(event.Channel, ":")
	_, err := r.jobs.CreateJob(jobs.CreateRequest{
		Command: r.command,
		Args:    []string{event.Prompt},
		Trace: jobs.TraceContext{
			ChannelStoreRoot: r.channelStoreRoot,
			ChannelTransport: transport,
			ChannelID:        channelID,
		},
	})
	return err
}
