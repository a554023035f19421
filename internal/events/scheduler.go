package events

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tau-run/tau/internal/store"
)

// SchedulerConfig configures one scheduler runtime.
type SchedulerConfig struct {
	Runner                      Runner
	ChannelStoreRoot            string
	EventsDir                   string
	StatePath                   string
	PollInterval                time.Duration
	QueueLimit                  int
	StaleImmediateMaxAgeSeconds int64
}

// Runtime is the bounded-concurrency single-writer scheduler loop.
type Runtime struct {
	config  SchedulerConfig
	state   RunnerState
	watcher *fsnotify.Watcher
}

// NewRuntime creates the events directory if needed, loads persisted
// state, and starts an fsnotify watch on the events directory so a
// dropped or edited manifest wakes the poll loop before its next tick.
func NewRuntime(config SchedulerConfig) (*Runtime, error) {
	if err := os.MkdirAll(config.EventsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir %s: %w", config.EventsDir, err)
	}
	state, err := loadRunnerState(config.StatePath)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create events dir watcher: %w", err)
	}
	if err := watcher.Add(config.EventsDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch events dir %s: %w", config.EventsDir, err)
	}
	return &Runtime{config: config, state: state, watcher: watcher}, nil
}

// Run executes the poll loop until ctx is canceled. A poll that errors
// propagates to the log but never stops the loop; the next tick retries.
// A manifest dropped or edited in the events directory wakes the loop
// for an out-of-band poll instead of waiting out the rest of the tick.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.watcher.Close()
	for {
		report, err := r.PollOnce(ctx, store.NowUnixMilli())
		if err != nil {
			slog.Error("events poll error", "error", err)
		} else if report.Discovered > 0 || report.Executed > 0 || report.StaleSkipped > 0 ||
			report.MalformedSkipped > 0 || report.Failed > 0 {
			slog.Info("events poll",
				"discovered", report.Discovered,
				"queued", report.Queued,
				"executed", report.Executed,
				"stale_skipped", report.StaleSkipped,
				"malformed_skipped", report.MalformedSkipped,
				"failed", report.Failed,
			)
		}

		select {
		case <-ctx.Done():
			slog.Info("events scheduler shutdown requested")
			return nil
		case event, ok := <-r.watcher.Events:
			if !ok {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				slog.Debug("events dir changed, polling early", "path", event.Name, "op", event.Op.String())
			}
		case err, ok := <-r.watcher.Errors:
			if ok {
				slog.Warn("events dir watch error", "error", err)
			}
		case <-time.After(r.config.PollInterval):
		}
	}
}

// PollOnce runs exactly one discovery/due/queue/execute/persist cycle.
func (r *Runtime) PollOnce(ctx context.Context, nowUnixMS int64) (PollReport, error) {
	var report PollReport

	records, malformed, err := loadRecords(r.config.EventsDir)
	if err != nil {
		return report, err
	}
	report.Discovered = len(records)
	report.MalformedSkipped = malformed

	queueLimit := r.config.QueueLimit
	if queueLimit <= 0 {
		queueLimit = 1
	}

	var queued []record
records:
	for _, rec := range records {
		decision, err := dueDecision(rec.definition, r.state, nowUnixMS, r.config.StaleImmediateMaxAgeSeconds)
		if err != nil {
			slog.Warn("due decision failed", "event_id", rec.definition.ID, "error", err)
			continue
		}
		switch decision {
		case DueRun:
			queued = append(queued, rec)
			if len(queued) >= queueLimit {
				break records
			}
		case DueSkipStaleRemove:
			report.StaleSkipped++
			os.Remove(rec.path)
		case DueNotDue:
		}
	}
	report.Queued = len(queued)

	for _, rec := range queued {
		if err := r.executeEvent(ctx, rec, nowUnixMS); err != nil {
			report.Failed++
			slog.Error("event execution failed", "event_id", rec.definition.ID, "channel", rec.definition.Channel, "error", err)
			continue
		}
		report.Executed++
		switch rec.definition.Schedule.Kind {
		case ScheduleImmediate, ScheduleAt:
			os.Remove(rec.path)
		case SchedulePeriodic:
			r.state.PeriodicLastRunUnixMS[rec.definition.ID] = nowUnixMS
		}
	}

	if err := saveRunnerState(r.config.StatePath, r.state); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runtime) executeEvent(ctx context.Context, rec record, nowUnixMS int64) error {
	ref, err := parseChannelRef(rec.definition.Channel)
	if err != nil {
		return err
	}
	channelStore, err := store.OpenChannelStore(r.config.ChannelStoreRoot, ref)
	if err != nil {
		return err
	}

	_, err = channelStore.AppendLog(store.LogEntry{
		TimestampUnixMS: nowUnixMS,
		Direction:       "inbound",
		EventKey:        rec.definition.ID,
		Source:          "events",
		Payload: map[string]any{
			"event_id": rec.definition.ID,
			"channel":  rec.definition.Channel,
			"prompt":   rec.definition.Prompt,
			"schedule": rec.definition.Schedule,
		},
	}, store.DefaultRotateBytes)
	if err != nil {
		return err
	}

	return r.config.Runner.RunEvent(ctx, rec.definition, nowUnixMS, channelStore)
}
