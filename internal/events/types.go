// Package events implements the bounded-concurrency event scheduler: a
// single-writer poll loop that discovers due event manifests and
// dispatches them to an injected runner, plus the webhook ingest path
// that synthesizes new manifests and the CLI report builders used by
// events-template/inspect/validate/simulate/dry-run.
package events

import (
	"context"

	"github.com/tau-run/tau/internal/store"
)

const runnerStateSchemaVersion = 1

// ScheduleKind tags the variant of Schedule in play.
type ScheduleKind string

const (
	ScheduleImmediate ScheduleKind = "immediate"
	ScheduleAt        ScheduleKind = "at"
	SchedulePeriodic  ScheduleKind = "periodic"
)

// Schedule is the tagged union over an event's due-time rule. Exactly one
// of the kind-specific fields is meaningful for a given Kind.
type Schedule struct {
	Kind ScheduleKind `json:"type"`

	AtUnixMS int64 `json:"at_unix_ms,omitempty"`

	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Definition is one event manifest (one `*.json` file in the events
// directory).
type Definition struct {
	ID            string   `json:"id"`
	Channel       string   `json:"channel"`
	Prompt        string   `json:"prompt"`
	Schedule      Schedule `json:"schedule"`
	Enabled       bool     `json:"enabled"`
	CreatedUnixMS *int64   `json:"created_unix_ms,omitempty"`
}

// Runner dispatches a due event. Implementations own prompt execution;
// the scheduler only logs the inbound event and hands it off.
type Runner interface {
	RunEvent(ctx context.Context, event Definition, nowUnixMS int64, channel store.ChannelStore) error
}

// RunnerState is the scheduler's persisted bookkeeping: last run times
// for periodic events, debounce windows, and signature replay guards. It
// is loaded once and rewritten atomically at the end of every poll
// cycle, never mid-cycle.
type RunnerState struct {
	SchemaVersion                 int              `json:"schema_version"`
	PeriodicLastRunUnixMS         map[string]int64 `json:"periodic_last_run_unix_ms"`
	DebounceLastSeenUnixMS        map[string]int64 `json:"debounce_last_seen_unix_ms"`
	SignatureReplayLastSeenUnixMS map[string]int64 `json:"signature_replay_last_seen_unix_ms"`
}

func newRunnerState() RunnerState {
	return RunnerState{
		SchemaVersion:                 runnerStateSchemaVersion,
		PeriodicLastRunUnixMS:         map[string]int64{},
		DebounceLastSeenUnixMS:        map[string]int64{},
		SignatureReplayLastSeenUnixMS: map[string]int64{},
	}
}

// DueDecision is the result of evaluating one event against the current
// instant.
type DueDecision string

const (
	DueRun             DueDecision = "run"
	DueNotDue          DueDecision = "not_due"
	DueSkipStaleRemove DueDecision = "skip_stale_remove"
)

// PollReport summarizes one scheduler tick.
type PollReport struct {
	Discovered       int
	Queued           int
	Executed         int
	StaleSkipped     int
	MalformedSkipped int
	Failed           int
}
