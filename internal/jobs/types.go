// Package jobs implements the persisted background job queue: a single
// worker processes one command at a time, manifests survive restarts,
// and a job interrupted mid-run is requeued rather than lost.
package jobs

import "strings"

const (
	schemaVersion      = 1
	stateSchemaVersion = 1
	manifestDirName    = "jobs"
	eventsFileName     = "events.jsonl"
	stateFileName      = "state.json"

	reasonQueued                = "job_queued"
	reasonStarted                = "job_started"
	reasonSucceeded              = "job_succeeded"
	reasonNonZeroExit            = "job_non_zero_exit"
	reasonSpawnFailed            = "job_spawn_failed"
	reasonTimeout                = "job_timeout"
	reasonCancelledBeforeStart   = "job_cancelled_before_start"
	reasonCancelledDuringRun     = "job_cancelled_during_run"
	reasonRecoveredRunning       = "job_recovered_after_restart"
	reasonRuntimeError           = "job_runtime_error"
	reasonTraceWriteFailed       = "job_trace_write_failed"

	recentReasonCodeCap   = 16
	recentDiagnosticCap   = 24
	defaultWorkerPollMS   = 100
)

// Status is a background job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the job cannot transition any further.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// StatusFilter selects a subset of jobs for list queries.
type StatusFilter string

const (
	FilterQueued    StatusFilter = "queued"
	FilterRunning   StatusFilter = "running"
	FilterSucceeded StatusFilter = "succeeded"
	FilterFailed    StatusFilter = "failed"
	FilterCancelled StatusFilter = "cancelled"
	FilterTerminal  StatusFilter = "terminal"
)

// ParseStatusFilter parses a filter token used by CLI/tool list APIs.
// "canceled" is accepted as an alias of "cancelled".
func ParseStatusFilter(raw string) (StatusFilter, bool) {
	switch normalizeToken(raw) {
	case "queued":
		return FilterQueued, true
	case "running":
		return FilterRunning, true
	case "succeeded":
		return FilterSucceeded, true
	case "failed":
		return FilterFailed, true
	case "cancelled", "canceled":
		return FilterCancelled, true
	case "terminal":
		return FilterTerminal, true
	default:
		return "", false
	}
}

// Matches evaluates whether status satisfies the filter.
func (f StatusFilter) Matches(status Status) bool {
	switch f {
	case FilterQueued:
		return status == StatusQueued
	case FilterRunning:
		return status == StatusRunning
	case FilterSucceeded:
		return status == StatusSucceeded
	case FilterFailed:
		return status == StatusFailed
	case FilterCancelled:
		return status == StatusCancelled
	case FilterTerminal:
		return status.IsTerminal()
	default:
		return false
	}
}

// TraceContext names optional trace sinks a job's lifecycle events are
// mirrored to in addition to the jobs event log.
type TraceContext struct {
	ChannelStoreRoot string `json:"channel_store_root,omitempty"`
	ChannelTransport string `json:"channel_transport,omitempty"`
	ChannelID        string `json:"channel_id,omitempty"`
	SessionDir       string `json:"session_dir,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
}

// Record is the durable manifest persisted for one background job.
type Record struct {
	SchemaVersion        int               `json:"schema_version"`
	JobID                string            `json:"job_id"`
	Command              string            `json:"command"`
	Args                 []string          `json:"args,omitempty"`
	Env                  map[string]string `json:"env,omitempty"`
	Cwd                  string            `json:"cwd,omitempty"`
	RequestedTimeoutMS   int64             `json:"requested_timeout_ms"`
	EffectiveTimeoutMS   int64             `json:"effective_timeout_ms"`
	Status               Status            `json:"status"`
	ReasonCode           string            `json:"reason_code"`
	CreatedUnixMS        int64             `json:"created_unix_ms"`
	UpdatedUnixMS        int64             `json:"updated_unix_ms"`
	StartedUnixMS        int64             `json:"started_unix_ms,omitempty"`
	FinishedUnixMS       int64             `json:"finished_unix_ms,omitempty"`
	ExitCode             *int              `json:"exit_code,omitempty"`
	Error                string            `json:"error,omitempty"`
	CancellationRequested bool             `json:"cancellation_requested"`
	StdoutPath           string            `json:"stdout_path"`
	StderrPath           string            `json:"stderr_path"`
	Trace                TraceContext      `json:"trace,omitempty"`
}

// HealthSnapshot is the runtime counters and recent diagnostics
// persisted for operator inspection (status CLI, /doctor).
type HealthSnapshot struct {
	SchemaVersion  int      `json:"schema_version"`
	UpdatedUnixMS  int64    `json:"updated_unix_ms"`
	QueueDepth     int      `json:"queue_depth"`
	RunningJobs    int      `json:"running_jobs"`
	CreatedTotal   uint64   `json:"created_total"`
	StartedTotal   uint64   `json:"started_total"`
	SucceededTotal uint64   `json:"succeeded_total"`
	FailedTotal    uint64   `json:"failed_total"`
	CancelledTotal uint64   `json:"cancelled_total"`
	LastJobID      string   `json:"last_job_id"`
	LastReasonCode string   `json:"last_reason_code"`
	ReasonCodes    []string `json:"reason_codes"`
	Diagnostics    []string `json:"diagnostics"`
}

// CreateRequest is the input payload used to enqueue a new job.
type CreateRequest struct {
	Command    string
	Args       []string
	Env        map[string]string
	Cwd        string
	TimeoutMS  int64
	Trace      TraceContext
}

// RuntimeConfig configures one persisted jobs runtime.
type RuntimeConfig struct {
	StateDir        string
	DefaultTimeoutMS int64
	MaxTimeoutMS     int64
	WorkerPollMS     int64
}

func (c RuntimeConfig) normalized() RuntimeConfig {
	if c.DefaultTimeoutMS < 1 {
		c.DefaultTimeoutMS = 30_000
	}
	c.MaxTimeoutMS = max(c.MaxTimeoutMS, c.DefaultTimeoutMS)
	if c.WorkerPollMS < 1 {
		c.WorkerPollMS = defaultWorkerPollMS
	}
	return c
}

func normalizeToken(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
