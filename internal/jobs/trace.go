package jobs

import (
	"fmt"

	"github.com/tau-run/tau/internal/store"
)

// emitTraces mirrors a job lifecycle event into whichever sinks the
// job's TraceContext names, in addition to the jobs event log every
// job is already recorded to. Both sinks are best-effort: a job's
// durable status never depends on trace delivery succeeding.
func (r *Runtime) emitTraces(record Record, event, reasonCode, detail string) {
	trace := record.Trace
	if trace.ChannelStoreRoot != "" && trace.ChannelID != "" {
		if err := r.emitChannelTrace(record, trace, event, reasonCode, detail); err != nil {
			r.appendEvent(record, "trace_write_failed", reasonTraceWriteFailed, fmt.Sprintf("channel trace: %s", err))
		}
	}
	if trace.SessionDir != "" && trace.SessionID != "" {
		if err := r.emitSessionTrace(record, trace, event, reasonCode, detail); err != nil {
			r.appendEvent(record, "trace_write_failed", reasonTraceWriteFailed, fmt.Sprintf("session trace: %s", err))
		}
	}
}

func (r *Runtime) emitChannelTrace(record Record, trace TraceContext, event, reasonCode, detail string) error {
	channelStore, err := store.OpenChannelStore(trace.ChannelStoreRoot, store.ChannelRef{
		Transport: trace.ChannelTransport,
		ChannelID: trace.ChannelID,
	})
	if err != nil {
		return err
	}

	payload := map[string]any{
		"job_id":      record.JobID,
		"command":     record.Command,
		"args":        record.Args,
		"status":      string(record.Status),
		"event":       event,
		"reason_code": reasonCode,
		"detail":      detail,
		"stdout_path": record.StdoutPath,
		"stderr_path": record.StderrPath,
	}
	if record.ExitCode != nil {
		payload["exit_code"] = *record.ExitCode
	}
	if record.Error != "" {
		payload["error"] = record.Error
	}

	entry := store.LogEntry{
		TimestampUnixMS: r.now(),
		Direction:       "system",
		EventKey:        fmt.Sprintf("background-job:%s:%s", record.JobID, event),
		Source:          "background_job",
		Payload:         payload,
	}
	_, err = channelStore.AppendLog(entry, store.DefaultRotateBytes)
	return err
}

func (r *Runtime) emitSessionTrace(record Record, trace TraceContext, event, reasonCode, detail string) error {
	sessionLog := store.OpenSessionLog(trace.SessionDir, trace.SessionID)
	entries, _, err := sessionLog.Load()
	if err != nil {
		return err
	}

	nextID := int64(1)
	var parentID *int64
	if headID, ok := store.HeadID(entries); ok {
		nextID = headID + 1
		parent := headID
		parentID = &parent
	}

	content := fmt.Sprintf("background job %s: %s (%s) %s", record.JobID, event, reasonCode, detail)
	_, err = sessionLog.Append(store.SessionEntry{
		ID:       nextID,
		ParentID: parentID,
		Role:     "system",
		Content:  content,
	})
	return err
}
