package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tau-run/tau/internal/store"
)

// Runtime is a persisted single-worker job queue bound to one state
// directory. A zero Runtime is not usable; construct with New.
type Runtime struct {
	config RuntimeConfig

	mu              sync.Mutex
	queue           []string
	runningCancel   map[string]context.CancelFunc
	cancelRequested map[string]bool
	health          HealthSnapshot

	workerRunning atomic.Bool

	now func() int64
}

// New creates a runtime bound to one persisted state directory,
// recovering any jobs left running by an earlier, uncleanly-stopped
// process back onto the queue.
func New(config RuntimeConfig) (*Runtime, error) {
	config = config.normalized()
	if err := ensureLayout(config.StateDir); err != nil {
		return nil, err
	}
	health, err := loadHealthSnapshot(config.StateDir, store.NowUnixMilli())
	if err != nil {
		return nil, err
	}
	runtime := &Runtime{
		config:          config,
		runningCancel:   map[string]context.CancelFunc{},
		cancelRequested: map[string]bool{},
		health:          health,
		now:             store.NowUnixMilli,
	}
	if err := runtime.recoverQueueFromDisk(); err != nil {
		return nil, err
	}
	return runtime, nil
}

// StateDir returns the configured state directory.
func (r *Runtime) StateDir() string { return r.config.StateDir }

// CreateJob persists and queues a new background job for asynchronous
// execution, starting the worker if it is idle.
func (r *Runtime) CreateJob(request CreateRequest) (Record, error) {
	command := strings.TrimSpace(request.Command)
	if command == "" {
		return Record{}, fmt.Errorf("background job command must be non-empty")
	}

	now := r.now()
	defaultTimeout := max(r.config.DefaultTimeoutMS, 1)
	maxTimeout := max(r.config.MaxTimeoutMS, defaultTimeout)
	requestedTimeout := request.TimeoutMS
	if requestedTimeout <= 0 {
		requestedTimeout = defaultTimeout
	}
	effectiveTimeout := clamp64(requestedTimeout, 1, maxTimeout)

	jobID := nextJobID(now)
	record := Record{
		SchemaVersion:      schemaVersion,
		JobID:              jobID,
		Command:            command,
		Args:               request.Args,
		Env:                request.Env,
		Cwd:                request.Cwd,
		RequestedTimeoutMS: requestedTimeout,
		EffectiveTimeoutMS: effectiveTimeout,
		Status:             StatusQueued,
		ReasonCode:         reasonQueued,
		CreatedUnixMS:      now,
		UpdatedUnixMS:      now,
		StdoutPath:         filepath.Join(manifestsDir(r.config.StateDir), jobID+".stdout.log"),
		StderrPath:         filepath.Join(manifestsDir(r.config.StateDir), jobID+".stderr.log"),
		Trace:              request.Trace,
	}

	if err := persistRecord(r.config.StateDir, record); err != nil {
		return Record{}, err
	}

	r.mu.Lock()
	r.queue = append(r.queue, jobID)
	queueDepth := len(r.queue)
	r.mu.Unlock()

	r.updateHealth(&record.JobID, reasonQueued,
		fmt.Sprintf("background_job_created: id=%s queue_depth=%d", jobID, queueDepth),
		func(h *HealthSnapshot) {
			h.CreatedTotal++
			h.QueueDepth = queueDepth
		})

	r.appendEvent(record, "created", reasonQueued, "background job queued")
	r.emitTraces(record, "created", reasonQueued, "background job queued")

	r.scheduleWorker()
	return record, nil
}

// ListJobs returns persisted jobs newest-first, optionally filtered by
// status, capped at limit.
func (r *Runtime) ListJobs(limit int, filter *StatusFilter) ([]Record, error) {
	if limit < 1 {
		limit = 1
	}
	records, err := loadAllRecords(r.config.StateDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedUnixMS != records[j].CreatedUnixMS {
			return records[i].CreatedUnixMS > records[j].CreatedUnixMS
		}
		return records[i].JobID < records[j].JobID
	})
	if filter != nil {
		filtered := records[:0]
		for _, record := range records {
			if filter.Matches(record.Status) {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// GetJob loads a single persisted job record by id.
func (r *Runtime) GetJob(jobID string) (*Record, error) {
	return loadRecord(r.config.StateDir, jobID)
}

// InspectHealth returns the latest runtime health counters snapshot.
func (r *Runtime) InspectHealth() HealthSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health
}

// CancelJob requests cancellation for a queued or running job. A queued
// job is cancelled immediately; a running job's process is killed via
// its execution context.
func (r *Runtime) CancelJob(jobID string) (*Record, error) {
	record, err := loadRecord(r.config.StateDir, jobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if record.Status.IsTerminal() {
		return record, nil
	}

	now := r.now()
	record.CancellationRequested = true
	record.UpdatedUnixMS = now

	if record.Status == StatusQueued {
		record.Status = StatusCancelled
		record.ReasonCode = reasonCancelledBeforeStart
		record.FinishedUnixMS = now
		record.Error = ""
		record.ExitCode = nil
		if err := persistRecord(r.config.StateDir, *record); err != nil {
			return nil, err
		}

		r.mu.Lock()
		filtered := r.queue[:0]
		for _, id := range r.queue {
			if id != jobID {
				filtered = append(filtered, id)
			}
		}
		r.queue = filtered
		queueDepth := len(r.queue)
		r.mu.Unlock()

		r.updateHealth(&record.JobID, reasonCancelledBeforeStart,
			fmt.Sprintf("background_job_cancelled_before_start: id=%s queue_depth=%d", jobID, queueDepth),
			func(h *HealthSnapshot) {
				h.CancelledTotal++
				h.QueueDepth = queueDepth
			})
		r.appendEvent(*record, "cancelled", reasonCancelledBeforeStart, "background job cancelled before start")
		r.emitTraces(*record, "cancelled", reasonCancelledBeforeStart, "background job cancelled before start")
		return record, nil
	}

	r.mu.Lock()
	r.cancelRequested[jobID] = true
	cancel, running := r.runningCancel[jobID]
	r.mu.Unlock()
	if running {
		cancel()
	}

	if err := persistRecord(r.config.StateDir, *record); err != nil {
		return nil, err
	}
	r.appendEvent(*record, "cancel_requested", reasonCancelledDuringRun, "background job cancellation requested")
	r.updateHealth(&record.JobID, reasonCancelledDuringRun,
		fmt.Sprintf("background_job_cancel_requested: id=%s status=%s", jobID, record.Status), func(*HealthSnapshot) {})
	return record, nil
}

func (r *Runtime) recoverQueueFromDisk() error {
	now := r.now()
	records, err := loadAllRecords(r.config.StateDir)
	if err != nil {
		return err
	}

	var seed []string
	var diagnostics []string
	for _, record := range records {
		switch record.Status {
		case StatusQueued:
			seed = append(seed, record.JobID)
		case StatusRunning:
			record.Status = StatusQueued
			record.ReasonCode = reasonRecoveredRunning
			record.UpdatedUnixMS = now
			record.StartedUnixMS = 0
			record.FinishedUnixMS = 0
			record.ExitCode = nil
			record.Error = ""
			if err := persistRecord(r.config.StateDir, record); err != nil {
				return err
			}
			if err := appendEvent(r.config.StateDir, record, "recovered", reasonRecoveredRunning, "requeued running job during runtime recovery", now); err != nil {
				return err
			}
			seed = append(seed, record.JobID)
			diagnostics = append(diagnostics, fmt.Sprintf("background_job_recovered_running_job: id=%s path=%s", record.JobID, manifestPath(r.config.StateDir, record.JobID)))
		}
	}

	r.mu.Lock()
	r.queue = seed
	queueDepth := len(seed)
	for _, line := range diagnostics {
		r.health.Diagnostics = pushRecentLine(r.health.Diagnostics, line)
	}
	r.health.UpdatedUnixMS = now
	if len(diagnostics) > 0 {
		r.health.ReasonCodes = pushRecentReasonCode(r.health.ReasonCodes, reasonRecoveredRunning)
		r.health.LastReasonCode = reasonRecoveredRunning
	}
	r.health.QueueDepth = queueDepth
	r.health.RunningJobs = 0
	health := r.health
	r.mu.Unlock()

	if err := persistHealthSnapshot(r.config.StateDir, health); err != nil {
		return err
	}
	if queueDepth > 0 {
		r.scheduleWorker()
	}
	return nil
}

func (r *Runtime) scheduleWorker() {
	if !r.workerRunning.CompareAndSwap(false, true) {
		return
	}
	go r.workerLoop()
}

func (r *Runtime) workerLoop() {
	for {
		r.mu.Lock()
		var jobID string
		if len(r.queue) > 0 {
			jobID = r.queue[0]
			r.queue = r.queue[1:]
		}
		r.mu.Unlock()
		if jobID == "" {
			break
		}
		if err := r.executeJob(jobID); err != nil {
			r.updateHealth(&jobID, reasonRuntimeError,
				fmt.Sprintf("background_job_runtime_error: id=%s error=%s", jobID, err),
				func(h *HealthSnapshot) { h.FailedTotal++ })
		}
	}

	r.workerRunning.Store(false)
	r.mu.Lock()
	hasRemaining := len(r.queue) > 0
	r.mu.Unlock()
	if hasRemaining {
		r.scheduleWorker()
	}
}

func (r *Runtime) executeJob(jobID string) error {
	record, err := loadRecord(r.config.StateDir, jobID)
	if err != nil {
		return err
	}
	if record == nil || record.Status != StatusQueued {
		return nil
	}

	if record.CancellationRequested {
		return r.finishCancelledBeforeStart(*record)
	}

	started := r.now()
	record.Status = StatusRunning
	record.ReasonCode = reasonStarted
	record.UpdatedUnixMS = started
	record.StartedUnixMS = started
	record.FinishedUnixMS = 0
	record.ExitCode = nil
	record.Error = ""
	if err := persistRecord(r.config.StateDir, *record); err != nil {
		return err
	}

	r.mu.Lock()
	queueDepth := len(r.queue)
	r.mu.Unlock()
	r.updateHealth(&record.JobID, reasonStarted,
		fmt.Sprintf("background_job_started: id=%s queue_depth=%d", record.JobID, queueDepth),
		func(h *HealthSnapshot) {
			h.StartedTotal++
			h.RunningJobs = 1
			h.QueueDepth = queueDepth
		})
	r.appendEvent(*record, "started", reasonStarted, "background job started execution")
	r.emitTraces(*record, "started", reasonStarted, "background job started execution")

	stdoutFile, err := os.OpenFile(record.StdoutPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return r.finishSpawnFailed(*record, err)
	}
	defer stdoutFile.Close()
	stderrFile, err := os.OpenFile(record.StderrPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return r.finishSpawnFailed(*record, err)
	}
	defer stderrFile.Close()

	timeout := time.Duration(max(record.EffectiveTimeoutMS, 1)) * time.Millisecond
	timeoutCtx, cancelTimeout := context.WithTimeout(context.Background(), timeout)
	defer cancelTimeout()
	jobCtx, cancelJob := context.WithCancel(timeoutCtx)
	defer cancelJob()

	r.mu.Lock()
	r.runningCancel[jobID] = cancelJob
	alreadyRequested := r.cancelRequested[jobID]
	r.mu.Unlock()
	if alreadyRequested {
		cancelJob()
	}
	defer func() {
		r.mu.Lock()
		delete(r.runningCancel, jobID)
		delete(r.cancelRequested, jobID)
		r.mu.Unlock()
	}()

	cmd := exec.Command(record.Command, record.Args...)
	if record.Cwd != "" {
		cmd.Dir = record.Cwd
	}
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = make([]string, 0, len(record.Env))
	for key, value := range record.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	if err := cmd.Start(); err != nil {
		return r.finishSpawnFailed(*record, err)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case <-jobCtx.Done():
		_ = cmd.Process.Kill()
		<-waitDone
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return r.finishTimeout(*record)
		}
		return r.finishCancelledDuringRun(*record)
	case waitErr := <-waitDone:
		return r.finishExited(*record, waitErr)
	}
}

func (r *Runtime) finishCancelledBeforeStart(record Record) error {
	now := r.now()
	record.Status = StatusCancelled
	record.ReasonCode = reasonCancelledBeforeStart
	record.FinishedUnixMS = now
	record.UpdatedUnixMS = now
	if err := persistRecord(r.config.StateDir, record); err != nil {
		return err
	}
	r.updateHealth(&record.JobID, reasonCancelledBeforeStart,
		fmt.Sprintf("background_job_cancelled_before_start: id=%s", record.JobID),
		func(h *HealthSnapshot) { h.CancelledTotal++ })
	r.appendEvent(record, "cancelled", reasonCancelledBeforeStart, "background job cancelled before worker start")
	r.emitTraces(record, "cancelled", reasonCancelledBeforeStart, "background job cancelled before worker start")
	return nil
}

func (r *Runtime) finishSpawnFailed(record Record, spawnErr error) error {
	now := r.now()
	record.Status = StatusFailed
	record.ReasonCode = reasonSpawnFailed
	record.UpdatedUnixMS = now
	record.FinishedUnixMS = now
	record.ExitCode = nil
	record.Error = spawnErr.Error()
	if err := persistRecord(r.config.StateDir, record); err != nil {
		return err
	}
	r.updateHealth(&record.JobID, reasonSpawnFailed,
		fmt.Sprintf("background_job_spawn_failed: id=%s error=%s", record.JobID, spawnErr),
		func(h *HealthSnapshot) {
			h.FailedTotal++
			h.RunningJobs = 0
		})
	r.appendEvent(record, "failed", reasonSpawnFailed, "background job failed to spawn")
	r.emitTraces(record, "failed", reasonSpawnFailed, "background job failed to spawn")
	return nil
}

func (r *Runtime) finishTimeout(record Record) error {
	now := r.now()
	record.Status = StatusFailed
	record.ReasonCode = reasonTimeout
	record.UpdatedUnixMS = now
	record.FinishedUnixMS = now
	record.ExitCode = nil
	record.Error = fmt.Sprintf("job exceeded timeout of %dms", record.EffectiveTimeoutMS)
	if err := persistRecord(r.config.StateDir, record); err != nil {
		return err
	}
	r.updateHealth(&record.JobID, reasonTimeout,
		fmt.Sprintf("background_job_timeout: id=%s timeout_ms=%d", record.JobID, record.EffectiveTimeoutMS),
		func(h *HealthSnapshot) {
			h.FailedTotal++
			h.RunningJobs = 0
		})
	r.appendEvent(record, "failed", reasonTimeout, "background job timed out")
	r.emitTraces(record, "failed", reasonTimeout, "background job timed out")
	return nil
}

func (r *Runtime) finishCancelledDuringRun(record Record) error {
	now := r.now()
	record.Status = StatusCancelled
	record.ReasonCode = reasonCancelledDuringRun
	record.UpdatedUnixMS = now
	record.FinishedUnixMS = now
	record.ExitCode = nil
	record.Error = ""
	if err := persistRecord(r.config.StateDir, record); err != nil {
		return err
	}
	r.updateHealth(&record.JobID, reasonCancelledDuringRun,
		fmt.Sprintf("background_job_cancelled_during_run: id=%s", record.JobID),
		func(h *HealthSnapshot) {
			h.CancelledTotal++
			h.RunningJobs = 0
		})
	r.appendEvent(record, "cancelled", reasonCancelledDuringRun, "background job cancelled during execution")
	r.emitTraces(record, "cancelled", reasonCancelledDuringRun, "background job cancelled during execution")
	return nil
}

func (r *Runtime) finishExited(record Record, waitErr error) error {
	now := r.now()
	record.UpdatedUnixMS = now
	record.FinishedUnixMS = now

	var exitError *exec.ExitError
	switch {
	case waitErr == nil:
		zero := 0
		record.ExitCode = &zero
		record.Status = StatusSucceeded
		record.ReasonCode = reasonSucceeded
		record.Error = ""
		if err := persistRecord(r.config.StateDir, record); err != nil {
			return err
		}
		r.updateHealth(&record.JobID, reasonSucceeded,
			fmt.Sprintf("background_job_succeeded: id=%s", record.JobID),
			func(h *HealthSnapshot) {
				h.SucceededTotal++
				h.RunningJobs = 0
			})
		r.appendEvent(record, "succeeded", reasonSucceeded, "background job succeeded")
		r.emitTraces(record, "succeeded", reasonSucceeded, "background job succeeded")
		return nil

	case errors.As(waitErr, &exitError):
		code := exitError.ExitCode()
		record.ExitCode = &code
		record.Status = StatusFailed
		record.ReasonCode = reasonNonZeroExit
		record.Error = fmt.Sprintf("background job exited with status %d", code)
		if err := persistRecord(r.config.StateDir, record); err != nil {
			return err
		}
		r.updateHealth(&record.JobID, reasonNonZeroExit,
			fmt.Sprintf("background_job_non_zero_exit: id=%s exit_code=%d", record.JobID, code),
			func(h *HealthSnapshot) {
				h.FailedTotal++
				h.RunningJobs = 0
			})
		r.appendEvent(record, "failed", reasonNonZeroExit, "background job exited non-zero")
		r.emitTraces(record, "failed", reasonNonZeroExit, "background job exited non-zero")
		return nil

	default:
		record.Status = StatusFailed
		record.ReasonCode = reasonRuntimeError
		record.ExitCode = nil
		record.Error = waitErr.Error()
		if err := persistRecord(r.config.StateDir, record); err != nil {
			return err
		}
		r.updateHealth(&record.JobID, reasonRuntimeError,
			fmt.Sprintf("background_job_runtime_error: id=%s error=%s", record.JobID, waitErr),
			func(h *HealthSnapshot) {
				h.FailedTotal++
				h.RunningJobs = 0
			})
		r.appendEvent(record, "failed", reasonRuntimeError, "background job runtime poll failed")
		r.emitTraces(record, "failed", reasonRuntimeError, "background job runtime poll failed")
		return nil
	}
}

func (r *Runtime) updateHealth(jobID *string, reasonCode, diagnostic string, mutate func(*HealthSnapshot)) {
	r.mu.Lock()
	now := r.now()
	r.health.UpdatedUnixMS = now
	if jobID != nil {
		r.health.LastJobID = *jobID
	}
	r.health.LastReasonCode = reasonCode
	r.health.ReasonCodes = pushRecentReasonCode(r.health.ReasonCodes, reasonCode)
	if diagnostic != "" {
		r.health.Diagnostics = pushRecentLine(r.health.Diagnostics, diagnostic)
	}
	mutate(&r.health)
	snapshot := r.health
	r.mu.Unlock()

	if err := persistHealthSnapshot(r.config.StateDir, snapshot); err != nil {
		// best-effort: health snapshot is diagnostic, not load-bearing
	}
}

func (r *Runtime) appendEvent(record Record, event, reasonCode, detail string) {
	_ = appendEvent(r.config.StateDir, record, event, reasonCode, detail, r.now())
}

func clamp64(value, low, high int64) int64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
