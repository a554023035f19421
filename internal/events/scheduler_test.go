package events

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/tau-run/tau/internal/store"
)

var errBoom = errors.New("boom")

type recordingRunner struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingRunner) RunEvent(ctx context.Context, event Definition, nowUnixMS int64, channel store.ChannelStore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, event.ID)
	return r.err
}

func newTestRuntime(t *testing.T, runner Runner) (*Runtime, string) {
	t.Helper()
	root := t.TempDir()
	config := SchedulerConfig{
		Runner:           runner,
		ChannelStoreRoot: filepath.Join(root, "channels"),
		EventsDir:        filepath.Join(root, "events"),
		StatePath:        filepath.Join(root, "state.json"),
		QueueLimit:       10,
	}
	runtime, err := NewRuntime(config)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return runtime, config.EventsDir
}

func TestPollOnceExecutesDueImmediateEventAndRemovesManifest(t *testing.T) {
	runner := &recordingRunner{}
	runtime, eventsDir := newTestRuntime(t, runner)
	writeManifest(t, eventsDir, "e.json", `{"id":"e1","channel":"telegram:1","prompt":"hi","schedule":{"type":"immediate"},"enabled":true,"created_unix_ms":0}`)

	report, err := runtime.PollOnce(context.Background(), 1_000)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if report.Discovered != 1 || report.Queued != 1 || report.Executed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(runner.ids) != 1 || runner.ids[0] != "e1" {
		t.Fatalf("expected runner invoked with e1, got %v", runner.ids)
	}
	if _, err := os.Stat(filepath.Join(eventsDir, "e.json")); !os.IsNotExist(err) {
		t.Fatal("expected immediate manifest to be removed after execution")
	}
}

func TestPollOnceKeepsPeriodicManifestAndUpdatesLastRun(t *testing.T) {
	runner := &recordingRunner{}
	runtime, eventsDir := newTestRuntime(t, runner)
	writeManifest(t, eventsDir, "p.json", `{"id":"p1","channel":"telegram:1","prompt":"hi","schedule":{"type":"periodic","cron":"* * * * *","timezone":"UTC"},"enabled":true}`)

	report, err := runtime.PollOnce(context.Background(), 1_000)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if report.Executed != 1 {
		t.Fatalf("expected 1 executed, got %+v", report)
	}
	if _, err := os.Stat(filepath.Join(eventsDir, "p.json")); err != nil {
		t.Fatalf("expected periodic manifest to remain: %v", err)
	}
	if runtime.state.PeriodicLastRunUnixMS["p1"] != 1_000 {
		t.Fatalf("expected last run recorded at 1000, got %d", runtime.state.PeriodicLastRunUnixMS["p1"])
	}
}

func TestPollOnceStopsQueueingAtQueueLimit(t *testing.T) {
	runner := &recordingRunner{}
	root := t.TempDir()
	eventsDir := filepath.Join(root, "events")
	config := SchedulerConfig{
		Runner:           runner,
		ChannelStoreRoot: filepath.Join(root, "channels"),
		EventsDir:        eventsDir,
		StatePath:        filepath.Join(root, "state.json"),
		QueueLimit:       1,
	}
	runtime, err := NewRuntime(config)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	writeManifest(t, eventsDir, "a.json", `{"id":"a","channel":"telegram:1","prompt":"hi","schedule":{"type":"immediate"},"enabled":true,"created_unix_ms":0}`)
	writeManifest(t, eventsDir, "b.json", `{"id":"b","channel":"telegram:1","prompt":"hi","schedule":{"type":"immediate"},"enabled":true,"created_unix_ms":0}`)

	report, err := runtime.PollOnce(context.Background(), 1_000)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if report.Discovered != 2 || report.Queued != 1 || report.Executed != 1 {
		t.Fatalf("expected queue limit to cap at 1, got %+v", report)
	}
}

func TestPollOnceCountsFailuresWithoutAbortingCycle(t *testing.T) {
	runner := &recordingRunner{err: errBoom}
	runtime, eventsDir := newTestRuntime(t, runner)
	writeManifest(t, eventsDir, "e.json", `{"id":"e1","channel":"telegram:1","prompt":"hi","schedule":{"type":"immediate"},"enabled":true,"created_unix_ms":0}`)

	report, err := runtime.PollOnce(context.Background(), 1_000)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if report.Failed != 1 || report.Executed != 0 {
		t.Fatalf("expected 1 failure, got %+v", report)
	}
	if _, statErr := os.Stat(filepath.Join(eventsDir, "e.json")); statErr != nil {
		t.Fatal("expected manifest to remain on execution failure")
	}
}

func TestPollOnceSkipsStaleImmediateAndRemovesManifest(t *testing.T) {
	runner := &recordingRunner{}
	runtime, eventsDir := newTestRuntime(t, runner)
	runtime.config.StaleImmediateMaxAgeSeconds = 60
	writeManifest(t, eventsDir, "e.json", `{"id":"e1","channel":"telegram:1","prompt":"hi","schedule":{"type":"immediate"},"enabled":true,"created_unix_ms":0}`)

	report, err := runtime.PollOnce(context.Background(), 120_000)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if report.StaleSkipped != 1 || report.Executed != 0 {
		t.Fatalf("expected stale skip, got %+v", report)
	}
	if _, statErr := os.Stat(filepath.Join(eventsDir, "e.json")); !os.IsNotExist(statErr) {
		t.Fatal("expected stale manifest removed")
	}
}
