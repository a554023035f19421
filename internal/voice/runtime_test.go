package voice

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tau-run/tau/internal/store"
)

func writeContractFixture(t *testing.T, dir string, fixture ContractFixture) string {
	t.Helper()
	path := filepath.Join(dir, "contract.json")
	data, err := json.Marshal(fixture)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func baseConfig(t *testing.T, fixturePath string) Config {
	return Config{
		FixturePath:      fixturePath,
		StateDir:         filepath.Join(t.TempDir(), "voice-state"),
		QueueLimit:       10,
		ProcessedCaseCap: 50,
		RetryMaxAttempts: 3,
		RetryBaseDelayMS: 1,
	}
}

func TestRunOnceAppliesSuccessfulCase(t *testing.T) {
	dir := t.TempDir()
	fixturePath := writeContractFixture(t, dir, ContractFixture{
		SchemaVersion: 1,
		Cases: []Case{
			{CaseID: "c1", Mode: "wake_word", WakeWord: "hey", SpeakerID: "alex", Transcript: "hey what time is it"},
		},
	})

	rt, err := New(baseConfig(t, fixturePath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fixture, err := loadContractFixture(fixturePath)
	if err != nil {
		t.Fatalf("loadContractFixture: %v", err)
	}
	summary, err := rt.RunOnce(context.Background(), fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.AppliedCases != 1 || summary.WakeWordDetections != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	state, err := loadState(rt.config.StateDir)
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if len(state.Interactions) != 1 || state.Interactions[0].Utterance != "what time is it" {
		t.Fatalf("unexpected interactions: %+v", state.Interactions)
	}

	channelStore, err := store.OpenChannelStore(channelStoreRoot(rt.config.StateDir), store.ChannelRef{Transport: "voice", ChannelID: "alex"})
	if err != nil {
		t.Fatalf("OpenChannelStore: %v", err)
	}
	found, err := channelStore.HasEventKey(caseRuntimeKey(fixture.Cases[0]))
	if err != nil {
		t.Fatalf("HasEventKey: %v", err)
	}
	if !found {
		t.Fatal("expected channel log to contain the case's event key")
	}
}

func TestRunOnceSkipsAlreadyProcessedCase(t *testing.T) {
	dir := t.TempDir()
	c := Case{CaseID: "c1", Mode: "wake_word", WakeWord: "hey tau", SpeakerID: "alex", Transcript: "hey tau hello"}
	fixturePath := writeContractFixture(t, dir, ContractFixture{SchemaVersion: 1, Cases: []Case{c}})

	config := baseConfig(t, fixturePath)
	rt, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fixture, _ := loadContractFixture(fixturePath)
	if _, err := rt.RunOnce(context.Background(), fixture); err != nil {
		t.Fatalf("first RunOnce: %v", err)
	}

	// Reopen the runtime against the same state dir to simulate a restart.
	rt2, err := New(config)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	summary, err := rt2.RunOnce(context.Background(), fixture)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	if summary.DuplicateSkips != 1 || summary.AppliedCases != 0 {
		t.Fatalf("expected the duplicate to be skipped, got %+v", summary)
	}
}

func TestRunOnceMalformedCaseIsNotRetried(t *testing.T) {
	dir := t.TempDir()
	fixturePath := writeContractFixture(t, dir, ContractFixture{
		SchemaVersion: 1,
		Cases: []Case{
			{CaseID: "c1", Mode: "wake_word", WakeWord: "hey tau", SpeakerID: "alex", Transcript: "hey tau bad", ExpectedOutcome: "malformed_input"},
		},
	})
	rt, err := New(baseConfig(t, fixturePath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fixture, _ := loadContractFixture(fixturePath)
	summary, err := rt.RunOnce(context.Background(), fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.MalformedCases != 1 || summary.RetryAttempts != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunOnceRetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	fixturePath := writeContractFixture(t, dir, ContractFixture{
		SchemaVersion: 1,
		Cases: []Case{
			{CaseID: "c1", Mode: "wake_word", WakeWord: "hey tau", SpeakerID: "alex", Transcript: "hey tau retry me", ExpectedOutcome: "retryable_failure", RetryableUntil: 3},
		},
	})
	rt, err := New(baseConfig(t, fixturePath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fixture, _ := loadContractFixture(fixturePath)
	summary, err := rt.RunOnce(context.Background(), fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.AppliedCases != 1 {
		t.Fatalf("expected the case to eventually succeed, got %+v", summary)
	}
	if summary.RetryAttempts != 2 {
		t.Fatalf("expected 2 retry attempts before success, got %d", summary.RetryAttempts)
	}
}

func TestRunOnceRetryableFailureExhaustsAttempts(t *testing.T) {
	dir := t.TempDir()
	fixturePath := writeContractFixture(t, dir, ContractFixture{
		SchemaVersion: 1,
		Cases: []Case{
			{CaseID: "c1", Mode: "wake_word", WakeWord: "hey tau", SpeakerID: "alex", Transcript: "hey tau never works", ExpectedOutcome: "retryable_failure", RetryableUntil: 0},
		},
	})
	config := baseConfig(t, fixturePath)
	config.RetryMaxAttempts = 2
	rt, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fixture, _ := loadContractFixture(fixturePath)
	summary, err := rt.RunOnce(context.Background(), fixture)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if summary.FailedCases != 1 || summary.AppliedCases != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunOnceRendersVoiceSnapshotMemory(t *testing.T) {
	dir := t.TempDir()
	fixturePath := writeContractFixture(t, dir, ContractFixture{
		SchemaVersion: 1,
		Cases: []Case{
			{CaseID: "c1", Mode: "wake_word", WakeWord: "hey tau", SpeakerID: "alex", Transcript: "hey tau play music"},
		},
	})
	rt, err := New(baseConfig(t, fixturePath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fixture, _ := loadContractFixture(fixturePath)
	if _, err := rt.RunOnce(context.Background(), fixture); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	channelStore, err := store.OpenChannelStore(channelStoreRoot(rt.config.StateDir), store.ChannelRef{Transport: "voice", ChannelID: "alex"})
	if err != nil {
		t.Fatalf("OpenChannelStore: %v", err)
	}
	memory, err := channelStore.ReadMemory()
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if memory == "" {
		t.Fatal("expected memory.md to be populated")
	}
}
