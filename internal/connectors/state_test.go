package connectors

import (
	"path/filepath"
	"testing"
)

func TestLoadStateMissingFileReturnsFreshState(t *testing.T) {
	state, err := loadState(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if state.SchemaVersion != stateSchemaVersion {
		t.Fatalf("expected fresh schema version, got %d", state.SchemaVersion)
	}
	if state.Channels == nil || state.DiscordLastMessageIDs == nil {
		t.Fatal("expected fresh state to have initialized maps")
	}
}

func TestSaveAndLoadStateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	state := newStateFile()
	state.ProcessedEventKeys = append(state.ProcessedEventKeys, "telegram:telegram:1")
	channelEntry(&state, "telegram").EventsIngested = 3

	if err := saveState(path, state); err != nil {
		t.Fatalf("saveState: %v", err)
	}

	reloaded, err := loadState(path)
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if len(reloaded.ProcessedEventKeys) != 1 || reloaded.ProcessedEventKeys[0] != "telegram:telegram:1" {
		t.Fatalf("unexpected processed keys after reload: %v", reloaded.ProcessedEventKeys)
	}
	if reloaded.Channels["telegram"].EventsIngested != 3 {
		t.Fatalf("unexpected channel state after reload: %+v", reloaded.Channels["telegram"])
	}
}

func TestLoadStatusReportReportsAbsentStateWithoutError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	report, err := LoadStatusReport(path)
	if err != nil {
		t.Fatalf("LoadStatusReport: %v", err)
	}
	if report.StatePresent {
		t.Fatal("expected StatePresent false for a missing state file")
	}
	if report.SchemaVersion != stateSchemaVersion {
		t.Fatalf("expected default schema version, got %d", report.SchemaVersion)
	}
}

func TestLoadStatusReportReflectsPersistedCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	state := newStateFile()
	state.ProcessedEventKeys = append(state.ProcessedEventKeys, "discord:discord:1", "discord:discord:2")
	if err := saveState(path, state); err != nil {
		t.Fatalf("saveState: %v", err)
	}

	report, err := LoadStatusReport(path)
	if err != nil {
		t.Fatalf("LoadStatusReport: %v", err)
	}
	if !report.StatePresent {
		t.Fatal("expected StatePresent true once state has been saved")
	}
	if report.ProcessedEventCount != 2 {
		t.Fatalf("expected processed event count 2, got %d", report.ProcessedEventCount)
	}
}
