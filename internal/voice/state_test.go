package voice

import (
	"path/filepath"
	"testing"
)

func TestLoadStateMissingFileReturnsFreshState(t *testing.T) {
	state, err := loadState(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if state.SchemaVersion != runtimeStateSchemaVersion {
		t.Fatalf("expected fresh schema version, got %d", state.SchemaVersion)
	}
	if len(state.Interactions) != 0 {
		t.Fatalf("expected no interactions, got %+v", state.Interactions)
	}
}

func TestSaveAndLoadStateRoundTrips(t *testing.T) {
	dir := t.TempDir()
	state := State{SchemaVersion: runtimeStateSchemaVersion, ProcessedCaseKeys: []string{"a", "b"}}
	upsertInteraction(&state, InteractionRecord{CaseKey: "a", SpeakerID: "alex", RunCount: 2})

	if err := saveState(dir, state); err != nil {
		t.Fatalf("saveState: %v", err)
	}
	reloaded, err := loadState(dir)
	if err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if len(reloaded.ProcessedCaseKeys) != 2 {
		t.Fatalf("unexpected processed keys: %v", reloaded.ProcessedCaseKeys)
	}
	if len(reloaded.Interactions) != 1 || reloaded.Interactions[0].RunCount != 2 {
		t.Fatalf("unexpected interactions after reload: %+v", reloaded.Interactions)
	}
}

func TestNormalizeProcessedCaseKeysTrimsToCap(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	trimmed := normalizeProcessedCaseKeys(keys, 3)
	if len(trimmed) != 3 || trimmed[0] != "c" || trimmed[2] != "e" {
		t.Fatalf("unexpected trimmed keys: %v", trimmed)
	}
}

func TestRecordProcessedCaseEvictsOldestOnOverflow(t *testing.T) {
	state := State{}
	seen := map[string]bool{}
	for _, key := range []string{"a", "b", "c"} {
		recordProcessedCase(&state, seen, key, 2)
	}
	if len(state.ProcessedCaseKeys) != 2 || state.ProcessedCaseKeys[0] != "b" || state.ProcessedCaseKeys[1] != "c" {
		t.Fatalf("unexpected processed keys: %v", state.ProcessedCaseKeys)
	}
	if seen["a"] {
		t.Fatal("expected the evicted key to be removed from the seen set")
	}
}

func TestUpsertInteractionReplacesExistingRecord(t *testing.T) {
	state := State{}
	upsertInteraction(&state, InteractionRecord{CaseKey: "k1", RunCount: 1})
	upsertInteraction(&state, InteractionRecord{CaseKey: "k1", RunCount: 2})
	if len(state.Interactions) != 1 || state.Interactions[0].RunCount != 2 {
		t.Fatalf("expected upsert to replace in place, got %+v", state.Interactions)
	}
}
