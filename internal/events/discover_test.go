package events

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestLoadRecordsMissingDirIsNotError(t *testing.T) {
	records, malformed, err := loadRecords(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("loadRecords: %v", err)
	}
	if len(records) != 0 || malformed != 0 {
		t.Fatalf("expected empty result, got %d records, %d malformed", len(records), malformed)
	}
}

func TestLoadRecordsParsesAndSortsByID(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "b.json", `{"id":"b-event","channel":"telegram:1","prompt":"p","schedule":{"type":"immediate"},"enabled":true,"created_unix_ms":1000}`)
	writeManifest(t, dir, "a.json", `{"id":"a-event","channel":"telegram:1","prompt":"p","schedule":{"type":"immediate"},"enabled":true,"created_unix_ms":1000}`)
	writeManifest(t, dir, "ignore.txt", `not json`)

	records, malformed, err := loadRecords(dir)
	if err != nil {
		t.Fatalf("loadRecords: %v", err)
	}
	if malformed != 0 {
		t.Fatalf("expected no malformed files, got %d", malformed)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].definition.ID != "a-event" || records[1].definition.ID != "b-event" {
		t.Fatalf("expected sorted by id, got %s then %s", records[0].definition.ID, records[1].definition.ID)
	}
}

func TestLoadRecordsCountsMalformedWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good.json", `{"id":"good","channel":"telegram:1","prompt":"p","schedule":{"type":"immediate"},"enabled":true,"created_unix_ms":1000}`)
	writeManifest(t, dir, "bad.json", `{not valid json`)

	records, malformed, err := loadRecords(dir)
	if err != nil {
		t.Fatalf("loadRecords: %v", err)
	}
	if malformed != 1 {
		t.Fatalf("expected 1 malformed file, got %d", malformed)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 valid record, got %d", len(records))
	}
}

func TestLoadRecordsEnrichesMissingCreatedFromMtimeInMemoryOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.json")
	writeManifest(t, dir, "c.json", `{"id":"c","channel":"telegram:1","prompt":"p","schedule":{"type":"immediate"},"enabled":true}`)

	records, _, err := loadRecords(dir)
	if err != nil {
		t.Fatalf("loadRecords: %v", err)
	}
	if len(records) != 1 || records[0].definition.CreatedUnixMS == nil {
		t.Fatalf("expected created_unix_ms to be enriched in memory")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back manifest: %v", err)
	}
	if string(raw) != `{"id":"c","channel":"telegram:1","prompt":"p","schedule":{"type":"immediate"},"enabled":true}` {
		t.Fatalf("expected on-disk manifest to be untouched by enrichment, got %s", raw)
	}
}

func TestLoadRunnerStateMissingFileReturnsZeroState(t *testing.T) {
	state, err := loadRunnerState(filepath.Join(t.TempDir(), "missing-state.json"))
	if err != nil {
		t.Fatalf("loadRunnerState: %v", err)
	}
	if state.SchemaVersion != runnerStateSchemaVersion {
		t.Fatalf("expected fresh schema version, got %d", state.SchemaVersion)
	}
	if state.PeriodicLastRunUnixMS == nil || state.DebounceLastSeenUnixMS == nil || state.SignatureReplayLastSeenUnixMS == nil {
		t.Fatal("expected all maps initialized")
	}
}

func TestLoadRunnerStateRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"schema_version":999}`), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if _, err := loadRunnerState(path); err == nil {
		t.Fatal("expected schema mismatch error")
	}
}

func TestSaveRunnerStateRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	state := newRunnerState()
	state.PeriodicLastRunUnixMS["a"] = 42
	if err := saveRunnerState(path, state); err != nil {
		t.Fatalf("saveRunnerState: %v", err)
	}
	loaded, err := loadRunnerState(path)
	if err != nil {
		t.Fatalf("loadRunnerState: %v", err)
	}
	if loaded.PeriodicLastRunUnixMS["a"] != 42 {
		t.Fatalf("expected round-tripped value 42, got %d", loaded.PeriodicLastRunUnixMS["a"])
	}
}
