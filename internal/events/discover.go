package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/tau-run/tau/internal/store"
)

// record pairs a parsed Definition with the manifest file it came from.
type record struct {
	path       string
	definition Definition
}

// loadRecords enumerates *.json manifests in dir, parsing each. A file
// that doesn't exist, can't be read, or doesn't parse counts toward
// malformed without aborting discovery. A definition missing
// created_unix_ms is enriched in-memory from the file's mtime — this
// enrichment is never written back to disk.
func loadRecords(dir string) (records []record, malformed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("read events dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			malformed++
			continue
		}

		var def Definition
		if jsonErr := json.Unmarshal(raw, &def); jsonErr != nil {
			malformed++
			continue
		}

		if def.CreatedUnixMS == nil {
			created := store.NowUnixMilli()
			if info, statErr := entry.Info(); statErr == nil {
				created = info.ModTime().UnixMilli()
			}
			def.CreatedUnixMS = &created
		}

		records = append(records, record{path: path, definition: def})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].definition.ID < records[j].definition.ID })
	return records, malformed, nil
}

// loadRunnerState reads the persisted scheduler state, returning a fresh
// zero-value state if the file does not exist.
func loadRunnerState(path string) (RunnerState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newRunnerState(), nil
		}
		return RunnerState{}, fmt.Errorf("read runner state %s: %w", path, err)
	}

	var state RunnerState
	if err := json.Unmarshal(data, &state); err != nil {
		return RunnerState{}, fmt.Errorf("parse runner state %s: %w", path, err)
	}
	if state.SchemaVersion != runnerStateSchemaVersion {
		return RunnerState{}, fmt.Errorf("unsupported event runner state schema: expected %d, found %d", runnerStateSchemaVersion, state.SchemaVersion)
	}
	if state.PeriodicLastRunUnixMS == nil {
		state.PeriodicLastRunUnixMS = map[string]int64{}
	}
	if state.DebounceLastSeenUnixMS == nil {
		state.DebounceLastSeenUnixMS = map[string]int64{}
	}
	if state.SignatureReplayLastSeenUnixMS == nil {
		state.SignatureReplayLastSeenUnixMS = map[string]int64{}
	}
	return state, nil
}

// saveRunnerState persists state atomically.
func saveRunnerState(path string, state RunnerState) error {
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode runner state: %w", err)
	}
	encoded = append(encoded, '\n')
	return store.WriteFileAtomic(path, encoded, 0o644)
}
