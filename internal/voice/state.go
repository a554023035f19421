package voice

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tau-run/tau/internal/store"
)

func statePath(stateDir string) string { return filepath.Join(stateDir, stateFileName) }
func eventsPath(stateDir string) string { return filepath.Join(stateDir, eventsLogFileName) }

func loadState(stateDir string) (State, error) {
	path := statePath(stateDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{SchemaVersion: runtimeStateSchemaVersion}, nil
		}
		return State{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return State{SchemaVersion: runtimeStateSchemaVersion}, nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if state.SchemaVersion == 0 {
		state.SchemaVersion = runtimeStateSchemaVersion
	}
	return state, nil
}

func saveState(stateDir string, state State) error {
	sortInteractionsBySpeaker(state.Interactions)
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode voice runtime state: %w", err)
	}
	encoded = append(encoded, '\n')
	return store.WriteFileAtomic(statePath(stateDir), encoded, 0o644)
}

func sortInteractionsBySpeaker(interactions []InteractionRecord) {
	sort.SliceStable(interactions, func(i, j int) bool {
		return interactions[i].SpeakerID < interactions[j].SpeakerID
	})
}

// normalizeProcessedCaseKeys trims the persisted dedup list to cap,
// keeping the most recently appended entries.
func normalizeProcessedCaseKeys(keys []string, cap int) []string {
	if cap < 1 || len(keys) <= cap {
		return keys
	}
	return keys[len(keys)-cap:]
}

// processedCaseKeySet builds a lookup set from the persisted slice.
func processedCaseKeySet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, key := range keys {
		set[key] = true
	}
	return set
}

// recordProcessedCase appends caseKey to the dedup slice/set if absent,
// trimming the slice back to cap.
func recordProcessedCase(state *State, seen map[string]bool, caseKey string, cap int) {
	if seen[caseKey] {
		return
	}
	seen[caseKey] = true
	state.ProcessedCaseKeys = append(state.ProcessedCaseKeys, caseKey)
	if overflow := len(state.ProcessedCaseKeys) - cap; cap > 0 && overflow > 0 {
		removed := state.ProcessedCaseKeys[:overflow]
		state.ProcessedCaseKeys = state.ProcessedCaseKeys[overflow:]
		for _, key := range removed {
			delete(seen, key)
		}
	}
}

func upsertInteraction(state *State, record InteractionRecord) {
	for i := range state.Interactions {
		if state.Interactions[i].CaseKey == record.CaseKey {
			state.Interactions[i] = record
			return
		}
	}
	state.Interactions = append(state.Interactions, record)
}

func findInteractionRunCount(state *State, caseKey string) uint64 {
	for _, record := range state.Interactions {
		if record.CaseKey == caseKey {
			return record.RunCount
		}
	}
	return 0
}
