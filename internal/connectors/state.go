package connectors

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tau-run/tau/internal/store"
)

func loadState(path string) (StateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newStateFile(), nil
		}
		return StateFile{}, fmt.Errorf("read connectors state %s: %w", path, err)
	}
	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return StateFile{}, fmt.Errorf("parse connectors state %s: %w", path, err)
	}
	if state.Channels == nil {
		state.Channels = map[string]*ChannelState{}
	}
	if state.DiscordLastMessageIDs == nil {
		state.DiscordLastMessageIDs = map[string]string{}
	}
	return state, nil
}

func saveState(path string, state StateFile) error {
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode connectors state: %w", err)
	}
	encoded = append(encoded, '\n')
	return store.WriteFileAtomic(path, encoded, 0o644)
}

// LoadStatusReport returns the read-only connector status view,
// without touching the poll cycle.
func LoadStatusReport(statePath string) (StatusReport, error) {
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		return StatusReport{
			StatePath:     statePath,
			StatePresent:  false,
			SchemaVersion: stateSchemaVersion,
			Channels:      map[string]*ChannelState{},
		}, nil
	}
	state, err := loadState(statePath)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		StatePath:           statePath,
		StatePresent:        true,
		SchemaVersion:       state.SchemaVersion,
		ProcessedEventCount: len(state.ProcessedEventKeys),
		Channels:            state.Channels,
	}, nil
}
