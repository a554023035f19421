package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/tau-run/tau/internal/store"
)

var jobIDCounter atomic.Uint64

func nextJobID(nowUnixMS int64) string {
	suffix := jobIDCounter.Add(1)
	return fmt.Sprintf("job-%d-%04d", nowUnixMS, suffix)
}

func manifestsDir(stateDir string) string {
	return filepath.Join(stateDir, manifestDirName)
}

func manifestPath(stateDir, jobID string) string {
	return filepath.Join(manifestsDir(stateDir), jobID+".json")
}

func statePath(stateDir string) string {
	return filepath.Join(stateDir, stateFileName)
}

func eventsPath(stateDir string) string {
	return filepath.Join(stateDir, eventsFileName)
}

func ensureLayout(stateDir string) error {
	if err := os.MkdirAll(manifestsDir(stateDir), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", manifestsDir(stateDir), err)
	}
	path := eventsPath(stateDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("initialize %s: %w", path, err)
		}
	}
	return nil
}

func persistRecord(stateDir string, record Record) error {
	encoded, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job record: %w", err)
	}
	encoded = append(encoded, '\n')
	path := manifestPath(stateDir, record.JobID)
	return store.WriteFileAtomic(path, encoded, 0o644)
}

func loadRecord(stateDir, jobID string) (*Record, error) {
	path := manifestPath(stateDir, jobID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &record, nil
}

func collectManifestPaths(stateDir string) ([]string, error) {
	dir := manifestsDir(stateDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func loadAllRecords(stateDir string) ([]Record, error) {
	paths, err := collectManifestPaths(stateDir)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func loadHealthSnapshot(stateDir string, nowUnixMS int64) (HealthSnapshot, error) {
	path := statePath(stateDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return HealthSnapshot{SchemaVersion: stateSchemaVersion, UpdatedUnixMS: nowUnixMS}, nil
		}
		return HealthSnapshot{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return HealthSnapshot{SchemaVersion: stateSchemaVersion, UpdatedUnixMS: nowUnixMS}, nil
	}
	var snapshot HealthSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return HealthSnapshot{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return snapshot, nil
}

func persistHealthSnapshot(stateDir string, snapshot HealthSnapshot) error {
	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode health snapshot: %w", err)
	}
	encoded = append(encoded, '\n')
	return store.WriteFileAtomic(statePath(stateDir), encoded, 0o644)
}

type eventRecord struct {
	TimestampUnixMS int64  `json:"timestamp_unix_ms"`
	JobID           string `json:"job_id"`
	Event           string `json:"event"`
	Status          string `json:"status"`
	ReasonCode      string `json:"reason_code"`
	Detail          string `json:"detail"`
}

func appendEvent(stateDir string, record Record, event, reasonCode, detail string, nowUnixMS int64) error {
	entry := eventRecord{
		TimestampUnixMS: nowUnixMS,
		JobID:           record.JobID,
		Event:           event,
		Status:          string(record.Status),
		ReasonCode:      reasonCode,
		Detail:          detail,
	}
	return store.AppendJSONLine(eventsPath(stateDir), entry, store.AppendJSONLOptions{RotateBytes: store.DefaultRotateBytes})
}

func pushRecentReasonCode(codes []string, reasonCode string) []string {
	filtered := codes[:0:0]
	for _, existing := range codes {
		if existing != reasonCode {
			filtered = append(filtered, existing)
		}
	}
	filtered = append(filtered, reasonCode)
	if overflow := len(filtered) - recentReasonCodeCap; overflow > 0 {
		filtered = filtered[overflow:]
	}
	return filtered
}

func pushRecentLine(lines []string, line string) []string {
	lines = append(lines, line)
	if overflow := len(lines) - recentDiagnosticCap; overflow > 0 {
		lines = lines[overflow:]
	}
	return lines
}
