package canvas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tau-run/tau/internal/store"
)

// canvasStore roots one canvas' on-disk layout: schema.json, the binary
// document snapshot, the append-only event log, the session-link index,
// and an exports/ directory for /canvas export output.
type canvasStore struct {
	rootDir  string
	canvasID string
}

func openCanvasStore(rootDir, canvasID string) (canvasStore, error) {
	canvasID = strings.TrimSpace(canvasID)
	if canvasID == "" {
		return canvasStore{}, fmt.Errorf("canvas id must be non-empty")
	}
	s := canvasStore{rootDir: rootDir, canvasID: canvasID}
	if err := s.ensureLayout(); err != nil {
		return canvasStore{}, err
	}
	return s, nil
}

func (s canvasStore) canvasDir() string {
	return filepath.Join(s.rootDir, store.SanitizeForPath(s.canvasID, "canvas"))
}

func (s canvasStore) schemaPath() string { return filepath.Join(s.canvasDir(), "schema.json") }
func (s canvasStore) statePath() string  { return filepath.Join(s.canvasDir(), "state.bin") }
func (s canvasStore) eventsPath() string { return filepath.Join(s.canvasDir(), "events.jsonl") }
func (s canvasStore) sessionLinksPath() string {
	return filepath.Join(s.canvasDir(), "session-links.jsonl")
}
func (s canvasStore) exportsDir() string { return filepath.Join(s.canvasDir(), "exports") }

func (s canvasStore) ensureLayout() error {
	if err := os.MkdirAll(s.exportsDir(), 0o755); err != nil {
		return fmt.Errorf("canvas store %s: %w", s.canvasID, err)
	}

	schemaPath := s.schemaPath()
	raw, err := os.ReadFile(schemaPath)
	if err == nil {
		var meta storeMeta
		if jsonErr := json.Unmarshal(raw, &meta); jsonErr != nil {
			return fmt.Errorf("canvas store %s: parse schema: %w", s.canvasID, jsonErr)
		}
		if meta.SchemaVersion != schemaVersion {
			return fmt.Errorf("canvas store %s: unsupported schema version %d, expected %d", s.canvasID, meta.SchemaVersion, schemaVersion)
		}
		if meta.CanvasID != s.canvasID {
			return fmt.Errorf("canvas store %s: schema id mismatch, found %q", s.canvasID, meta.CanvasID)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("canvas store %s: read schema: %w", s.canvasID, err)
	}

	encoded, err := json.MarshalIndent(storeMeta{SchemaVersion: schemaVersion, CanvasID: s.canvasID}, "", "  ")
	if err != nil {
		return fmt.Errorf("canvas store %s: encode schema: %w", s.canvasID, err)
	}
	encoded = append(encoded, '\n')
	return store.WriteFileAtomic(schemaPath, encoded, 0o644)
}

func (s canvasStore) loadDocument() (*document, error) {
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return newDocument(), nil
		}
		return nil, fmt.Errorf("canvas store %s: read state: %w", s.canvasID, err)
	}
	return decodeDocument(data)
}

func (s canvasStore) saveDocument(doc *document) error {
	encoded, err := doc.encode()
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(s.statePath(), encoded, 0o644)
}

func (s canvasStore) appendEvent(event eventEntry) error {
	return store.AppendJSONLine(s.eventsPath(), event, store.AppendJSONLOptions{RotateBytes: store.DefaultRotateBytes})
}

func (s canvasStore) loadEvents() ([]eventEntry, error) {
	var events []eventEntry
	_, err := store.ReadJSONLRecords(s.eventsPath(), func(line []byte) error {
		var entry eventEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return err
		}
		events = append(events, entry)
		return nil
	})
	return events, err
}

func (s canvasStore) appendSessionLink(event eventEntry) error {
	if event.SessionLink == nil {
		return nil
	}
	entry := sessionLinkEntry{
		SchemaVersion:   sessionLinkSchemaVersion,
		TimestampUnixMS: event.TimestampUnixMS,
		EventID:         event.EventID,
		Principal:       event.Principal,
		CanvasID:        s.canvasID,
		SessionPath:     event.SessionLink.SessionPath,
		SessionHeadID:   event.SessionLink.SessionHeadID,
	}
	return store.AppendJSONLine(s.sessionLinksPath(), entry, store.AppendJSONLOptions{RotateBytes: store.DefaultRotateBytes})
}

func (s canvasStore) loadSessionLinks() ([]sessionLinkEntry, error) {
	var entries []sessionLinkEntry
	_, err := store.ReadJSONLRecords(s.sessionLinksPath(), func(line []byte) error {
		var entry sessionLinkEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

func defaultExportPath(s canvasStore, format ExportFormat) string {
	stem := store.SanitizeForPath(s.canvasID, "canvas")
	return filepath.Join(s.exportsDir(), fmt.Sprintf("%s-snapshot.%s", stem, format.extension()))
}
