package voice

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func loadContractFixture(path string) (ContractFixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ContractFixture{}, fmt.Errorf("read %s: %w", path, err)
	}
	var fixture ContractFixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return ContractFixture{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if fixture.SchemaVersion == 0 {
		fixture.SchemaVersion = runtimeStateSchemaVersion
	}
	for i := range fixture.Cases {
		fixture.Cases[i].Locale = normalizeLocale(fixture.Cases[i].Locale)
		fixture.Cases[i].SpeakerID = normalizeSpeakerID(fixture.Cases[i].SpeakerID)
	}
	return fixture, nil
}

func loadLiveInputFixture(path string) (LiveInputFixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return LiveInputFixture{}, fmt.Errorf("read %s: %w", path, err)
	}
	var fixture LiveInputFixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		return LiveInputFixture{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if fixture.SchemaVersion != liveInputSchemaVersion {
		return LiveInputFixture{}, fmt.Errorf("unsupported voice live schema_version=%d in %s", fixture.SchemaVersion, path)
	}
	if strings.TrimSpace(fixture.SessionID) == "" {
		fixture.SessionID = defaultLiveSessionID
	}
	for i := range fixture.Frames {
		frame := &fixture.Frames[i]
		if strings.TrimSpace(frame.FrameID) == "" {
			frame.FrameID = fmt.Sprintf("frame-%d", i+1)
		}
		frame.Locale = normalizeLocale(frame.Locale)
		frame.SpeakerID = normalizeSpeakerID(frame.SpeakerID)
		frame.Transcript = strings.TrimSpace(frame.Transcript)
	}
	return fixture, nil
}

func normalizeLocale(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultLocale
	}
	return trimmed
}

func normalizeSpeakerID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return unmatchedSpeakerID
	}
	for _, r := range trimmed {
		if !isSpeakerIDRune(r) {
			return unmatchedSpeakerID
		}
	}
	return trimmed
}

func isSpeakerIDRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	default:
		return false
	}
}

func normalizedLiveSessionID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultLiveSessionID
	}
	return trimmed
}

func normalizedLiveFrameID(frame LiveFrame, index int) string {
	trimmed := strings.TrimSpace(frame.FrameID)
	if trimmed != "" {
		return trimmed
	}
	return fmt.Sprintf("frame-%d", index+1)
}
