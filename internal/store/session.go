package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// SessionEntry is one append-only line of a session log. Parent pointers
// form a tree; ids are strictly increasing within a file.
type SessionEntry struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Role     string `json:"role"`
	Content  string `json:"content"`
}

// SessionLog is a value type over a single session's JSONL file.
type SessionLog struct {
	path string
}

// OpenSessionLog returns a handle to the session file at
// "<dir>/<sanitized id>.jsonl".
func OpenSessionLog(dir, sessionID string) SessionLog {
	name := SanitizeForPath(sessionID, "session") + ".jsonl"
	return SessionLog{path: filepath.Join(dir, name)}
}

// Path returns the backing file path.
func (s SessionLog) Path() string { return s.path }

// Load reads every entry in id order (the order they were appended).
func (s SessionLog) Load() ([]SessionEntry, ReadJSONLResult, error) {
	var entries []SessionEntry
	result, err := ReadJSONLRecords(s.path, func(line []byte) error {
		var e SessionEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	return entries, result, err
}

// Append validates entry against the existing log (strictly increasing id,
// known parent) and appends it. It returns the loaded entries so callers
// needn't re-read the file.
func (s SessionLog) Append(entry SessionEntry) ([]SessionEntry, error) {
	entries, _, err := s.Load()
	if err != nil {
		return nil, err
	}

	ids := make(map[int64]bool, len(entries))
	maxID := int64(0)
	for _, e := range entries {
		ids[e.ID] = true
		if e.ID > maxID {
			maxID = e.ID
		}
	}
	if len(entries) > 0 && entry.ID <= maxID {
		return nil, fmt.Errorf("append session %s: id %d is not strictly increasing (max %d)", s.path, entry.ID, maxID)
	}
	if entry.ParentID != nil && !ids[*entry.ParentID] {
		return nil, fmt.Errorf("append session %s: unknown parent_id %d", s.path, *entry.ParentID)
	}

	if err := AppendJSONLine(s.path, entry, AppendJSONLOptions{}); err != nil {
		return nil, err
	}
	return append(entries, entry), nil
}

// HeadID returns the id of the last entry whose lineage is active: the
// highest id that is never referenced as a parent_id by any later entry.
// Returns (0, false) for an empty log.
func HeadID(entries []SessionEntry) (int64, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	referencedAsParent := make(map[int64]bool, len(entries))
	for _, e := range entries {
		if e.ParentID != nil {
			referencedAsParent[*e.ParentID] = true
		}
	}
	head := entries[len(entries)-1].ID
	for i := len(entries) - 1; i >= 0; i-- {
		if !referencedAsParent[entries[i].ID] {
			head = entries[i].ID
			break
		}
	}
	return head, true
}

// IsBranchTip reports whether id has no later entry naming it as a parent.
func IsBranchTip(entries []SessionEntry, id int64) bool {
	for _, e := range entries {
		if e.ParentID != nil && *e.ParentID == id {
			return false
		}
	}
	return true
}
