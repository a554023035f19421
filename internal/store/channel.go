package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ChannelRef is a "<transport>:<channel_id>" reference selecting a durable
// channel store namespace (see GLOSSARY "Channel reference").
type ChannelRef struct {
	Transport string
	ChannelID string
}

func (r ChannelRef) String() string {
	return fmt.Sprintf("%s:%s", r.Transport, r.ChannelID)
}

// LogEntry is one line of a channel's log.jsonl.
type LogEntry struct {
	TimestampUnixMS int64          `json:"timestamp_unix_ms"`
	Direction       string         `json:"direction"`
	EventKey        string         `json:"event_key,omitempty"`
	Source          string         `json:"source"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// ChannelStore is a value type over a root directory. It holds no open
// file handles and re-opens files per operation, matching the Design
// Notes' "filesystem singletons as value types" redesign flag.
type ChannelStore struct {
	root string
}

// OpenChannelStore creates the on-disk layout for ref under root on first
// access and returns a handle to it. channelID must not be empty.
func OpenChannelStore(root string, ref ChannelRef) (ChannelStore, error) {
	if ref.ChannelID == "" {
		return ChannelStore{}, fmt.Errorf("open channel store: channel id must not be empty")
	}
	transport := ref.Transport
	if transport == "" {
		transport = "default"
	}
	dir := filepath.Join(root, SanitizeForPath(transport, "default"), SanitizeForPath(ref.ChannelID, "channel"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ChannelStore{}, fmt.Errorf("open channel store %s: %w", dir, err)
	}
	return ChannelStore{root: dir}, nil
}

func (c ChannelStore) logPath() string     { return filepath.Join(c.root, "log.jsonl") }
func (c ChannelStore) contextPath() string { return filepath.Join(c.root, "context.jsonl") }
func (c ChannelStore) memoryPath() string  { return filepath.Join(c.root, "memory.md") }

// Root returns the channel store's backing directory.
func (c ChannelStore) Root() string { return c.root }

// HasEventKey reports whether eventKey has already been recorded in
// log.jsonl. Callers use this to enforce the dedup invariant themselves
// before appending (§4.A: duplicate prevention is the caller's
// responsibility).
func (c ChannelStore) HasEventKey(eventKey string) (bool, error) {
	if eventKey == "" {
		return false, nil
	}
	found := false
	_, err := ReadJSONLRecords(c.logPath(), func(line []byte) error {
		var entry LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return err
		}
		if entry.EventKey == eventKey {
			found = true
		}
		return nil
	})
	return found, err
}

// AppendLog appends entry to log.jsonl, skipping it (returning
// skipped=true) when entry.EventKey is non-empty and already present.
func (c ChannelStore) AppendLog(entry LogEntry, rotateBytes int64) (skipped bool, err error) {
	if entry.EventKey != "" {
		exists, err := c.HasEventKey(entry.EventKey)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	if entry.TimestampUnixMS == 0 {
		entry.TimestampUnixMS = NowUnixMilli()
	}
	err = AppendJSONLine(c.logPath(), entry, AppendJSONLOptions{RotateBytes: rotateBytes})
	return false, err
}

// ContextEntry is one line of a channel's context.jsonl used for prompt
// assembly.
type ContextEntry struct {
	TimestampUnixMS int64  `json:"timestamp_unix_ms"`
	Text            string `json:"text"`
}

// AppendContext appends a textual context entry.
func (c ChannelStore) AppendContext(text string, rotateBytes int64) error {
	entry := ContextEntry{TimestampUnixMS: NowUnixMilli(), Text: text}
	return AppendJSONLine(c.contextPath(), entry, AppendJSONLOptions{RotateBytes: rotateBytes})
}

// ReadContext returns every context entry, tolerating a malformed trailing
// line (the invalid count is returned alongside).
func (c ChannelStore) ReadContext() ([]ContextEntry, ReadJSONLResult, error) {
	var entries []ContextEntry
	result, err := ReadJSONLRecords(c.contextPath(), func(line []byte) error {
		var entry ContextEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	return entries, result, err
}

// WriteMemory overwrites memory.md atomically.
func (c ChannelStore) WriteMemory(markdown string) error {
	return WriteFileAtomic(c.memoryPath(), []byte(markdown), 0o644)
}

// ReadMemory returns the current memory.md contents, or "" if absent.
func (c ChannelStore) ReadMemory() (string, error) {
	data, err := os.ReadFile(c.memoryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read memory %s: %w", c.memoryPath(), err)
	}
	return string(data), nil
}
