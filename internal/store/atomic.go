// Package store provides the filesystem primitives every Tau runtime
// relies on: atomic single-file writes, append-only JSONL logs with
// rotation, path sanitization, and the channel/session store layouts built
// on top of them.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// WriteFileAtomic writes data to a temp file in dir and renames it over
// path, so a concurrent reader never observes a partial write. The temp
// file name embeds the sanitized basename and the current unix millis to
// avoid collisions across concurrent writers to different targets.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." || dir == string(filepath.Separator) {
		return fmt.Errorf("write file atomic %s: path has no parent", path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write file atomic %s: %w", path, err)
	}

	base := SanitizeForPath(filepath.Base(path), "state")
	tmpName := fmt.Sprintf(".%s.%d.tmp", base, time.Now().UnixMilli())
	tmpPath := filepath.Join(dir, tmpName)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("write file atomic %s: %w", path, err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write file atomic %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("write file atomic %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write file atomic %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("write file atomic %s: %w", path, err)
	}
	cleanup = false
	return nil
}

var sanitizeKeep = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeForPath maps raw to a filesystem-safe token: anything outside
// [A-Za-z0-9._-] becomes "_", leading/trailing "_" are trimmed, and an
// empty result falls back to fallback.
func SanitizeForPath(raw, fallback string) string {
	replaced := sanitizeKeep.ReplaceAllString(raw, "_")
	trimmed := strings.Trim(replaced, "_")
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
