// Package checkpoint implements the durable per-issue and fleet-wide
// state managers: atomic writes with a best-effort backup sibling, and a
// corrupt-file-then-backup fallback to a fresh checkpoint on load. A
// reader never observes a partially written file.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomic serializes v as indented JSON and writes it to path via a
// temporary sibling file followed by an atomic rename, matching
// internal/task/state.go's writeAtomic. Any error leaves the original file
// untouched and cleans up the temporary file.
func writeAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp checkpoint %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp checkpoint into place: %w", err)
	}
	return nil
}

// backupPath returns the sibling backup path for a checkpoint file, e.g.
// checkpoint.json -> checkpoint.backup.json.
func backupPath(path string) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	return base + ".backup" + ext
}

// backupBestEffort copies the existing file at path to its backup sibling.
// Failures (including a missing source file) are swallowed: the backup is
// best-effort and must never block a checkpoint write.
func backupBestEffort(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = os.WriteFile(backupPath(path), data, 0o644)
}

// loadWithBackupFallback parses the JSON file at path into v, trying the
// sibling backup file when path is missing or fails to parse. found reports
// whether either file parsed (when it is false the caller initializes a
// fresh checkpoint); corrupted reports whether a file that exists failed to
// parse. Neither file existing yields (false, false): "no checkpoint yet"
// is not a corruption.
func loadWithBackupFallback(path string, v any) (found bool, corrupted bool) {
	if data, err := os.ReadFile(path); err == nil {
		if json.Unmarshal(data, v) == nil {
			return true, false
		}
		corrupted = true
	}

	if data, err := os.ReadFile(backupPath(path)); err == nil {
		if json.Unmarshal(data, v) == nil {
			return true, corrupted
		}
		corrupted = true
	}

	return false, corrupted
}
