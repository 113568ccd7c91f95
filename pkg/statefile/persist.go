package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"coach/pkg/utils"
)

// writeAtomic persists a record so that readers only ever observe the old
// file or the complete new one. The serialized record goes to a uniquely
// named temp file in the target's directory, then an os.Rename moves it
// over the destination. Same-directory placement keeps the rename on one
// filesystem, which is what makes it atomic.
func writeAtomic(path string, rec Record) error {
	data, err := json.MarshalIndent(encodeRecord(rec), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record for %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	pattern := fmt.Sprintf(".%s-%s-*.tmp", filepath.Base(path), utils.SanitizeIdentifier(rec.WriterID))
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
