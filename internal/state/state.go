// Package state manages the latest-findings snapshot, the ephemeral
// record of the most recent completed audit. Unlike the decision store
// it is advisory: corrupt or missing snapshots read as empty.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"vigil/internal/audit"
)

// LatestFindingsFile is the snapshot path relative to the repo root.
const LatestFindingsFile = ".vigil/latest-findings.json"

// Snapshot is the serialized form of a completed audit.
type Snapshot struct {
	Repo          string          `json:"repo"`
	Focus         string          `json:"focus"`
	Timestamp     string          `json:"timestamp"`
	ResolvedCount int             `json:"resolved_count"`
	Findings      []audit.Finding `json:"findings"`
}

// SaveLatest writes the snapshot, replacing any previous one.
func SaveLatest(basePath string, snap Snapshot) error {
	path := filepath.Join(basePath, LatestFindingsFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// LoadLatest reads the snapshot's findings. Missing or unreadable
// snapshots return an empty slice.
func LoadLatest(basePath string) []audit.Finding {
	snap, ok := load(basePath)
	if !ok {
		return nil
	}
	return snap.Findings
}

// LoadLatestMetadata reads the snapshot without its findings.
func LoadLatestMetadata(basePath string) (Snapshot, bool) {
	snap, ok := load(basePath)
	snap.Findings = nil
	return snap, ok
}

func load(basePath string) (Snapshot, bool) {
	data, err := os.ReadFile(filepath.Join(basePath, LatestFindingsFile))
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}
