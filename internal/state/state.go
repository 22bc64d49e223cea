// Package state persists the cross-cycle JSON checkpoint: last-run
// timestamps, per-connector cursors, and the autonomy memory block. The
// file is read once at cycle start and written at most once at the end,
// only after a clean (non-dry-run, non-error) cycle.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Caps for the FIFO memories inside the autonomy block.
const (
	MaxFingerprints  = 300
	MaxQueryFamilies = 10
)

// LastChecks records when pipeline milestones last completed.
type LastChecks struct {
	SherlockCycle    string `json:"sherlock_cycle,omitempty"`
	WolfIngestSubmit string `json:"wolf_ingest_submit,omitempty"`
}

// XCheckpoint is the social connector's resumption cursor.
type XCheckpoint struct {
	SinceID   string `json:"sinceId,omitempty"`
	LastRunAt string `json:"lastRunAt,omitempty"`
}

// WebCheckpoint is the web/LLM connector's resumption marker.
type WebCheckpoint struct {
	LastRunAt string `json:"lastRunAt,omitempty"`
}

// Connectors groups per-connector cursors.
type Connectors struct {
	XAPI          XCheckpoint   `json:"x_api"`
	PerplexityWeb WebCheckpoint `json:"perplexity_web"`
}

// Autonomy is the strategy-memory block: where the focus rotation stands,
// which query families recently succeeded, and which incident fingerprints
// were recently accepted (the cross-cycle dedupe set).
type Autonomy struct {
	FocusRotationIndex          int      `json:"focusRotationIndex"`
	RandomSeed                  int64    `json:"randomSeed"`
	LastSuccessfulQueryFamilies []string `json:"lastSuccessfulQueryFamilies"`
	RecentIncidentFingerprints  []string `json:"recentIncidentFingerprints"`
	LastRunMode                 string   `json:"lastRunMode,omitempty"`
	LastQueryFamily             string   `json:"lastQueryFamily,omitempty"`
	LastTaskID                  string   `json:"lastTaskId,omitempty"`
	LastRunAt                   string   `json:"lastRunAt,omitempty"`
}

// RunState is the single persisted document.
type RunState struct {
	LastChecks LastChecks `json:"lastChecks"`
	Connectors Connectors `json:"connectors"`
	Autonomy   Autonomy   `json:"autonomy"`
}

// Default returns a fresh RunState for a first run.
func Default() *RunState {
	return &RunState{
		Autonomy: Autonomy{
			LastSuccessfulQueryFamilies: []string{},
			RecentIncidentFingerprints:  []string{},
		},
	}
}

// Load reads the state file at path, returning defaults when the file does
// not exist. A file that exists but cannot be read or parsed is an error:
// silently resetting state would resubmit every remembered incident.
func Load(path string) (*RunState, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}
	st := Default()
	if err := json.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", path, err)
	}
	return st, nil
}

// Save writes the state atomically: marshal to a temp file in the same
// directory, then rename over the target.
func Save(path string, st *RunState) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sherlock-state-*")
	if err != nil {
		return fmt.Errorf("state: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: rename to %s: %w", path, err)
	}
	return nil
}

// AppendCapped appends items to list, skipping values already present, and
// drops the oldest entries once the cap is exceeded. Insertion order is
// acceptance order, so the FIFO always evicts the least recent memory.
func AppendCapped(list []string, items []string, cap int) []string {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		seen[v] = true
	}
	for _, v := range items {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		list = append(list, v)
	}
	if len(list) > cap {
		list = list[len(list)-cap:]
	}
	return list
}
