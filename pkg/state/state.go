// Package state persists the last document each user worked on, so a
// request without an explicit path can fall back to it.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/officestack/docpatch/pkg/logger"
)

// State is the persisted shape: one last-file entry per user.
type State struct {
	LastFiles map[string]string `json:"last_files"`

	// Timestamp is the last time this state was updated.
	Timestamp time.Time `json:"timestamp"`
}

// Manager manages the last-file map with atomic saves.
type Manager struct {
	state     *State
	mu        sync.RWMutex
	stateFile string
}

var (
	stateReadFile         = os.ReadFile
	stateBootstrapTimeout = 750 * time.Millisecond
)

// NewManager loads (best-effort, bounded) the persisted map from
// <workspace>/state/lastfiles.json. A slow or corrupt state file never
// blocks startup; the manager starts empty instead.
func NewManager(workspace string) *Manager {
	stateDir := filepath.Join(workspace, "state")
	os.MkdirAll(stateDir, 0o755)

	sm := &Manager{
		stateFile: filepath.Join(stateDir, "lastfiles.json"),
		state:     &State{LastFiles: map[string]string{}},
	}

	loaded, err := loadWithTimeout(sm.stateFile, stateBootstrapTimeout)
	if err != nil {
		logger.WarnCF("state", "bootstrap skipped", map[string]interface{}{
			"file":  sm.stateFile,
			"error": err.Error(),
		})
	} else if loaded != nil {
		if loaded.LastFiles == nil {
			loaded.LastFiles = map[string]string{}
		}
		sm.state = loaded
	}

	return sm
}

// SetLastFile records path as the user's most recent document and saves
// the state with the temp file + rename pattern, so the file is never
// observed half-written.
func (sm *Manager) SetLastFile(userID, path string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.state.LastFiles[userID] = path
	sm.state.Timestamp = time.Now()

	if err := sm.saveAtomic(); err != nil {
		return fmt.Errorf("failed to save state atomically: %w", err)
	}
	return nil
}

// LastFile returns the user's most recent document, if any.
func (sm *Manager) LastFile(userID string) (string, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	path, ok := sm.state.LastFiles[userID]
	return path, ok
}

// Forget drops the user's entry and saves.
func (sm *Manager) Forget(userID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.state.LastFiles[userID]; !ok {
		return nil
	}
	delete(sm.state.LastFiles, userID)
	sm.state.Timestamp = time.Now()

	if err := sm.saveAtomic(); err != nil {
		return fmt.Errorf("failed to save state atomically: %w", err)
	}
	return nil
}

// All returns a copy of the map for status reporting.
func (sm *Manager) All() map[string]string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	out := make(map[string]string, len(sm.state.LastFiles))
	for k, v := range sm.state.LastFiles {
		out[k] = v
	}
	return out
}

// GetTimestamp returns the timestamp of the last state update.
func (sm *Manager) GetTimestamp() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state.Timestamp
}

// saveAtomic writes to a temp file in the target directory and renames
// it over the state file. Must be called with the lock held.
func (sm *Manager) saveAtomic() error {
	tempFile := sm.stateFile + ".tmp"

	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, sm.stateFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func loadWithTimeout(stateFile string, timeout time.Duration) (*State, error) {
	if timeout <= 0 {
		return loadStateFromPath(stateFile)
	}

	type result struct {
		state *State
		err   error
	}

	done := make(chan result, 1)
	go func() {
		st, err := loadStateFromPath(stateFile)
		done <- result{state: st, err: err}
	}()

	select {
	case out := <-done:
		return out.state, out.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("state load timed out")
	}
}

func loadStateFromPath(path string) (*State, error) {
	data, err := stateReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state %s: %w", path, err)
	}
	return &st, nil
}
