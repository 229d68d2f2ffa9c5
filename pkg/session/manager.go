// Package session keeps a per-user, per-document transcript of the
// instructions issued against a document and how each one ended. The
// REPL reads it back so successive edits can be reviewed in place.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/officestack/docpatch/pkg/logger"
)

// Entry records one instruction and its terminal outcome.
type Entry struct {
	Task           string  `json:"task"`
	Outcome        string  `json:"outcome"`
	Success        bool    `json:"success"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	At             string  `json:"at"`
}

// Session is the transcript for one key (user plus document stem).
type Session struct {
	Key     string    `json:"key"`
	Entries []Entry   `json:"entries"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// Manager holds transcripts in memory and persists them one JSON file
// per key under the storage directory.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	storage  string
}

var (
	// Keep startup responsive even if a cloud-backed storage dir stalls.
	sessionLoadTimeout  = 750 * time.Millisecond
	errSessionLoadTimed = errors.New("session load timed out")
	readDir             = os.ReadDir
	readFile            = os.ReadFile
)

// NewManager loads any persisted transcripts from storage. An empty
// storage path keeps everything in memory only.
func NewManager(storage string) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		storage:  storage,
	}

	if storage != "" {
		os.MkdirAll(storage, 0o755)
		if err := m.loadWithTimeout(sessionLoadTimeout); err != nil {
			logger.WarnCF("session", "Transcript preload skipped", map[string]interface{}{
				"storage": storage,
				"error":   err.Error(),
			})
		}
	}

	return m
}

// Key builds the canonical session key for a user and document.
func Key(userID, documentPath string) string {
	stem := strings.TrimSuffix(filepath.Base(documentPath), filepath.Ext(documentPath))
	if userID == "" {
		userID = "local"
	}
	return sanitizeKey(userID + "-" + stem)
}

func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "session"
	}
	return out
}

// Append records one finished instruction under key.
func (m *Manager) Append(key string, entry Entry) {
	if entry.At == "" {
		entry.At = time.Now().UTC().Format(time.RFC3339)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[key]
	if !ok {
		session = &Session{Key: key, Created: time.Now()}
		m.sessions[key] = session
	}
	session.Entries = append(session.Entries, entry)
	session.Updated = time.Now()
}

// Entries returns a copy of the transcript for key, oldest first.
func (m *Manager) Entries(key string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[key]
	if !ok || len(session.Entries) == 0 {
		return nil
	}
	out := make([]Entry, len(session.Entries))
	copy(out, session.Entries)
	return out
}

// Keys returns all known session keys in stable order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Truncate keeps only the last keepLast entries; zero clears the
// transcript entirely.
func (m *Manager) Truncate(key string, keepLast int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[key]
	if !ok {
		return
	}

	if keepLast <= 0 {
		session.Entries = nil
	} else if len(session.Entries) > keepLast {
		session.Entries = session.Entries[len(session.Entries)-keepLast:]
	} else {
		return
	}
	session.Updated = time.Now()
}

// Save persists one transcript with a temp+rename write so a partial
// file is never observed.
func (m *Manager) Save(key string) error {
	if m.storage == "" {
		return nil
	}

	// Keys become filenames; reject anything that could traverse.
	if key == "" || key == "." || key == ".." || key != filepath.Base(key) ||
		strings.Contains(key, "/") || strings.Contains(key, "\\") {
		return os.ErrInvalid
	}

	m.mu.RLock()
	stored, ok := m.sessions[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	snapshot := Session{
		Key:     stored.Key,
		Created: stored.Created,
		Updated: stored.Updated,
	}
	if len(stored.Entries) > 0 {
		snapshot.Entries = make([]Entry, len(stored.Entries))
		copy(snapshot.Entries, stored.Entries)
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	sessionPath := filepath.Join(m.storage, key+".json")
	tmpFile, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, sessionPath); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (m *Manager) load() error {
	files, err := readDir(m.storage)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		data, err := readFile(filepath.Join(m.storage, file.Name()))
		if err != nil {
			continue
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil || session.Key == "" {
			continue
		}

		m.mu.Lock()
		m.sessions[session.Key] = &session
		m.mu.Unlock()
	}

	return nil
}

func (m *Manager) loadWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return m.load()
	}

	done := make(chan error, 1)
	go func() {
		done <- m.load()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return errSessionLoadTimed
	}
}
