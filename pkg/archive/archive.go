// Package archive snapshots a document before the first execution of
// generated code touches it, so a bad mutation is never the only copy.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/officestack/docpatch/pkg/logger"
)

const stateFileName = ".archive-state.json"

// Snapshot records one archived copy of a source document.
type Snapshot struct {
	SourcePath  string `json:"source_path"`
	ArchivePath string `json:"archive_path"`
	SizeBytes   int64  `json:"size_bytes"`
	Compressed  bool   `json:"compressed"`
	ArchivedAt  string `json:"archived_at"`
}

type archiveState struct {
	Sources map[string]Snapshot `json:"sources"`
}

// Manager writes snapshots under a single archive directory and keeps a
// sidecar index mapping source path to its latest snapshot.
type Manager struct {
	dir      string
	compress bool
	mu       sync.Mutex
}

func NewManager(dir string, compress bool) *Manager {
	return &Manager{dir: dir, compress: compress}
}

func (m *Manager) Dir() string { return m.dir }

// Snapshot copies the source document into the archive directory,
// compressing with zstd when enabled, and updates the sidecar index.
func (m *Manager) Snapshot(sourcePath string) (*Snapshot, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot archive directory: %s", sourcePath)
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, err
	}

	base := filepath.Base(sourcePath)
	suffix := filepath.Ext(base)
	stem := sanitizeStem(strings.TrimSuffix(base, suffix))
	name := fmt.Sprintf("%s_%s%s", stem, stamp(), suffix)
	if m.compress {
		name += ".zst"
	}
	archivePath := filepath.Join(m.dir, name)

	if err := m.copyFile(sourcePath, archivePath); err != nil {
		return nil, err
	}

	snap := Snapshot{
		SourcePath:  sourcePath,
		ArchivePath: archivePath,
		SizeBytes:   info.Size(),
		Compressed:  m.compress,
		ArchivedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.writeState(sourcePath, snap); err != nil {
		return nil, err
	}

	logger.InfoCF("archive", "document archived", map[string]interface{}{
		"source":  sourcePath,
		"archive": filepath.Base(archivePath),
	})
	return &snap, nil
}

// LastSnapshot looks up the most recent snapshot of a source path.
func (m *Manager) LastSnapshot(sourcePath string) (*Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.readState()
	if err != nil {
		return nil, false, err
	}
	snap, ok := state.Sources[sourcePath]
	if !ok {
		return nil, false, nil
	}
	return &snap, true, nil
}

// RestoreLast writes the latest snapshot of sourcePath back over the
// source, decompressing when needed. The write is temp+rename so a
// half-restored document is never observed.
func (m *Manager) RestoreLast(sourcePath string) error {
	snap, ok, err := m.LastSnapshot(sourcePath)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no snapshot recorded for %s", sourcePath)
	}

	in, err := os.Open(snap.ArchivePath)
	if err != nil {
		return err
	}
	defer in.Close()

	var reader io.Reader = in
	if snap.Compressed {
		dec, err := zstd.NewReader(in)
		if err != nil {
			return fmt.Errorf("open compressed snapshot: %w", err)
		}
		defer dec.Close()
		reader = dec
	}

	tmp := sourcePath + ".restore.tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, sourcePath)
}

// Prune deletes the oldest snapshot files beyond retention, newest
// kept. Returns how many files were removed.
func (m *Manager) Prune(retention int) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	type aged struct {
		path    string
		modTime time.Time
	}
	var files []aged
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == stateFileName || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{path: filepath.Join(m.dir, entry.Name()), modTime: info.ModTime()})
	}
	if len(files) <= retention {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	removed := 0
	for _, f := range files[retention:] {
		if err := os.Remove(f.path); err == nil {
			removed++
		}
	}
	if removed > 0 {
		logger.InfoCF("archive", "pruned old snapshots", map[string]interface{}{
			"removed":   removed,
			"retention": retention,
		})
	}
	return removed, nil
}

func (m *Manager) copyFile(sourcePath, archivePath string) error {
	src, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(archivePath)
	if err != nil {
		return err
	}

	if m.compress {
		enc, err := zstd.NewWriter(dst)
		if err != nil {
			dst.Close()
			return err
		}
		if _, err := io.Copy(enc, src); err != nil {
			enc.Close()
			dst.Close()
			return err
		}
		if err := enc.Close(); err != nil {
			dst.Close()
			return err
		}
	} else {
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return err
		}
	}
	return dst.Close()
}

func (m *Manager) readState() (archiveState, error) {
	state := archiveState{Sources: map[string]Snapshot{}}
	data, err := os.ReadFile(filepath.Join(m.dir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, err
	}
	_ = json.Unmarshal(data, &state)
	if state.Sources == nil {
		state.Sources = map[string]Snapshot{}
	}
	return state, nil
}

func (m *Manager) writeState(sourcePath string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.readState()
	if err != nil {
		return err
	}
	state.Sources[sourcePath] = snap

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(m.dir, stateFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var nonSafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeStem(stem string) string {
	stem = nonSafeChars.ReplaceAllString(strings.TrimSpace(stem), "_")
	stem = strings.Trim(stem, "_")
	if stem == "" {
		return "document"
	}
	return stem
}

func stamp() string {
	return time.Now().Format("20060102_150405") + "_" + uuid.New().String()[:8]
}
