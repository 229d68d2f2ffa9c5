// Package janitor removes stale working files on a cron schedule: temp
// processing copies past their TTL and archive snapshots beyond the
// configured retention. It runs inside the gateway process only.
package janitor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"github.com/officestack/docpatch/pkg/archive"
	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/logger"
)

const component = "janitor"

// SweepStats reports what one pass removed.
type SweepStats struct {
	TempRemoved   int
	ArchivePruned int
	Errors        int
}

// Janitor owns the cleanup loop. Start launches it; Stop waits for the
// goroutine to exit.
type Janitor struct {
	tempDir   string
	schedule  string
	ttl       time.Duration
	retention int
	archive   *archive.Manager

	stop chan struct{}
	done chan struct{}
	now  func() time.Time
}

// New validates the schedule and builds a janitor. arch may be nil
// when archiving is disabled; only the temp sweep runs then.
func New(cfg *config.Config, arch *archive.Manager) (*Janitor, error) {
	schedule := cfg.Janitor.Schedule
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("invalid janitor schedule %q", schedule)
	}

	ttlHours := cfg.Janitor.TempTTLHours
	if ttlHours <= 0 {
		ttlHours = 24
	}

	return &Janitor{
		tempDir:   filepath.Join(cfg.WorkspacePath(), "temp"),
		schedule:  schedule,
		ttl:       time.Duration(ttlHours) * time.Hour,
		retention: cfg.Archive.RetentionCount,
		archive:   arch,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}, nil
}

// Start runs the schedule loop in a goroutine. Each wakeup fires one
// sweep; the next wakeup is computed from the cron expression so a
// long sweep never causes a double fire.
func (j *Janitor) Start() {
	go func() {
		defer close(j.done)
		for {
			next, err := gronx.NextTickAfter(j.schedule, j.now(), false)
			if err != nil {
				logger.ErrorCF(component, "Cannot compute next run, janitor stopping", map[string]interface{}{
					"schedule": j.schedule,
					"error":    err.Error(),
				})
				return
			}

			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				j.Sweep()
			case <-j.stop:
				timer.Stop()
				return
			}
		}
	}()

	logger.InfoCF(component, "Janitor started", map[string]interface{}{
		"schedule":  j.schedule,
		"temp_ttl":  j.ttl.String(),
		"retention": j.retention,
	})
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}

// Sweep runs one cleanup pass and reports what it removed.
func (j *Janitor) Sweep() SweepStats {
	var stats SweepStats

	cutoff := j.now().Add(-j.ttl)
	entries, err := os.ReadDir(j.tempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WarnCF(component, "Cannot list temp dir", map[string]interface{}{
				"dir":   j.tempDir,
				"error": err.Error(),
			})
			stats.Errors++
		}
	} else {
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				stats.Errors++
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(j.tempDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				logger.WarnCF(component, "Cannot remove stale temp entry", map[string]interface{}{
					"path":  path,
					"error": err.Error(),
				})
				stats.Errors++
				continue
			}
			stats.TempRemoved++
		}
	}

	if j.archive != nil && j.retention > 0 {
		pruned, err := j.archive.Prune(j.retention)
		if err != nil {
			logger.WarnCF(component, "Archive prune failed", map[string]interface{}{
				"error": err.Error(),
			})
			stats.Errors++
		}
		stats.ArchivePruned = pruned
	}

	logger.InfoCF(component, "Sweep finished", map[string]interface{}{
		"temp_removed":   stats.TempRemoved,
		"archive_pruned": stats.ArchivePruned,
		"errors":         stats.Errors,
	})
	return stats
}
