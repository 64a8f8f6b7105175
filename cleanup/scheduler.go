// Package cleanup periodically removes stale files from the temp area and
// stale progress files.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// Scheduler removes files older than MaxAge from its directories.
type Scheduler struct {
	dirs     []string
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler over dirs. Non-positive durations fall
// back to one hour for the interval and one day for the age.
func NewScheduler(interval, maxAge time.Duration, dirs ...string) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Scheduler{dirs: dirs, interval: interval, maxAge: maxAge, now: time.Now}
}

// Run cleans once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	log.WithFields(log.Fields{"interval": s.interval, "max_age": s.maxAge}).Info("Cleanup scheduler started")
	s.Sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			log.Info("Cleanup scheduler stopped")
			return nil
		}
	}
}

// Sweep removes old files once and returns how many were deleted.
func (s *Scheduler) Sweep() int {
	now := s.now()
	var (
		deletedCount int
		deletedSize  int64
	)

	for _, dir := range s.dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() {
				return nil
			}
			age := now.Sub(info.ModTime())
			if age <= s.maxAge {
				return nil
			}
			if err := os.Remove(path); err != nil {
				log.WithField("path", path).Warnf("Failed to delete old file: %v", err)
				return nil
			}
			deletedCount++
			deletedSize += info.Size()
			log.WithFields(log.Fields{
				"file": filepath.Base(path),
				"age":  age.Round(time.Minute),
				"size": humanize.Bytes(uint64(info.Size())),
			}).Debug("Deleted old temp file")
			return nil
		})
		if err != nil {
			log.WithField("dir", dir).Warnf("Error during cleanup: %v", err)
		}
	}

	if deletedCount > 0 {
		log.Infof("Cleanup complete: %d files deleted, %s freed", deletedCount, humanize.Bytes(uint64(deletedSize)))
	}
	return deletedCount
}
