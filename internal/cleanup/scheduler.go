package cleanup

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"sermon-engine/internal/types"
)

// PendingLister exposes the chunks still awaiting background sync. Files
// backing those chunks must not be reaped regardless of age.
type PendingLister interface {
	ChunksPendingUpload() ([]types.AudioChunk, error)
}

// Scheduler reaps stale audio chunk files from the temp directory. A chunk
// file is stale once it exceeds the age cutoff AND is no longer flagged for
// upload; the age window alone is not proof the sync layer is done with it.
type Scheduler struct {
	tempDir  string
	interval time.Duration
	maxAge   time.Duration
	pending  PendingLister
	stopChan chan struct{}
}

// NewScheduler creates a cleanup scheduler. pending may be nil, in which
// case only the age cutoff applies.
func NewScheduler(tempDir string, intervalMinutes, maxAgeHours int, pending PendingLister) *Scheduler {
	return &Scheduler{
		tempDir:  tempDir,
		interval: time.Duration(intervalMinutes) * time.Minute,
		maxAge:   time.Duration(maxAgeHours) * time.Hour,
		pending:  pending,
		stopChan: make(chan struct{}),
	}
}

// Start runs one immediate sweep, then sweeps on the configured interval
// until Stop is called.
func (s *Scheduler) Start() {
	s.sweep()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %s, max age: %s)", s.interval, s.maxAge)
}

// Stop halts the sweep loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	log.Println("Cleanup scheduler stopped")
}

// sweep deletes chunk files past the age cutoff, skipping any file a
// pending-upload chunk still points at.
func (s *Scheduler) sweep() {
	cutoff := time.Now().Add(-s.maxAge)
	keep, ok := s.pendingPaths()
	if !ok {
		return
	}

	var deleted int
	var freed int64

	err := filepath.WalkDir(s.tempDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if keep[path] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			log.Printf("Failed to delete stale chunk %s: %v", path, err)
			return nil
		}
		deleted++
		freed += size
		return nil
	})
	if err != nil {
		log.Printf("Chunk cleanup walk failed: %v", err)
	}

	if deleted > 0 {
		log.Printf("Chunk cleanup: %d files deleted, %.2fMB freed (%d pending-upload files kept)",
			deleted, float64(freed)/(1024*1024), len(keep))
	}
}

// pendingPaths collects the local paths of chunks still flagged for upload.
// A listing failure aborts the sweep; deleting a file the sync layer still
// needs is worse than leaving stale ones for the next pass.
func (s *Scheduler) pendingPaths() (map[string]bool, bool) {
	if s.pending == nil {
		return nil, true
	}
	chunks, err := s.pending.ChunksPendingUpload()
	if err != nil {
		log.Printf("Chunk cleanup: could not list pending uploads, skipping sweep: %v", err)
		return nil, false
	}
	keep := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if c.LocalPath != "" {
			keep[c.LocalPath] = true
		}
	}
	return keep, true
}

// EnsureTempDirExists creates the temp directory if it doesn't exist.
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return err
	}
	log.Printf("Temp directory ready: %s", tempDir)
	return nil
}
