package uploader

import (
	"context"
	"log"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"sermon-engine/internal/storage"
	"sermon-engine/internal/types"
)

// ChunkStore is the slice of the store the sync worker needs.
type ChunkStore interface {
	ChunksPendingUpload() ([]types.AudioChunk, error)
	SetChunkUploadStatus(sermonID string, idx int, status, driveFileID string) error
}

// Worker periodically scans for chunks flagged pending and uploads them to
// Google Drive. The pipeline only flags intent; this worker is the sync
// layer that acts on it.
type Worker struct {
	store       ChunkStore
	drive       *storage.DriveClient
	interval    time.Duration
	maxParallel int
	stopChan    chan struct{}
}

// NewWorker creates a chunk sync worker.
func NewWorker(store ChunkStore, drive *storage.DriveClient, interval time.Duration, maxParallel int) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxParallel <= 0 {
		maxParallel = 3
	}
	return &Worker{
		store:       store,
		drive:       drive,
		interval:    interval,
		maxParallel: maxParallel,
		stopChan:    make(chan struct{}),
	}
}

// Start begins the periodic sync loop.
func (w *Worker) Start() {
	go func() {
		// Pick up any chunks flagged before the last shutdown.
		w.syncOnce()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.syncOnce()
			case <-w.stopChan:
				return
			}
		}
	}()
	log.Printf("Chunk sync worker started (interval: %s, parallel: %d)", w.interval, w.maxParallel)
}

// Stop stops the sync loop.
func (w *Worker) Stop() {
	close(w.stopChan)
	log.Println("Chunk sync worker stopped")
}

// Kick triggers an immediate sync pass in the background.
func (w *Worker) Kick() {
	go w.syncOnce()
}

// syncOnce uploads every currently-flagged chunk with bounded parallelism.
func (w *Worker) syncOnce() {
	chunks, err := w.store.ChunksPendingUpload()
	if err != nil {
		log.Printf("Chunk sync: failed to list pending chunks: %v", err)
		return
	}
	if len(chunks) == 0 {
		return
	}
	log.Printf("Chunk sync: uploading %d chunks", len(chunks))

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(w.maxParallel)

	for _, chunk := range chunks {
		g.Go(func() error {
			w.uploadChunk(chunk)
			return nil
		})
	}
	g.Wait()
}

// uploadChunk uploads one chunk with bounded retries and records the result.
func (w *Worker) uploadChunk(chunk types.AudioChunk) {
	var fileID string
	err := retry.Do(
		func() error {
			var err error
			fileID, err = w.drive.UploadChunk(chunk)
			return err
		},
		retry.Attempts(3),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("Chunk sync: retry %d for %s[%d]: %v", n+1, chunk.SermonID, chunk.Index, err)
		}),
	)
	if err != nil {
		log.Printf("Chunk sync: upload failed for %s[%d]: %v", chunk.SermonID, chunk.Index, err)
		if err := w.store.SetChunkUploadStatus(chunk.SermonID, chunk.Index, types.UploadFailed, ""); err != nil {
			log.Printf("Chunk sync: failed to record upload failure: %v", err)
		}
		return
	}

	if err := w.store.SetChunkUploadStatus(chunk.SermonID, chunk.Index, types.UploadComplete, fileID); err != nil {
		log.Printf("Chunk sync: failed to record upload: %v", err)
	}
}
