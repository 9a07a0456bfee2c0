package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"sermon-engine/internal/enrich"
	"sermon-engine/internal/generator"
	"sermon-engine/internal/progress"
	"sermon-engine/internal/types"
)

// errCancelled marks a stage abandoned because the job was cancelled while
// in flight; its results are discarded, not recorded as failure.
var errCancelled = errors.New("job cancelled")

// JobStore is the durable job-state surface the scheduler drives. Each
// stage read-modify-writes only the fields it owns.
type JobStore interface {
	GetSermon(id string) (*types.Sermon, error)
	ResumableSermonIDs() ([]string, error)
	Chunks(sermonID string) ([]types.AudioChunk, error)
	MarkChunksPendingUpload(sermonID string) error
	SetTranscriptionStatus(id, status, errMsg string) error
	SaveTranscript(t *types.Transcript) error
	GetTranscript(sermonID string) (*types.Transcript, error)
	SetStudyGuideStatus(id, status, errMsg string) error
	SaveStudyGuide(g *types.StudyGuide) error
	GetStudyGuide(sermonID string) (*types.StudyGuide, error)
}

// TranscriptionProvider transcribes one audio chunk with chunk-relative
// timestamps.
type TranscriptionProvider interface {
	TranscribeChunk(ctx context.Context, path string) (*types.ChunkTranscription, error)
}

// GuideGenerator produces a raw structured study guide from a transcript.
type GuideGenerator interface {
	Generate(ctx context.Context, req generator.Request) (*types.GeneratedGuide, error)
}

// Enricher builds verification context before generation and classifies
// returned citations afterward.
type Enricher interface {
	BuildContext(refs []string) (*enrich.Context, error)
	ClassifyAndEnrich(explicit, suggested []string, ctx *enrich.Context) []types.EnrichedReference
}

// TranscriptExporter writes finished transcripts to local disk.
type TranscriptExporter interface {
	ExportTranscript(sermon *types.Sermon, t *types.Transcript) (string, error)
}

// Scheduler advances sermons through the pipeline stages with bounded
// concurrency. A single mutex owns the pending queue and in-flight set;
// stage execution runs in independent goroutines that report back only
// through finish().
type Scheduler struct {
	store       JobStore
	transcriber TranscriptionProvider
	generator   GuideGenerator
	enricher    Enricher
	exporter    TranscriptExporter
	publisher   *progress.Publisher
	limit       int

	mu         sync.Mutex
	pending    []string
	pendingSet map[string]bool
	inflight   map[string]bool

	wg sync.WaitGroup
}

// New creates a scheduler with the given concurrency limit (minimum 1).
// exporter may be nil to disable local transcript export.
func New(store JobStore, transcriber TranscriptionProvider, gen GuideGenerator,
	enricher Enricher, exporter TranscriptExporter, publisher *progress.Publisher, limit int) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	return &Scheduler{
		store:       store,
		transcriber: transcriber,
		generator:   gen,
		enricher:    enricher,
		exporter:    exporter,
		publisher:   publisher,
		limit:       limit,
		pendingSet:  make(map[string]bool),
		inflight:    make(map[string]bool),
	}
}

// Enqueue appends a job to the pending list unless it is already pending or
// in flight, then attempts admission. Idempotent.
func (s *Scheduler) Enqueue(sermonID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingSet[sermonID] || s.inflight[sermonID] {
		return
	}
	s.pending = append(s.pending, sermonID)
	s.pendingSet[sermonID] = true
	log.Printf("Job %s enqueued (%d pending, %d in flight)", sermonID, len(s.pending), len(s.inflight))
	s.admitLocked()
}

// Cancel removes a job from the pending list and in-flight bookkeeping.
// An already-dispatched external call is not aborted; its completion path
// finds the job untracked and discards results.
func (s *Scheduler) Cancel(sermonID string) {
	s.mu.Lock()
	if s.pendingSet[sermonID] {
		delete(s.pendingSet, sermonID)
		for i, id := range s.pending {
			if id == sermonID {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
	}
	wasInflight := s.inflight[sermonID]
	delete(s.inflight, sermonID)
	s.admitLocked()
	s.mu.Unlock()

	if wasInflight {
		log.Printf("Job %s cancelled while in flight; running stage will be discarded", sermonID)
	}
	s.publisher.Complete(sermonID)
}

// ResumePendingJobs re-reads durable state at startup and enqueues every
// sermon with unfinished work. A stage found in running status implies an
// unclean shutdown mid-stage and is simply re-attempted.
func (s *Scheduler) ResumePendingJobs() error {
	ids, err := s.store.ResumableSermonIDs()
	if err != nil {
		return fmt.Errorf("failed to read resumable jobs: %w", err)
	}
	for _, id := range ids {
		s.Enqueue(id)
	}
	if len(ids) > 0 {
		log.Printf("Resumed %d unfinished jobs", len(ids))
	}
	return nil
}

// Wait blocks until all in-flight stage goroutines have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// InFlight reports the current in-flight job count.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// admitLocked moves pending jobs into the in-flight set up to the
// concurrency limit, preserving FIFO order. Caller holds s.mu.
func (s *Scheduler) admitLocked() {
	for len(s.inflight) < s.limit && len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]
		delete(s.pendingSet, id)
		s.inflight[id] = true
		s.wg.Add(1)
		go s.runJob(id)
	}
}

// finish frees the job's concurrency slot and admits the next pending job.
func (s *Scheduler) finish(sermonID string) {
	s.mu.Lock()
	delete(s.inflight, sermonID)
	s.admitLocked()
	s.mu.Unlock()
	s.wg.Done()
}

// tracked reports whether the job is still in the in-flight set. A stage
// whose job is no longer tracked discards its results.
func (s *Scheduler) tracked(sermonID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[sermonID]
}

// runJob executes the stage sequence for one admitted job.
func (s *Scheduler) runJob(sermonID string) {
	defer s.finish(sermonID)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC processing job %s: %v\n%s", sermonID, r, string(debug.Stack()))
			s.publisher.CompleteWithError(sermonID, types.JobState{
				SermonID: sermonID,
				Message:  fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	ctx := context.Background()

	sermon, err := s.store.GetSermon(sermonID)
	if err != nil {
		log.Printf("Job %s: failed to load sermon: %v", sermonID, err)
		s.publisher.CompleteWithError(sermonID, types.JobState{
			SermonID: sermonID,
			Message:  err.Error(),
		})
		return
	}

	// Stage (a): flag chunks for the background sync layer. Records intent
	// only; never blocks on upload completion.
	if err := s.store.MarkChunksPendingUpload(sermonID); err != nil {
		log.Printf("Job %s: failed to flag chunk uploads: %v", sermonID, err)
	}
	s.publish(sermon, 0.1)

	if sermon.TranscriptionOwed() {
		if err := s.runTranscription(ctx, sermon); err != nil {
			if errors.Is(err, errCancelled) {
				log.Printf("Job %s: transcription discarded after cancellation", sermonID)
				return
			}
			log.Printf("Job %s: transcription failed: %v", sermonID, err)
			sermon.TranscriptionStatus = types.StageFailed
			sermon.TranscriptionError = err.Error()
			s.publisher.CompleteWithError(sermonID, s.state(sermon, err.Error()))
			return
		}
	}

	if !s.tracked(sermonID) {
		log.Printf("Job %s: cancelled before study guide stage", sermonID)
		return
	}

	if sermon.StudyGuideOwed() {
		if err := s.runStudyGuide(ctx, sermon); err != nil {
			if errors.Is(err, errCancelled) {
				log.Printf("Job %s: study guide discarded after cancellation", sermonID)
				return
			}
			log.Printf("Job %s: study guide failed: %v", sermonID, err)
			sermon.StudyGuideStatus = types.StageFailed
			sermon.StudyGuideError = err.Error()
			s.publisher.CompleteWithError(sermonID, s.state(sermon, err.Error()))
			return
		}
	}

	s.publish(sermon, 1.0)
	s.publisher.Complete(sermonID)
	log.Printf("Job %s completed", sermonID)
}

// state snapshots the sermon statuses for a progress update.
func (s *Scheduler) state(sermon *types.Sermon, message string) types.JobState {
	return types.JobState{
		SermonID:            sermon.ID,
		TranscriptionStatus: sermon.TranscriptionStatus,
		StudyGuideStatus:    sermon.StudyGuideStatus,
		Message:             message,
	}
}

func (s *Scheduler) publish(sermon *types.Sermon, fraction float64) {
	s.publisher.Publish(sermon.ID, s.state(sermon, ""), fraction)
}
