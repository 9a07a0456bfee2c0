package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sermon-engine/internal/enrich"
	"sermon-engine/internal/generator"
	"sermon-engine/internal/progress"
	"sermon-engine/internal/types"
)

// fakeStore is an in-memory JobStore.
type fakeStore struct {
	mu          sync.Mutex
	sermons     map[string]*types.Sermon
	chunks      map[string][]types.AudioChunk
	transcripts map[string]*types.Transcript
	guides      map[string]*types.StudyGuide
	saves       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sermons:     make(map[string]*types.Sermon),
		chunks:      make(map[string][]types.AudioChunk),
		transcripts: make(map[string]*types.Transcript),
		guides:      make(map[string]*types.StudyGuide),
	}
}

// addSermon registers a sermon with one recorded chunk.
func (f *fakeStore) addSermon(id, transcription, studyGuide string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sermons[id] = &types.Sermon{
		ID:                  id,
		Title:               "Sermon " + id,
		TranscriptionStatus: transcription,
		StudyGuideStatus:    studyGuide,
	}
	f.chunks[id] = []types.AudioChunk{
		{SermonID: id, Index: 0, LocalPath: id + "-0", DurationSeconds: 10},
	}
}

func (f *fakeStore) GetSermon(id string) (*types.Sermon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sermons[id]
	if !ok {
		return nil, fmt.Errorf("sermon %s not found", id)
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) ResumableSermonIDs() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, s := range f.sermons {
		if s.TranscriptionStatus == types.StageSucceeded && s.StudyGuideStatus == types.StageSucceeded {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) Chunks(sermonID string) ([]types.AudioChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[sermonID], nil
}

func (f *fakeStore) MarkChunksPendingUpload(sermonID string) error { return nil }

func (f *fakeStore) SetTranscriptionStatus(id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sermons[id]; ok {
		s.TranscriptionStatus = status
		s.TranscriptionError = errMsg
	}
	return nil
}

func (f *fakeStore) SaveTranscript(t *types.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts[t.SermonID] = t
	f.saves++
	return nil
}

func (f *fakeStore) GetTranscript(sermonID string) (*types.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transcripts[sermonID]
	if !ok {
		return nil, fmt.Errorf("transcript for %s not found", sermonID)
	}
	return t, nil
}

func (f *fakeStore) SetStudyGuideStatus(id, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sermons[id]; ok {
		s.StudyGuideStatus = status
		s.StudyGuideError = errMsg
	}
	return nil
}

func (f *fakeStore) SaveStudyGuide(g *types.StudyGuide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guides[g.SermonID] = g
	return nil
}

func (f *fakeStore) GetStudyGuide(sermonID string) (*types.StudyGuide, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.guides[sermonID]
	if !ok {
		return nil, fmt.Errorf("study guide for %s not found", sermonID)
	}
	return g, nil
}

func (f *fakeStore) status(id string) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sermons[id]
	return s.TranscriptionStatus, s.StudyGuideStatus
}

func (f *fakeStore) transcriptSaves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// fakeTranscriber records calls and optionally blocks until released.
type fakeTranscriber struct {
	mu      sync.Mutex
	calls   []string
	active  int
	maxSeen int
	block   chan struct{}
	err     error
	results []*types.ChunkTranscription
}

func (f *fakeTranscriber) TranscribeChunk(ctx context.Context, path string) (*types.ChunkTranscription, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	block := f.block
	var result *types.ChunkTranscription
	if len(f.results) > 0 {
		result = f.results[0]
		f.results = f.results[1:]
	}
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.active--
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &types.ChunkTranscription{
			Text:            "hello world",
			Language:        "en",
			DurationSeconds: 10,
			Segments:        []types.Segment{{Start: 0, End: 2, Text: "hello world"}},
			Words: []types.WordTimestamp{
				{Word: "hello", Start: 0, End: 1},
				{Word: "world", Start: 1, End: 2},
			},
		}
	}
	return result, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTranscriber) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTranscriber) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeGenerator returns a minimal guide.
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, req generator.Request) (*types.GeneratedGuide, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &types.GeneratedGuide{
		Title:   req.Title,
		Summary: "a summary",
		Outline: []types.GeneratedSection{{Title: "Introduction"}},
	}, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEnricher always degrades to classification without context.
type fakeEnricher struct{}

func (fakeEnricher) BuildContext(refs []string) (*enrich.Context, error) {
	return nil, errors.New("no index loaded")
}

func (fakeEnricher) ClassifyAndEnrich(explicit, suggested []string, ctx *enrich.Context) []types.EnrichedReference {
	return nil
}

func newTestScheduler(store *fakeStore, tr *fakeTranscriber, gen *fakeGenerator, limit int) *Scheduler {
	return New(store, tr, gen, fakeEnricher{}, nil, progress.NewPublisher(), limit)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConcurrencyLimit(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 4; i++ {
		store.addSermon(fmt.Sprintf("s%d", i), types.StagePending, types.StagePending)
	}

	release := make(chan struct{})
	tr := &fakeTranscriber{block: release}
	gen := &fakeGenerator{}
	sched := newTestScheduler(store, tr, gen, 2)

	for i := 0; i < 4; i++ {
		sched.Enqueue(fmt.Sprintf("s%d", i))
	}

	waitFor(t, "two jobs to start", func() bool { return tr.callCount() == 2 })
	if got := sched.InFlight(); got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}

	close(release)
	sched.Wait()

	if tr.maxSeen > 2 {
		t.Errorf("max concurrent transcriptions = %d, want <= 2", tr.maxSeen)
	}
	for i := 0; i < 4; i++ {
		tStatus, gStatus := store.status(fmt.Sprintf("s%d", i))
		if tStatus != types.StageSucceeded || gStatus != types.StageSucceeded {
			t.Errorf("s%d statuses = %s/%s, want succeeded/succeeded", i, tStatus, gStatus)
		}
	}
}

func TestFIFOAdmission(t *testing.T) {
	store := newFakeStore()
	for _, id := range []string{"a", "b", "c"} {
		store.addSermon(id, types.StagePending, types.StagePending)
	}

	release := make(chan struct{})
	tr := &fakeTranscriber{block: release}
	sched := newTestScheduler(store, tr, &fakeGenerator{}, 1)

	sched.Enqueue("a")
	waitFor(t, "first job to start", func() bool { return tr.callCount() == 1 })
	sched.Enqueue("b")
	sched.Enqueue("c")

	close(release)
	sched.Wait()

	want := []string{"a-0", "b-0", "c-0"}
	got := tr.callOrder()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q (FIFO order)", i, got[i], want[i])
		}
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	store := newFakeStore()
	store.addSermon("a", types.StagePending, types.StagePending)

	release := make(chan struct{})
	tr := &fakeTranscriber{block: release}
	sched := newTestScheduler(store, tr, &fakeGenerator{}, 1)

	sched.Enqueue("a")
	sched.Enqueue("a")
	waitFor(t, "job to start", func() bool { return tr.callCount() == 1 })

	close(release)
	sched.Wait()

	if got := tr.callCount(); got != 1 {
		t.Errorf("transcription calls = %d, want 1", got)
	}
}

func TestSucceededTranscriptionNotRepeated(t *testing.T) {
	store := newFakeStore()
	store.addSermon("a", types.StageSucceeded, types.StagePending)
	store.SaveTranscript(&types.Transcript{
		SermonID:        "a",
		Text:            "see John 3:16 friends",
		DurationSeconds: 30,
		Words:           []types.WordTimestamp{{Word: "see", Start: 0, End: 1}},
	})

	tr := &fakeTranscriber{}
	gen := &fakeGenerator{}
	sched := newTestScheduler(store, tr, gen, 1)

	sched.Enqueue("a")
	sched.Wait()

	if got := tr.callCount(); got != 0 {
		t.Errorf("transcription calls = %d, want 0 for a succeeded stage", got)
	}
	if got := gen.callCount(); got != 1 {
		t.Errorf("generator calls = %d, want 1", got)
	}
	if _, gStatus := store.status("a"); gStatus != types.StageSucceeded {
		t.Errorf("study guide status = %s, want succeeded", gStatus)
	}
}

func TestFailedStageRetriedOnReEnqueue(t *testing.T) {
	store := newFakeStore()
	store.addSermon("a", types.StagePending, types.StagePending)

	tr := &fakeTranscriber{}
	tr.setErr(errors.New("provider unavailable"))
	gen := &fakeGenerator{}
	sched := newTestScheduler(store, tr, gen, 1)

	sched.Enqueue("a")
	sched.Wait()

	tStatus, gStatus := store.status("a")
	if tStatus != types.StageFailed {
		t.Fatalf("transcription status = %s, want failed", tStatus)
	}
	if gStatus != types.StagePending {
		t.Errorf("study guide status = %s, want pending (stage never ran)", gStatus)
	}
	if gen.callCount() != 0 {
		t.Errorf("generator ran after a failed transcription")
	}

	// The provider recovers; re-enqueueing retries only the failed stage.
	tr.setErr(nil)
	sched.Enqueue("a")
	sched.Wait()

	tStatus, gStatus = store.status("a")
	if tStatus != types.StageSucceeded || gStatus != types.StageSucceeded {
		t.Errorf("statuses after retry = %s/%s, want succeeded/succeeded", tStatus, gStatus)
	}
	if got := tr.callCount(); got != 2 {
		t.Errorf("transcription calls = %d, want 2 (one failed, one retried)", got)
	}
}

func TestCancelPendingJob(t *testing.T) {
	store := newFakeStore()
	store.addSermon("a", types.StagePending, types.StagePending)
	store.addSermon("b", types.StagePending, types.StagePending)

	release := make(chan struct{})
	tr := &fakeTranscriber{block: release}
	sched := newTestScheduler(store, tr, &fakeGenerator{}, 1)

	sched.Enqueue("a")
	waitFor(t, "first job to start", func() bool { return tr.callCount() == 1 })
	sched.Enqueue("b")
	sched.Cancel("b")

	close(release)
	sched.Wait()

	for _, path := range tr.callOrder() {
		if path == "b-0" {
			t.Error("cancelled pending job was still transcribed")
		}
	}
	tStatus, _ := store.status("b")
	if tStatus != types.StagePending {
		t.Errorf("cancelled job status = %s, want pending (untouched)", tStatus)
	}
}

func TestCancelInFlightDiscardsResults(t *testing.T) {
	store := newFakeStore()
	store.addSermon("a", types.StagePending, types.StagePending)

	release := make(chan struct{})
	tr := &fakeTranscriber{block: release}
	gen := &fakeGenerator{}
	sched := newTestScheduler(store, tr, gen, 1)

	sched.Enqueue("a")
	waitFor(t, "job to start", func() bool { return tr.callCount() == 1 })
	sched.Cancel("a")

	close(release)
	sched.Wait()

	if got := store.transcriptSaves(); got != 0 {
		t.Errorf("transcript saves = %d, want 0 (results discarded)", got)
	}
	if gen.callCount() != 0 {
		t.Errorf("generator ran for a cancelled job")
	}
	tStatus, _ := store.status("a")
	if tStatus == types.StageSucceeded {
		t.Error("cancelled job was marked succeeded")
	}
}

func TestChunkTimestampOffsets(t *testing.T) {
	store := newFakeStore()
	store.addSermon("a", types.StagePending, types.StagePending)
	store.mu.Lock()
	store.chunks["a"] = []types.AudioChunk{
		{SermonID: "a", Index: 0, LocalPath: "a-0"},
		{SermonID: "a", Index: 1, LocalPath: "a-1"},
		{SermonID: "a", Index: 2, LocalPath: "a-2"},
	}
	store.mu.Unlock()

	chunkResult := func(duration float64) *types.ChunkTranscription {
		return &types.ChunkTranscription{
			Text:            "word",
			DurationSeconds: duration,
			Segments:        []types.Segment{{Start: 0, End: 5, Text: "word"}},
			Words:           []types.WordTimestamp{{Word: "word", Start: 0, End: 1}},
		}
	}
	tr := &fakeTranscriber{
		results: []*types.ChunkTranscription{
			chunkResult(600), chunkResult(600), chunkResult(300),
		},
	}
	sched := newTestScheduler(store, tr, &fakeGenerator{}, 1)

	sched.Enqueue("a")
	sched.Wait()

	transcript, err := store.GetTranscript("a")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	wantStarts := []float64{0, 600, 1200}
	if len(transcript.Words) != 3 {
		t.Fatalf("got %d words, want 3", len(transcript.Words))
	}
	for i, w := range transcript.Words {
		if w.Start != wantStarts[i] {
			t.Errorf("word %d start = %v, want %v", i, w.Start, wantStarts[i])
		}
	}
	if transcript.DurationSeconds != 1500 {
		t.Errorf("duration = %v, want 1500", transcript.DurationSeconds)
	}
}

func TestResumePendingJobs(t *testing.T) {
	store := newFakeStore()
	store.addSermon("a", types.StagePending, types.StagePending)
	store.addSermon("b", types.StageRunning, types.StagePending) // crashed mid-stage
	store.addSermon("c", types.StageSucceeded, types.StageSucceeded)

	tr := &fakeTranscriber{}
	sched := newTestScheduler(store, tr, &fakeGenerator{}, 2)

	if err := sched.ResumePendingJobs(); err != nil {
		t.Fatalf("ResumePendingJobs: %v", err)
	}
	sched.Wait()

	for _, id := range []string{"a", "b"} {
		tStatus, gStatus := store.status(id)
		if tStatus != types.StageSucceeded || gStatus != types.StageSucceeded {
			t.Errorf("%s statuses = %s/%s, want succeeded/succeeded", id, tStatus, gStatus)
		}
	}
	if got := tr.callCount(); got != 2 {
		t.Errorf("transcription calls = %d, want 2 (finished job untouched)", got)
	}
}

func TestOutlineRefinementReanchorsPersistedGuide(t *testing.T) {
	store := newFakeStore()
	store.addSermon("a", types.StageSucceeded, types.StageSucceeded)
	store.SaveTranscript(&types.Transcript{
		SermonID:        "a",
		Text:            "welcome everyone grace abounds richly in every season",
		DurationSeconds: 7,
		Words: []types.WordTimestamp{
			{Word: "welcome", Start: 0, End: 1},
			{Word: "everyone", Start: 1, End: 2},
			{Word: "grace", Start: 2, End: 3},
			{Word: "abounds", Start: 3, End: 4},
			{Word: "richly", Start: 4, End: 5},
			{Word: "in", Start: 5, End: 6},
			{Word: "every", Start: 6, End: 6.5},
			{Word: "season", Start: 6.5, End: 7},
		},
	})
	store.SaveStudyGuide(&types.StudyGuide{
		SermonID: "a",
		Outline:  []types.OutlineSection{{Title: "Grace", AnchorText: "grace abounds richly in"}},
	})

	sched := newTestScheduler(store, &fakeTranscriber{}, &fakeGenerator{}, 1)
	sched.refineOutline("a")

	guide, err := store.GetStudyGuide("a")
	if err != nil {
		t.Fatalf("GetStudyGuide: %v", err)
	}
	if guide.Outline[0].StartSeconds == nil {
		t.Fatal("refinement left the outline unanchored")
	}
	if *guide.Outline[0].StartSeconds != 2 {
		t.Errorf("refined start = %v, want 2 (anchor position)", *guide.Outline[0].StartSeconds)
	}
	if guide.Outline[0].Confidence != 1.0 {
		t.Errorf("refined confidence = %v, want 1.0", guide.Outline[0].Confidence)
	}
}

func TestProgressReachesCompletion(t *testing.T) {
	store := newFakeStore()
	store.addSermon("a", types.StagePending, types.StagePending)

	publisher := progress.NewPublisher()
	sched := New(store, &fakeTranscriber{}, &fakeGenerator{}, fakeEnricher{}, nil, publisher, 1)

	sub := publisher.Subscribe("a")
	sched.Enqueue("a")
	sched.Wait()

	var last progress.Update
	var count int
	for update := range sub.C {
		if update.Fraction < last.Fraction {
			t.Errorf("fraction went backwards: %v after %v", update.Fraction, last.Fraction)
		}
		last = update
		count++
	}
	if count == 0 {
		t.Fatal("received no progress updates")
	}
	if last.Fraction != 1.0 {
		t.Errorf("final fraction = %v, want 1.0", last.Fraction)
	}
}
