package types

import "time"

// Stage status constants. Each pipeline stage (transcription, study guide)
// tracks its own status so a failed stage can be retried independently.
const (
	StagePending   = "pending"
	StageRunning   = "running"
	StageSucceeded = "succeeded"
	StageFailed    = "failed"
)

// Chunk upload status constants
const (
	UploadNone     = "none"
	UploadPending  = "pending"
	UploadComplete = "uploaded"
	UploadFailed   = "failed"
)

// Verification status constants for AI-suggested references
const (
	VerifyVerified   = "verified"
	VerifyPartial    = "partial"
	VerifyUnknown    = "unknown"
	VerifyUnverified = "unverified"
)

// Sermon is the durable job record. The scheduler reconstructs its view of a
// job from this on every scheduling decision; the store is the source of truth.
type Sermon struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	DurationSeconds     float64   `json:"duration_seconds"`
	TranscriptionStatus string    `json:"transcription_status"`
	TranscriptionError  string    `json:"transcription_error,omitempty"`
	StudyGuideStatus    string    `json:"study_guide_status"`
	StudyGuideError     string    `json:"study_guide_error,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// TranscriptionOwed reports whether the transcription stage should run. A
// stage found running was interrupted by an unclean shutdown and is owed a
// re-attempt.
func (s *Sermon) TranscriptionOwed() bool {
	return s.TranscriptionStatus != StageSucceeded
}

// StudyGuideOwed reports whether the study guide stage should run.
func (s *Sermon) StudyGuideOwed() bool {
	return s.TranscriptionStatus == StageSucceeded && s.StudyGuideStatus != StageSucceeded
}

// AudioChunk is one recorded chunk of a sermon, ordered by Index.
type AudioChunk struct {
	SermonID        string  `json:"sermon_id"`
	Index           int     `json:"index"`
	LocalPath       string  `json:"local_path"`
	DurationSeconds float64 `json:"duration_seconds"`
	UploadStatus    string  `json:"upload_status"`
	DriveFileID     string  `json:"drive_file_id,omitempty"`
}

// WordTimestamp is an immutable (word, start, end) triple in absolute seconds.
// Produced once by transcription; every later timestamp is expressed against it.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a timestamped span of transcript text.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the persisted output of the transcription stage.
type Transcript struct {
	SermonID        string          `json:"sermon_id"`
	Text            string          `json:"text"`
	Language        string          `json:"language"`
	DurationSeconds float64         `json:"duration_seconds"`
	Segments        []Segment       `json:"segments"`
	Words           []WordTimestamp `json:"words"`
}

// VerseRange identifies a contiguous scripture span.
type VerseRange struct {
	BookID     int `json:"book_id"`
	Chapter    int `json:"chapter"`
	VerseStart int `json:"verse_start"`
	VerseEnd   int `json:"verse_end"`
}

// CrossRefEdge is a directed, weighted citation link between verse ranges.
type CrossRefEdge struct {
	Source VerseRange `json:"source"`
	Target VerseRange `json:"target"`
	Weight float64    `json:"weight"`
}

// EnrichedReference is a citation augmented with its verification outcome.
// Immutable after classification; persisted as part of the study guide.
type EnrichedReference struct {
	Raw         string      `json:"raw"`
	CanonicalID string      `json:"canonical_id,omitempty"`
	Range       *VerseRange `json:"range,omitempty"`
	Display     string      `json:"display,omitempty"`
	Explicit    bool        `json:"explicit"`
	Status      string      `json:"status"`
	Evidence    []string    `json:"evidence,omitempty"`
	Note        string      `json:"note,omitempty"`
	CrossRefs   []string    `json:"cross_refs,omitempty"`
}

// OutlineSection is one heading of the generated study guide outline.
// StartSeconds/EndSeconds are attached by the aligner after generation.
type OutlineSection struct {
	Title        string   `json:"title"`
	AnchorText   string   `json:"anchor_text,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	StartSeconds *float64 `json:"start_seconds,omitempty"`
	EndSeconds   *float64 `json:"end_seconds,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// GuideQuote is a notable quote pulled from the sermon.
type GuideQuote struct {
	Text         string   `json:"text"`
	StartSeconds *float64 `json:"start_seconds,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// GuideInsight is a short commentary item tied to the sermon content.
type GuideInsight struct {
	Text         string   `json:"text"`
	StartSeconds *float64 `json:"start_seconds,omitempty"`
	Confidence   float64  `json:"confidence"`
}

// StudyGuide is the final enriched, timestamp-anchored guide.
type StudyGuide struct {
	SermonID    string              `json:"sermon_id"`
	Title       string              `json:"title"`
	Summary     string              `json:"summary"`
	Outline     []OutlineSection    `json:"outline"`
	Quotes      []GuideQuote        `json:"quotes"`
	Insights    []GuideInsight      `json:"insights"`
	References  []EnrichedReference `json:"references"`
	Questions   []string            `json:"questions"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// GeneratedGuide is the raw structured output of the AI generator, before
// reference classification and timestamp alignment.
type GeneratedGuide struct {
	Title               string             `json:"title"`
	Summary             string             `json:"summary"`
	Outline             []GeneratedSection `json:"outline"`
	Quotes              []string           `json:"quotes"`
	Insights            []string           `json:"insights"`
	MentionedReferences []string           `json:"mentioned_references"`
	SuggestedReferences []string           `json:"suggested_references"`
	Questions           []string           `json:"discussion_questions"`
}

// GeneratedSection is one raw outline heading from the generator.
type GeneratedSection struct {
	Title      string `json:"title"`
	AnchorText string `json:"anchor_text"`
	Summary    string `json:"summary"`
}

// ChunkTranscription is the provider result for a single audio chunk, with
// timestamps relative to the start of that chunk.
type ChunkTranscription struct {
	Text            string
	Language        string
	DurationSeconds float64
	Segments        []Segment
	Words           []WordTimestamp
}

// JobState is the snapshot carried on every progress update.
type JobState struct {
	SermonID            string `json:"sermon_id"`
	TranscriptionStatus string `json:"transcription_status"`
	StudyGuideStatus    string `json:"study_guide_status"`
	Message             string `json:"message,omitempty"`
}
