package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"sermon-engine/internal/align"
	"sermon-engine/internal/bible"
	"sermon-engine/internal/generator"
	"sermon-engine/internal/types"
)

// runTranscription transcribes every chunk in order, offsetting each chunk's
// timestamps by the cumulative duration of the chunks before it, and
// persists the combined transcript. The status flips to running before the
// first external call so a crash mid-stage is detectable at restart.
func (s *Scheduler) runTranscription(ctx context.Context, sermon *types.Sermon) error {
	chunks, err := s.store.Chunks(sermon.ID)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("no audio chunks recorded")
	}

	if err := s.store.SetTranscriptionStatus(sermon.ID, types.StageRunning, ""); err != nil {
		return err
	}
	sermon.TranscriptionStatus = types.StageRunning
	s.publish(sermon, 0.2)

	transcript := &types.Transcript{SermonID: sermon.ID}
	var textParts []string
	var offset float64

	for _, chunk := range chunks {
		ct, err := s.transcriber.TranscribeChunk(ctx, chunk.LocalPath)
		if err != nil {
			s.store.SetTranscriptionStatus(sermon.ID, types.StageFailed, err.Error())
			return fmt.Errorf("chunk %d: %w", chunk.Index, err)
		}

		for _, seg := range ct.Segments {
			transcript.Segments = append(transcript.Segments, types.Segment{
				Start: seg.Start + offset,
				End:   seg.End + offset,
				Text:  seg.Text,
			})
		}
		for _, w := range ct.Words {
			transcript.Words = append(transcript.Words, types.WordTimestamp{
				Word:  w.Word,
				Start: w.Start + offset,
				End:   w.End + offset,
			})
		}
		if ct.Text != "" {
			textParts = append(textParts, ct.Text)
		}
		if transcript.Language == "" {
			transcript.Language = ct.Language
		}

		duration := ct.DurationSeconds
		if duration <= 0 {
			duration = chunk.DurationSeconds
		}
		offset += duration
	}

	transcript.Text = strings.Join(textParts, " ")
	transcript.DurationSeconds = offset

	if !s.tracked(sermon.ID) {
		return errCancelled
	}

	if err := s.store.SaveTranscript(transcript); err != nil {
		s.store.SetTranscriptionStatus(sermon.ID, types.StageFailed, err.Error())
		return err
	}
	if err := s.store.SetTranscriptionStatus(sermon.ID, types.StageSucceeded, ""); err != nil {
		return err
	}
	sermon.TranscriptionStatus = types.StageSucceeded
	sermon.DurationSeconds = transcript.DurationSeconds

	if s.exporter != nil {
		if path, err := s.exporter.ExportTranscript(sermon, transcript); err != nil {
			log.Printf("Job %s: transcript export failed: %v", sermon.ID, err)
		} else {
			log.Printf("Job %s: transcript exported to %s", sermon.ID, path)
		}
	}

	s.publish(sermon, 0.7)
	return nil
}

// runStudyGuide builds enrichment context, calls the generator, classifies
// the returned references and aligns the guide onto the transcript timeline.
func (s *Scheduler) runStudyGuide(ctx context.Context, sermon *types.Sermon) error {
	transcript, err := s.store.GetTranscript(sermon.ID)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}

	if err := s.store.SetStudyGuideStatus(sermon.ID, types.StageRunning, ""); err != nil {
		return err
	}
	sermon.StudyGuideStatus = types.StageRunning
	s.publish(sermon, 0.75)

	explicit := bible.ExtractReferences(transcript.Text)

	// A broken enrichment build degrades to generation without context;
	// classification then treats suggestions as unverifiable.
	ectx, err := s.enricher.BuildContext(explicit)
	if err != nil {
		log.Printf("Job %s: proceeding without enrichment context: %v", sermon.ID, err)
		ectx = nil
	}
	promptContext := ""
	if ectx != nil {
		promptContext = ectx.PromptText
	}

	gen, err := s.generator.Generate(ctx, generator.Request{
		Title:              sermon.Title,
		TranscriptText:     transcript.Text,
		ExplicitReferences: explicit,
		EnrichmentContext:  promptContext,
	})
	if err != nil {
		s.store.SetStudyGuideStatus(sermon.ID, types.StageFailed, err.Error())
		return err
	}

	if !s.tracked(sermon.ID) {
		return errCancelled
	}

	mentioned := mergeUnique(explicit, gen.MentionedReferences)
	references := s.enricher.ClassifyAndEnrich(mentioned, gen.SuggestedReferences, ectx)

	aligner := align.New(transcript.Words, transcript.DurationSeconds)

	outline := make([]types.OutlineSection, 0, len(gen.Outline))
	for _, sec := range gen.Outline {
		outline = append(outline, types.OutlineSection{
			Title:      sec.Title,
			AnchorText: sec.AnchorText,
			Summary:    sec.Summary,
		})
	}

	guide := &types.StudyGuide{
		SermonID:    sermon.ID,
		Title:       gen.Title,
		Summary:     gen.Summary,
		Outline:     aligner.AlignOutline(outline),
		Quotes:      aligner.AlignQuotes(gen.Quotes),
		Insights:    aligner.AlignInsights(gen.Insights),
		References:  references,
		Questions:   gen.Questions,
		GeneratedAt: time.Now(),
	}

	if err := s.store.SaveStudyGuide(guide); err != nil {
		s.store.SetStudyGuideStatus(sermon.ID, types.StageFailed, err.Error())
		return err
	}
	if err := s.store.SetStudyGuideStatus(sermon.ID, types.StageSucceeded, ""); err != nil {
		return err
	}
	sermon.StudyGuideStatus = types.StageSucceeded

	// Outline timestamps are a refinement, not a correctness requirement:
	// the re-resolution below may land after the job reports 100%, and its
	// failure is only logged.
	go s.refineOutline(sermon.ID)

	return nil
}

// refineOutline re-resolves the persisted outline against the full
// transcript and saves the improved timestamps best-effort.
func (s *Scheduler) refineOutline(sermonID string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Outline refinement for %s panicked: %v\n%s", sermonID, r, string(debug.Stack()))
		}
	}()

	guide, err := s.store.GetStudyGuide(sermonID)
	if err != nil {
		log.Printf("Outline refinement for %s skipped: %v", sermonID, err)
		return
	}
	transcript, err := s.store.GetTranscript(sermonID)
	if err != nil {
		log.Printf("Outline refinement for %s skipped: %v", sermonID, err)
		return
	}

	aligner := align.New(transcript.Words, transcript.DurationSeconds)
	guide.Outline = aligner.AlignOutline(guide.Outline)

	if err := s.store.SaveStudyGuide(guide); err != nil {
		log.Printf("Outline refinement for %s not persisted: %v", sermonID, err)
	}
}

// mergeUnique concatenates two string slices, dropping duplicates while
// preserving order.
func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
