package enrich

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"sermon-engine/internal/bible"
	"sermon-engine/internal/types"
)

// ReferenceIndex is the read-only cross-reference query surface the engine
// needs. Implemented by bible.Index; faked in tests.
type ReferenceIndex interface {
	Outgoing(v types.VerseRange) ([]types.CrossRefEdge, error)
	Incoming(v types.VerseRange) ([]types.CrossRefEdge, error)
	VerseText(v types.VerseRange) (string, error)
	Insights(v types.VerseRange, limit int) ([]string, error)
	Complete() bool
}

// Options bound the prompt-facing context. The verification index itself is
// never capped per range: it must be complete to avoid false negatives.
type Options struct {
	MaxExplicitRefs       int
	MaxCrossRefsPerRef    int
	MaxGlobalCrossRefs    int
	MaxInsightsPerRef     int
	MaxPromptContextChars int
}

// DefaultOptions returns the standard context budget.
func DefaultOptions() Options {
	return Options{
		MaxExplicitRefs:       10,
		MaxCrossRefsPerRef:    5,
		MaxGlobalCrossRefs:    30,
		MaxInsightsPerRef:     2,
		MaxPromptContextChars: 2000,
	}
}

// rangeExpandLimit bounds per-verse key expansion of a range endpoint.
const rangeExpandLimit = 30

// Engine builds enrichment context before generation and classifies
// AI-returned citations against it afterward.
type Engine struct {
	index ReferenceIndex
	opts  Options
}

// NewEngine creates an enrichment engine over a reference index.
func NewEngine(index ReferenceIndex, opts Options) *Engine {
	if opts.MaxExplicitRefs <= 0 {
		opts = DefaultOptions()
	}
	return &Engine{index: index, opts: opts}
}

// Context is the verification index plus the token-budgeted prompt summary,
// built fresh per study-guide generation and never shared across jobs.
type Context struct {
	Explicit   []types.VerseRange
	Partial    bool
	PromptText string

	// citedBy maps a verse-level key to the explicit references that have an
	// outgoing cross-reference edge to it.
	citedBy map[string][]string
	// citers maps a verse-level key to the explicit references it cites,
	// i.e. the sources of edges arriving at an explicit reference.
	citers map[string][]string
}

// ParseReferences parses reference strings best-effort; unparseable entries
// are dropped, not errored.
func (e *Engine) ParseReferences(refs []string) []types.VerseRange {
	var ranges []types.VerseRange
	seen := make(map[string]bool)
	for _, raw := range refs {
		v, err := bible.Parse(raw)
		if err != nil {
			continue
		}
		key := bible.CanonicalID(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		ranges = append(ranges, v)
	}
	return ranges
}

// BuildContext assembles the verification index and prompt summary for the
// given explicit references. Any index query error aborts the build; the
// caller degrades to generation without context.
func (e *Engine) BuildContext(refs []string) (*Context, error) {
	if e.index == nil {
		return nil, fmt.Errorf("no reference index available")
	}
	ranges := e.ParseReferences(refs)
	if len(ranges) > e.opts.MaxExplicitRefs {
		ranges = ranges[:e.opts.MaxExplicitRefs]
	}

	ctx := &Context{
		Explicit: ranges,
		Partial:  !e.index.Complete(),
		citedBy:  make(map[string][]string),
		citers:   make(map[string][]string),
	}

	var prompt strings.Builder
	globalCrossRefs := 0

	for _, v := range ranges {
		display := bible.Format(v)

		outgoing, err := e.index.Outgoing(v)
		if err != nil {
			return nil, fmt.Errorf("outgoing edges for %s: %w", display, err)
		}
		incoming, err := e.index.Incoming(v)
		if err != nil {
			return nil, fmt.Errorf("incoming edges for %s: %w", display, err)
		}

		// Index every edge uncapped; only the prompt text below is budgeted.
		for _, edge := range outgoing {
			for _, key := range verseKeys(edge.Target) {
				ctx.citedBy[key] = appendUnique(ctx.citedBy[key], display)
			}
		}
		for _, edge := range incoming {
			for _, key := range verseKeys(edge.Source) {
				ctx.citers[key] = appendUnique(ctx.citers[key], display)
			}
		}

		prompt.WriteString(display)
		if text, err := e.index.VerseText(v); err == nil && text != "" {
			prompt.WriteString(" — " + text)
		}
		prompt.WriteString("\n")

		if len(outgoing) > 0 && globalCrossRefs < e.opts.MaxGlobalCrossRefs {
			prompt.WriteString("  Cross-references: ")
			shown := 0
			for _, edge := range outgoing {
				if shown >= e.opts.MaxCrossRefsPerRef || globalCrossRefs >= e.opts.MaxGlobalCrossRefs {
					break
				}
				if shown > 0 {
					prompt.WriteString("; ")
				}
				prompt.WriteString(fmt.Sprintf("%s (%.2f)", bible.Format(edge.Target), edge.Weight))
				shown++
				globalCrossRefs++
			}
			prompt.WriteString("\n")
		}

		if insights, err := e.index.Insights(v, e.opts.MaxInsightsPerRef); err == nil {
			for _, insight := range insights {
				prompt.WriteString("  Commentary: " + insight + "\n")
			}
		}
	}

	ctx.PromptText = truncate(prompt.String(), e.opts.MaxPromptContextChars)
	return ctx, nil
}

// ClassifyAndEnrich classifies citations against the verification context.
// Explicit references (stated in the transcript) are inherently verified.
// For suggestions the tie-break order prefers the most specific evidence:
// outgoing edge, then incoming edge, then the no-edge fallbacks.
func (e *Engine) ClassifyAndEnrich(explicit, suggested []string, ctx *Context) []types.EnrichedReference {
	var out []types.EnrichedReference
	seen := make(map[string]bool)

	for _, raw := range explicit {
		ref := e.classifyExplicit(raw)
		if ref.CanonicalID != "" && seen[ref.CanonicalID] {
			continue
		}
		seen[ref.CanonicalID] = true
		out = append(out, ref)
	}
	for _, raw := range suggested {
		ref := e.classifySuggested(raw, ctx)
		if ref.CanonicalID != "" && seen[ref.CanonicalID] {
			continue
		}
		seen[ref.CanonicalID] = true
		out = append(out, ref)
	}
	return out
}

func (e *Engine) classifyExplicit(raw string) types.EnrichedReference {
	v, err := bible.Parse(raw)
	if err != nil {
		return types.EnrichedReference{
			Raw:      raw,
			Explicit: true,
			Status:   types.VerifyUnverified,
			Note:     err.Error(),
		}
	}
	return types.EnrichedReference{
		Raw:         raw,
		CanonicalID: bible.CanonicalID(v),
		Range:       &v,
		Display:     bible.Format(v),
		Explicit:    true,
		Status:      types.VerifyVerified,
	}
}

func (e *Engine) classifySuggested(raw string, ctx *Context) types.EnrichedReference {
	v, err := bible.Parse(raw)
	if err != nil {
		return types.EnrichedReference{
			Raw:    raw,
			Status: types.VerifyUnverified,
			Note:   err.Error(),
		}
	}

	ref := types.EnrichedReference{
		Raw:         raw,
		CanonicalID: bible.CanonicalID(v),
		Range:       &v,
		Display:     bible.Format(v),
	}

	if ctx == nil {
		ref.Status = types.VerifyUnknown
		ref.Note = "no verification context available"
		return ref
	}

	keys := verseKeys(v)

	// (1) An explicit reference cites this suggestion directly.
	var evidence []string
	for _, key := range keys {
		for _, src := range ctx.citedBy[key] {
			evidence = appendUnique(evidence, src)
		}
	}
	if len(evidence) > 0 {
		ref.Status = types.VerifyVerified
		ref.Evidence = evidence
		for _, src := range evidence {
			ref.CrossRefs = append(ref.CrossRefs, "cited by "+src)
		}
		return ref
	}

	// (2) The suggestion cites an explicit reference.
	for _, key := range keys {
		for _, dst := range ctx.citers[key] {
			evidence = appendUnique(evidence, dst)
		}
	}
	if len(evidence) > 0 {
		ref.Status = types.VerifyPartial
		ref.Evidence = evidence
		for _, dst := range evidence {
			ref.CrossRefs = append(ref.CrossRefs, "cites "+dst)
		}
		return ref
	}

	// (3) No edge, but the index is known-partial: a real connection cannot
	// be ruled out.
	if ctx.Partial {
		ref.Status = types.VerifyUnknown
		ref.Note = "cross-reference data is partial; connection could not be checked"
		return ref
	}

	// (4) No edge in complete data.
	ref.Status = types.VerifyPartial
	ref.Note = "valid reference not present in cross-reference data"
	return ref
}

// verseKeys expands a range into per-verse keys so edges and suggestions
// match on any overlapping verse.
func verseKeys(v types.VerseRange) []string {
	end := v.VerseEnd
	if end < v.VerseStart {
		end = v.VerseStart
	}
	if end-v.VerseStart >= rangeExpandLimit {
		end = v.VerseStart + rangeExpandLimit - 1
	}
	keys := make([]string, 0, end-v.VerseStart+1)
	for verse := v.VerseStart; verse <= end; verse++ {
		keys = append(keys, bible.VerseID(v.BookID, v.Chapter, verse))
	}
	return keys
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
