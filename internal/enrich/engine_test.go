package enrich

import (
	"strings"
	"testing"

	"sermon-engine/internal/bible"
	"sermon-engine/internal/types"
)

// fakeIndex serves canned cross-reference edges keyed by canonical range id.
type fakeIndex struct {
	complete bool
	outgoing map[string][]types.CrossRefEdge
	incoming map[string][]types.CrossRefEdge
	verses   map[string]string
}

func (f *fakeIndex) Outgoing(v types.VerseRange) ([]types.CrossRefEdge, error) {
	return f.outgoing[bible.CanonicalID(v)], nil
}

func (f *fakeIndex) Incoming(v types.VerseRange) ([]types.CrossRefEdge, error) {
	return f.incoming[bible.CanonicalID(v)], nil
}

func (f *fakeIndex) VerseText(v types.VerseRange) (string, error) {
	return f.verses[bible.CanonicalID(v)], nil
}

func (f *fakeIndex) Insights(v types.VerseRange, limit int) ([]string, error) {
	return nil, nil
}

func (f *fakeIndex) Complete() bool { return f.complete }

func mustRange(t *testing.T, ref string) types.VerseRange {
	t.Helper()
	v, err := bible.Parse(ref)
	if err != nil {
		t.Fatalf("Parse(%q): %v", ref, err)
	}
	return v
}

func findRef(t *testing.T, refs []types.EnrichedReference, raw string) types.EnrichedReference {
	t.Helper()
	for _, r := range refs {
		if r.Raw == raw {
			return r
		}
	}
	t.Fatalf("reference %q not found in %v", raw, refs)
	return types.EnrichedReference{}
}

func TestClassifySuggestedVerifiedByOutgoingEdge(t *testing.T) {
	john := mustRange(t, "John 3:16")
	numbers := mustRange(t, "Numbers 21:9")

	index := &fakeIndex{
		complete: true,
		outgoing: map[string][]types.CrossRefEdge{
			bible.CanonicalID(john): {{Source: john, Target: numbers, Weight: 0.9}},
		},
		incoming: map[string][]types.CrossRefEdge{},
	}
	engine := NewEngine(index, DefaultOptions())

	ctx, err := engine.BuildContext([]string{"John 3:16"})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	refs := engine.ClassifyAndEnrich([]string{"John 3:16"}, []string{"Numbers 21:9"}, ctx)

	explicit := findRef(t, refs, "John 3:16")
	if !explicit.Explicit || explicit.Status != types.VerifyVerified {
		t.Errorf("explicit ref = %+v, want explicit verified", explicit)
	}

	suggested := findRef(t, refs, "Numbers 21:9")
	if suggested.Status != types.VerifyVerified {
		t.Errorf("suggested status = %q, want verified", suggested.Status)
	}
	if len(suggested.Evidence) != 1 || suggested.Evidence[0] != "John 3:16" {
		t.Errorf("evidence = %v, want [John 3:16]", suggested.Evidence)
	}
	if len(suggested.CrossRefs) != 1 || suggested.CrossRefs[0] != "cited by John 3:16" {
		t.Errorf("cross refs = %v, want [cited by John 3:16]", suggested.CrossRefs)
	}
}

func TestClassifySuggestedPartialByIncomingEdge(t *testing.T) {
	john := mustRange(t, "John 3:16")
	romans := mustRange(t, "Romans 5:8")

	index := &fakeIndex{
		complete: true,
		outgoing: map[string][]types.CrossRefEdge{},
		incoming: map[string][]types.CrossRefEdge{
			bible.CanonicalID(john): {{Source: romans, Target: john, Weight: 0.7}},
		},
	}
	engine := NewEngine(index, DefaultOptions())

	ctx, err := engine.BuildContext([]string{"John 3:16"})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	refs := engine.ClassifyAndEnrich(nil, []string{"Romans 5:8"}, ctx)
	suggested := findRef(t, refs, "Romans 5:8")
	if suggested.Status != types.VerifyPartial {
		t.Errorf("status = %q, want partial", suggested.Status)
	}
	if len(suggested.CrossRefs) != 1 || suggested.CrossRefs[0] != "cites John 3:16" {
		t.Errorf("cross refs = %v, want [cites John 3:16]", suggested.CrossRefs)
	}
}

func TestClassifySuggestedNoEdgeCompleteIndex(t *testing.T) {
	index := &fakeIndex{complete: true}
	engine := NewEngine(index, DefaultOptions())

	ctx, err := engine.BuildContext([]string{"John 3:16"})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	refs := engine.ClassifyAndEnrich(nil, []string{"Genesis 1:1"}, ctx)
	suggested := findRef(t, refs, "Genesis 1:1")
	if suggested.Status != types.VerifyPartial {
		t.Errorf("status = %q, want partial (valid but unconnected)", suggested.Status)
	}
	if suggested.Status == types.VerifyVerified {
		t.Error("an edgeless suggestion must never be verified")
	}
	if suggested.Note == "" {
		t.Error("expected an explanatory note")
	}
}

func TestClassifySuggestedNoEdgePartialIndex(t *testing.T) {
	index := &fakeIndex{complete: false}
	engine := NewEngine(index, DefaultOptions())

	ctx, err := engine.BuildContext([]string{"John 3:16"})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if !ctx.Partial {
		t.Fatal("context should be marked partial")
	}

	refs := engine.ClassifyAndEnrich(nil, []string{"Genesis 1:1"}, ctx)
	suggested := findRef(t, refs, "Genesis 1:1")
	if suggested.Status != types.VerifyUnknown {
		t.Errorf("status = %q, want unknown with partial data", suggested.Status)
	}
}

func TestClassifyUnparseableReference(t *testing.T) {
	engine := NewEngine(&fakeIndex{complete: true}, DefaultOptions())

	refs := engine.ClassifyAndEnrich([]string{"not a reference"}, []string{"also garbage"}, nil)
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	for _, r := range refs {
		if r.Status != types.VerifyUnverified {
			t.Errorf("%q status = %q, want unverified", r.Raw, r.Status)
		}
	}
}

func TestClassifySuggestedNilContext(t *testing.T) {
	engine := NewEngine(&fakeIndex{complete: true}, DefaultOptions())

	refs := engine.ClassifyAndEnrich(nil, []string{"John 3:16"}, nil)
	suggested := findRef(t, refs, "John 3:16")
	if suggested.Status != types.VerifyUnknown {
		t.Errorf("status = %q, want unknown without context", suggested.Status)
	}
}

func TestRangeOverlapMatchesAnyVerse(t *testing.T) {
	john := mustRange(t, "John 3:16")
	psalm := mustRange(t, "Psalm 23:1-6")

	index := &fakeIndex{
		complete: true,
		outgoing: map[string][]types.CrossRefEdge{
			bible.CanonicalID(john): {{Source: john, Target: psalm, Weight: 0.5}},
		},
		incoming: map[string][]types.CrossRefEdge{},
	}
	engine := NewEngine(index, DefaultOptions())

	ctx, err := engine.BuildContext([]string{"John 3:16"})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	// A suggestion overlapping one verse of the cited range is verified.
	refs := engine.ClassifyAndEnrich(nil, []string{"Psalm 23:4"}, ctx)
	suggested := findRef(t, refs, "Psalm 23:4")
	if suggested.Status != types.VerifyVerified {
		t.Errorf("status = %q, want verified via range overlap", suggested.Status)
	}
}

func TestBuildContextCapsExplicitRefs(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxExplicitRefs = 2
	engine := NewEngine(&fakeIndex{complete: true}, opts)

	ctx, err := engine.BuildContext([]string{"John 3:16", "Romans 8:28", "Psalm 23:1"})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(ctx.Explicit) != 2 {
		t.Errorf("got %d explicit refs, want 2", len(ctx.Explicit))
	}
}

func TestBuildContextBudgetsPromptText(t *testing.T) {
	john := mustRange(t, "John 3:16")
	opts := DefaultOptions()
	opts.MaxPromptContextChars = 40

	index := &fakeIndex{
		complete: true,
		verses: map[string]string{
			bible.CanonicalID(john): strings.Repeat("for God so loved the world ", 20),
		},
	}
	engine := NewEngine(index, opts)

	ctx, err := engine.BuildContext([]string{"John 3:16"})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if got := len(ctx.PromptText); got > opts.MaxPromptContextChars+len("…") {
		t.Errorf("prompt text is %d bytes, budget is %d", got, opts.MaxPromptContextChars)
	}
}

func TestClassifyDeduplicatesByCanonicalID(t *testing.T) {
	engine := NewEngine(&fakeIndex{complete: true}, DefaultOptions())

	ctx, err := engine.BuildContext([]string{"John 3:16"})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	// The same verse appearing as explicit and suggested yields one entry,
	// keeping the explicit verdict.
	refs := engine.ClassifyAndEnrich([]string{"John 3:16"}, []string{"Jn 3:16"}, ctx)
	if len(refs) != 1 {
		t.Fatalf("got %d refs, want 1", len(refs))
	}
	if !refs[0].Explicit || refs[0].Status != types.VerifyVerified {
		t.Errorf("ref = %+v, want explicit verified", refs[0])
	}
}
