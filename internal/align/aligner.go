package align

import (
	"strings"
	"unicode"

	"sermon-engine/internal/types"
)

const (
	// minPhraseTokens is the minimum normalized token count for an
	// exact-phrase match to be trusted.
	minPhraseTokens = 3

	// keywordWindowTokens is the sliding window width for keyword clustering.
	keywordWindowTokens = 80

	// minKeywordLen filters title tokens down to meaningful keywords.
	minKeywordLen = 4

	// quoteScoreThreshold is the minimum overlap score for a quote match.
	quoteScoreThreshold = 0.6

	confidenceAnchor   = 1.0
	confidenceTitle    = 0.95
	confidenceFallback = 0.30
)

// token is one normalized transcript token and the word it came from.
type token struct {
	text      string
	wordIndex int
}

// Match resolves a text fragment to a transcript word position.
type Match struct {
	WordIndex  int
	Confidence float64
}

// Aligner resolves generated text fragments back onto the transcript's
// immutable word-timestamp timeline. Pure and deterministic; no I/O.
type Aligner struct {
	words    []types.WordTimestamp
	duration float64

	// full holds every normalized token; filtered drops sub-2-char noise
	// tokens and is what keyword and quote matching run against.
	full     []token
	filtered []token

	// fullIndex maps a token to its positions in full, used to seed
	// exact-phrase candidate verification.
	fullIndex map[string][]int
}

// New builds an aligner over a word-timestamp sequence.
func New(words []types.WordTimestamp, totalDuration float64) *Aligner {
	a := &Aligner{
		words:     words,
		duration:  totalDuration,
		fullIndex: make(map[string][]int),
	}

	for i, w := range words {
		for _, t := range normalizeTokens(w.Word) {
			pos := len(a.full)
			a.full = append(a.full, token{text: t, wordIndex: i})
			a.fullIndex[t] = append(a.fullIndex[t], pos)
			if len(t) >= 2 {
				a.filtered = append(a.filtered, token{text: t, wordIndex: i})
			}
		}
	}
	return a
}

// startAt converts a word index to absolute seconds.
func (a *Aligner) startAt(wordIndex int) float64 {
	if wordIndex < 0 || wordIndex >= len(a.words) {
		return 0
	}
	return a.words[wordIndex].Start
}

// MatchSection runs the cascading strategy for an outline heading: anchor
// exact phrase, then title exact phrase, then keyword cluster.
func (a *Aligner) MatchSection(title, anchorText string) (Match, bool) {
	if m, ok := a.matchExactPhrase(anchorText, confidenceAnchor); ok {
		return m, true
	}
	if m, ok := a.matchExactPhrase(title, confidenceTitle); ok {
		return m, true
	}
	if m, ok := a.matchKeywordCluster(title); ok {
		return m, true
	}
	return Match{}, false
}

// matchExactPhrase searches for the full normalized token run of phrase in
// the transcript. The comparison runs over the ungapped token stream; noise
// tokens are not dropped here.
func (a *Aligner) matchExactPhrase(phrase string, confidence float64) (Match, bool) {
	tokens := normalizeTokens(phrase)
	if len(tokens) < minPhraseTokens {
		return Match{}, false
	}

	for _, start := range a.fullIndex[tokens[0]] {
		if start+len(tokens) > len(a.full) {
			continue
		}
		matched := true
		for j := 1; j < len(tokens); j++ {
			if a.full[start+j].text != tokens[j] {
				matched = false
				break
			}
		}
		if matched {
			return Match{WordIndex: a.full[start].wordIndex, Confidence: confidence}, true
		}
	}
	return Match{}, false
}

// matchKeywordCluster finds the 80-token window containing the most distinct
// title keywords. At least two distinct keywords must land in the window;
// confidence scales 0.5-0.9 with cluster density.
func (a *Aligner) matchKeywordCluster(title string) (Match, bool) {
	keywords := make(map[string]bool)
	for _, t := range normalizeTokens(title) {
		if len(t) >= minKeywordLen {
			keywords[t] = true
		}
	}
	if len(keywords) < 2 {
		return Match{}, false
	}

	// Positions (in the filtered stream) of any keyword occurrence.
	type hit struct {
		pos     int
		keyword string
	}
	var hits []hit
	for pos, t := range a.filtered {
		if keywords[t.text] {
			hits = append(hits, hit{pos: pos, keyword: t.text})
		}
	}
	if len(hits) == 0 {
		return Match{}, false
	}

	bestDistinct := 0
	bestStart := -1
	counts := make(map[string]int)
	lo := 0
	for hi := 0; hi < len(hits); hi++ {
		counts[hits[hi].keyword]++
		for hits[hi].pos-hits[lo].pos >= keywordWindowTokens {
			counts[hits[lo].keyword]--
			if counts[hits[lo].keyword] == 0 {
				delete(counts, hits[lo].keyword)
			}
			lo++
		}
		if len(counts) > bestDistinct {
			bestDistinct = len(counts)
			bestStart = hits[lo].pos
		}
	}

	if bestDistinct < 2 {
		return Match{}, false
	}

	density := float64(bestDistinct) / float64(len(keywords))
	if density > 1 {
		density = 1
	}
	confidence := 0.5 + 0.4*density
	return Match{WordIndex: a.filtered[bestStart].wordIndex, Confidence: confidence}, true
}

// MatchQuote scores sliding windows of transcript tokens against the quote's
// tokens, tolerating edit distance 1 per token. Matches below the 0.6
// threshold are rejected and the quote stays unanchored.
func (a *Aligner) MatchQuote(text string) (Match, bool) {
	quote := filteredTokens(text)
	if len(quote) == 0 || len(a.filtered) == 0 {
		return Match{}, false
	}

	width := len(quote)
	bestScore := 0.0
	bestStart := -1

	for start := 0; start+width <= len(a.filtered); start++ {
		used := make([]bool, width)
		matched := 0
		for _, qt := range quote {
			for j := 0; j < width; j++ {
				if used[j] {
					continue
				}
				if tokensEqualFuzzy(qt, a.filtered[start+j].text) {
					used[j] = true
					matched++
					break
				}
			}
		}
		score := float64(matched) / float64(len(quote))
		if score > bestScore {
			bestScore = score
			bestStart = start
		}
	}

	if bestStart < 0 || bestScore < quoteScoreThreshold {
		return Match{}, false
	}
	return Match{WordIndex: a.filtered[bestStart].wordIndex, Confidence: bestScore}, true
}

// AlignOutline attaches start/end times to every section. Sections without a
// match receive a proportional fallback position so each one gets a
// timestamp. End times are derived, never matched: each section ends where
// the next begins, and the last ends at total duration.
func (a *Aligner) AlignOutline(sections []types.OutlineSection) []types.OutlineSection {
	out := make([]types.OutlineSection, len(sections))
	copy(out, sections)

	for i := range out {
		if m, ok := a.MatchSection(out[i].Title, out[i].AnchorText); ok {
			start := a.startAt(m.WordIndex)
			out[i].StartSeconds = &start
			out[i].Confidence = m.Confidence
		}
	}

	for i := range out {
		if out[i].StartSeconds == nil {
			start := a.duration * float64(i) / float64(len(out))
			out[i].StartSeconds = &start
			out[i].Confidence = confidenceFallback
		}
	}

	for i := range out {
		var end float64
		if i+1 < len(out) {
			end = *out[i+1].StartSeconds
		} else {
			end = a.duration
		}
		if end < *out[i].StartSeconds {
			end = *out[i].StartSeconds
		}
		out[i].EndSeconds = &end
	}
	return out
}

// AlignQuotes anchors each quote via overlap matching; unmatched quotes keep
// a nil start time.
func (a *Aligner) AlignQuotes(quotes []string) []types.GuideQuote {
	out := make([]types.GuideQuote, 0, len(quotes))
	for _, q := range quotes {
		gq := types.GuideQuote{Text: q}
		if m, ok := a.MatchQuote(q); ok {
			start := a.startAt(m.WordIndex)
			gq.StartSeconds = &start
			gq.Confidence = m.Confidence
		}
		out = append(out, gq)
	}
	return out
}

// AlignInsights anchors insights with the exact-phrase and keyword
// strategies. Insights are a refinement, so there is no fallback position.
func (a *Aligner) AlignInsights(insights []string) []types.GuideInsight {
	out := make([]types.GuideInsight, 0, len(insights))
	for _, text := range insights {
		gi := types.GuideInsight{Text: text}
		if m, ok := a.matchExactPhrase(text, confidenceTitle); ok {
			start := a.startAt(m.WordIndex)
			gi.StartSeconds = &start
			gi.Confidence = m.Confidence
		} else if m, ok := a.matchKeywordCluster(text); ok {
			start := a.startAt(m.WordIndex)
			gi.StartSeconds = &start
			gi.Confidence = m.Confidence
		}
		out = append(out, gi)
	}
	return out
}

// normalizeTokens lowercases, strips punctuation and splits on whitespace.
func normalizeTokens(s string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

// filteredTokens normalizes and drops sub-2-char noise tokens.
func filteredTokens(s string) []string {
	tokens := normalizeTokens(s)
	out := tokens[:0]
	for _, t := range tokens {
		if len(t) >= 2 {
			out = append(out, t)
		}
	}
	return out
}

// tokensEqualFuzzy reports whether two tokens are identical or within
// Levenshtein distance 1, tolerating minor transcription error.
func tokensEqualFuzzy(a, b string) bool {
	if a == b {
		return true
	}
	la, lb := len(a), len(b)
	if la-lb > 1 || lb-la > 1 {
		return false
	}
	// Same length: allow one substitution.
	if la == lb {
		diffs := 0
		for i := 0; i < la; i++ {
			if a[i] != b[i] {
				diffs++
				if diffs > 1 {
					return false
				}
			}
		}
		return true
	}
	// Length differs by one: allow one insertion/deletion.
	longer, shorter := a, b
	if lb > la {
		longer, shorter = b, a
	}
	i, j, skips := 0, 0, 0
	for i < len(longer) && j < len(shorter) {
		if longer[i] == shorter[j] {
			i++
			j++
			continue
		}
		skips++
		if skips > 1 {
			return false
		}
		i++
	}
	return true
}
