package bible

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"sermon-engine/internal/types"
)

// refPattern matches references like "John 3:16", "1 Cor 13:4-7", "Psalm 23:1".
// The book part allows an optional leading ordinal (1/2/3) and trailing period.
var refPattern = regexp.MustCompile(`(?i)\b([1-3]?\s?[A-Za-z]+(?:\s(?:of\s)?[A-Za-z]+)*?)\.?\s+(\d{1,3}):(\d{1,3})(?:\s?[-–]\s?(\d{1,3}))?`)

// Parse converts a human reference string into a VerseRange.
func Parse(ref string) (types.VerseRange, error) {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return types.VerseRange{}, fmt.Errorf("unrecognized reference format: %q", ref)
	}

	bookID, _, ok := resolveBook(m[1])
	if !ok {
		return types.VerseRange{}, fmt.Errorf("unknown book name: %q", m[1])
	}

	chapter, _ := strconv.Atoi(m[2])
	verseStart, _ := strconv.Atoi(m[3])
	verseEnd := verseStart
	if m[4] != "" {
		verseEnd, _ = strconv.Atoi(m[4])
	}
	if chapter < 1 || verseStart < 1 || verseEnd < verseStart {
		return types.VerseRange{}, fmt.Errorf("invalid chapter/verse numbers in %q", ref)
	}

	return types.VerseRange{
		BookID:     bookID,
		Chapter:    chapter,
		VerseStart: verseStart,
		VerseEnd:   verseEnd,
	}, nil
}

// CanonicalID returns the normalized map key for a verse range, e.g. "43.3.16-18".
func CanonicalID(v types.VerseRange) string {
	return fmt.Sprintf("%d.%d.%d-%d", v.BookID, v.Chapter, v.VerseStart, v.VerseEnd)
}

// VerseID returns the key of a single verse, e.g. "43.3.16". Used when an
// edge endpoint is matched verse-by-verse against a range.
func VerseID(bookID, chapter, verse int) string {
	return fmt.Sprintf("%d.%d.%d", bookID, chapter, verse)
}

// Format renders a verse range for display, e.g. "John 3:16-18".
func Format(v types.VerseRange) string {
	name := BookName(v.BookID)
	if name == "" {
		name = fmt.Sprintf("Book %d", v.BookID)
	}
	if v.VerseEnd > v.VerseStart {
		return fmt.Sprintf("%s %d:%d-%d", name, v.Chapter, v.VerseStart, v.VerseEnd)
	}
	return fmt.Sprintf("%s %d:%d", name, v.Chapter, v.VerseStart)
}

// resolveBook finds the longest word suffix of candidate that names a book.
// The regex's book group expands leftward through preceding prose ("As Paul
// says in Romans"), so resolution walks suffixes until one looks up.
func resolveBook(candidate string) (int, string, bool) {
	words := strings.Fields(candidate)
	for i := 0; i < len(words); i++ {
		name := strings.Join(words[i:], " ")
		if id, ok := lookupBook(name); ok {
			return id, name, true
		}
	}
	return 0, "", false
}

// ExtractReferences scans free text for verse references and returns them in
// order of appearance, deduplicated, with any leading prose stripped from the
// book name.
func ExtractReferences(text string) []string {
	matches := refPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var refs []string
	for _, m := range matches {
		_, name, ok := resolveBook(m[1])
		if !ok {
			continue
		}
		raw := fmt.Sprintf("%s %s:%s", name, m[2], m[3])
		if m[4] != "" {
			raw += "-" + m[4]
		}
		v, err := Parse(raw)
		if err != nil {
			continue
		}
		key := CanonicalID(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, raw)
	}
	return refs
}
