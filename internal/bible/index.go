package bible

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"sermon-engine/internal/types"
)

// crossRefSourceID is the data_sources row that carries the completeness flag
// for the imported cross-reference relation.
const crossRefSourceID = "openbible-crossrefs"

// Index is a read-only query layer over the bible database produced by the
// data pipeline (verses, cross_references, bible_insights, data_sources).
type Index struct {
	db            *sql.DB
	translationID string
	complete      bool
}

// OpenIndex opens the bible database in read-only mode.
func OpenIndex(dbPath, translationID string) (*Index, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("bible database not found: %w", err)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open bible database: %w", err)
	}
	if translationID == "" {
		translationID = "web"
	}

	ix := &Index{db: db, translationID: translationID}
	ix.complete = ix.readCompleteness()
	return ix, nil
}

// readCompleteness reads the explicit completeness flag recorded by the data
// pipeline. A missing row or column means sample/partial data.
func (ix *Index) readCompleteness() bool {
	var complete int
	err := ix.db.QueryRow(
		`SELECT is_complete FROM data_sources WHERE id = ?`, crossRefSourceID).Scan(&complete)
	if err != nil {
		log.Printf("Cross-reference completeness flag unavailable, treating data as partial: %v", err)
		return false
	}
	return complete == 1
}

// Complete reports whether the cross-reference relation is a full import.
// Classification treats missing edges in partial data as inconclusive.
func (ix *Index) Complete() bool {
	return ix.complete
}

// Outgoing returns cross-reference edges whose source overlaps the given
// range, strongest first.
func (ix *Index) Outgoing(v types.VerseRange) ([]types.CrossRefEdge, error) {
	return ix.queryEdges(v, "source")
}

// Incoming returns edges whose target overlaps the given range, i.e. the
// references that cite it, strongest first.
func (ix *Index) Incoming(v types.VerseRange) ([]types.CrossRefEdge, error) {
	return ix.queryEdges(v, "target")
}

func (ix *Index) queryEdges(v types.VerseRange, side string) ([]types.CrossRefEdge, error) {
	if side != "source" && side != "target" {
		return nil, fmt.Errorf("invalid edge side %q", side)
	}
	query := fmt.Sprintf(`
	SELECT source_book_id, source_chapter, source_verse_start, source_verse_end,
	       target_book_id, target_chapter, target_verse_start, target_verse_end, weight
	FROM cross_references
	WHERE %[1]s_book_id = ? AND %[1]s_chapter = ?
	  AND %[1]s_verse_start <= ? AND %[1]s_verse_end >= ?
	ORDER BY weight DESC`, side)

	rows, err := ix.db.Query(query, v.BookID, v.Chapter, v.VerseEnd, v.VerseStart)
	if err != nil {
		return nil, fmt.Errorf("cross-reference query failed: %w", err)
	}
	defer rows.Close()

	var edges []types.CrossRefEdge
	for rows.Next() {
		var e types.CrossRefEdge
		if err := rows.Scan(
			&e.Source.BookID, &e.Source.Chapter, &e.Source.VerseStart, &e.Source.VerseEnd,
			&e.Target.BookID, &e.Target.Chapter, &e.Target.VerseStart, &e.Target.VerseEnd,
			&e.Weight); err != nil {
			return nil, fmt.Errorf("cross-reference scan failed: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// VerseText returns the joined text of a verse range in the configured
// translation, or "" if absent.
func (ix *Index) VerseText(v types.VerseRange) (string, error) {
	rows, err := ix.db.Query(
		`SELECT text FROM verses
		 WHERE translation_id = ? AND book_id = ? AND chapter = ? AND verse BETWEEN ? AND ?
		 ORDER BY verse`,
		ix.translationID, v.BookID, v.Chapter, v.VerseStart, v.VerseEnd)
	if err != nil {
		return "", fmt.Errorf("verse text query failed: %w", err)
	}
	defer rows.Close()

	var parts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " "), rows.Err()
}

// Insights returns up to limit commentary items overlapping the range,
// best quality tier first.
func (ix *Index) Insights(v types.VerseRange, limit int) ([]string, error) {
	rows, err := ix.db.Query(
		`SELECT title, content FROM bible_insights
		 WHERE book_id = ? AND chapter = ? AND verse_start <= ? AND verse_end >= ?
		 ORDER BY quality_tier ASC LIMIT ?`,
		v.BookID, v.Chapter, v.VerseEnd, v.VerseStart, limit)
	if err != nil {
		return nil, fmt.Errorf("insights query failed: %w", err)
	}
	defer rows.Close()

	var insights []string
	for rows.Next() {
		var title, content string
		if err := rows.Scan(&title, &content); err != nil {
			return nil, err
		}
		if title != "" {
			insights = append(insights, title+": "+content)
		} else {
			insights = append(insights, content)
		}
	}
	return insights, rows.Err()
}

// Close closes the database connection
func (ix *Index) Close() error {
	return ix.db.Close()
}
