package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"sermon-engine/internal/types"
)

// Store handles SQLite persistence of sermons, chunks, transcripts and guides.
//
// Status setters update only the columns owned by their stage, so concurrent
// stage executions never clobber each other's fields.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the sermon database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS sermons (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0,
		transcription_status TEXT NOT NULL DEFAULT 'pending',
		transcription_error TEXT NOT NULL DEFAULT '',
		study_guide_status TEXT NOT NULL DEFAULT 'pending',
		study_guide_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		sermon_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		local_path TEXT NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0,
		upload_status TEXT NOT NULL DEFAULT 'none',
		drive_file_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (sermon_id, idx)
	);

	CREATE TABLE IF NOT EXISTS transcripts (
		sermon_id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		duration_seconds REAL NOT NULL DEFAULT 0,
		segments_json TEXT NOT NULL DEFAULT '[]',
		words_json TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS study_guides (
		sermon_id TEXT PRIMARY KEY,
		guide_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sermons_created_at ON sermons(created_at);
	CREATE INDEX IF NOT EXISTS idx_chunks_upload_status ON chunks(upload_status);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateSermon inserts a new sermon with both stages pending.
func (s *Store) CreateSermon(id, title string) error {
	_, err := s.db.Exec(
		`INSERT INTO sermons (id, title, transcription_status, study_guide_status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, title, types.StagePending, types.StagePending, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create sermon: %w", err)
	}
	return nil
}

// GetSermon retrieves a sermon by id.
func (s *Store) GetSermon(id string) (*types.Sermon, error) {
	row := s.db.QueryRow(
		`SELECT id, title, duration_seconds, transcription_status, transcription_error,
		        study_guide_status, study_guide_error, created_at
		 FROM sermons WHERE id = ?`, id)

	var sermon types.Sermon
	err := row.Scan(&sermon.ID, &sermon.Title, &sermon.DurationSeconds,
		&sermon.TranscriptionStatus, &sermon.TranscriptionError,
		&sermon.StudyGuideStatus, &sermon.StudyGuideError, &sermon.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get sermon %s: %w", id, err)
	}
	return &sermon, nil
}

// ListSermons returns the most recent sermons.
func (s *Store) ListSermons(limit int) ([]types.Sermon, error) {
	rows, err := s.db.Query(
		`SELECT id, title, duration_seconds, transcription_status, transcription_error,
		        study_guide_status, study_guide_error, created_at
		 FROM sermons ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sermons: %w", err)
	}
	defer rows.Close()

	var sermons []types.Sermon
	for rows.Next() {
		var sermon types.Sermon
		if err := rows.Scan(&sermon.ID, &sermon.Title, &sermon.DurationSeconds,
			&sermon.TranscriptionStatus, &sermon.TranscriptionError,
			&sermon.StudyGuideStatus, &sermon.StudyGuideError, &sermon.CreatedAt); err != nil {
			continue
		}
		sermons = append(sermons, sermon)
	}
	return sermons, rows.Err()
}

// ResumableSermonIDs returns ids whose transcription or study guide stage is
// pending or running. A running status at startup means an unclean shutdown
// mid-stage; the stage is simply re-attempted.
func (s *Store) ResumableSermonIDs() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT id FROM sermons
		 WHERE transcription_status IN (?, ?) OR study_guide_status IN (?, ?)
		 ORDER BY created_at ASC`,
		types.StagePending, types.StageRunning, types.StagePending, types.StageRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to query resumable sermons: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetTranscriptionStatus updates only the transcription stage fields.
func (s *Store) SetTranscriptionStatus(id, status, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE sermons SET transcription_status = ?, transcription_error = ? WHERE id = ?`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to set transcription status: %w", err)
	}
	return nil
}

// SetStudyGuideStatus updates only the study guide stage fields.
func (s *Store) SetStudyGuideStatus(id, status, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE sermons SET study_guide_status = ?, study_guide_error = ? WHERE id = ?`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to set study guide status: %w", err)
	}
	return nil
}

// AddChunk registers one uploaded audio chunk.
func (s *Store) AddChunk(chunk types.AudioChunk) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO chunks (sermon_id, idx, local_path, duration_seconds, upload_status, drive_file_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		chunk.SermonID, chunk.Index, chunk.LocalPath, chunk.DurationSeconds,
		chunk.UploadStatus, chunk.DriveFileID)
	if err != nil {
		return fmt.Errorf("failed to add chunk: %w", err)
	}
	return nil
}

// Chunks returns a sermon's chunks ordered by index.
func (s *Store) Chunks(sermonID string) ([]types.AudioChunk, error) {
	rows, err := s.db.Query(
		`SELECT sermon_id, idx, local_path, duration_seconds, upload_status, drive_file_id
		 FROM chunks WHERE sermon_id = ? ORDER BY idx ASC`, sermonID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []types.AudioChunk
	for rows.Next() {
		var c types.AudioChunk
		if err := rows.Scan(&c.SermonID, &c.Index, &c.LocalPath, &c.DurationSeconds,
			&c.UploadStatus, &c.DriveFileID); err != nil {
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// MarkChunksPendingUpload flags every not-yet-uploaded chunk of a sermon for
// the background sync worker. It only records intent; it never blocks.
func (s *Store) MarkChunksPendingUpload(sermonID string) error {
	_, err := s.db.Exec(
		`UPDATE chunks SET upload_status = ? WHERE sermon_id = ? AND upload_status IN (?, ?)`,
		types.UploadPending, sermonID, types.UploadNone, types.UploadFailed)
	if err != nil {
		return fmt.Errorf("failed to flag chunks for upload: %w", err)
	}
	return nil
}

// ChunksPendingUpload returns all chunks flagged for upload, across sermons.
func (s *Store) ChunksPendingUpload() ([]types.AudioChunk, error) {
	rows, err := s.db.Query(
		`SELECT sermon_id, idx, local_path, duration_seconds, upload_status, drive_file_id
		 FROM chunks WHERE upload_status = ? ORDER BY sermon_id, idx`, types.UploadPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending chunks: %w", err)
	}
	defer rows.Close()

	var chunks []types.AudioChunk
	for rows.Next() {
		var c types.AudioChunk
		if err := rows.Scan(&c.SermonID, &c.Index, &c.LocalPath, &c.DurationSeconds,
			&c.UploadStatus, &c.DriveFileID); err != nil {
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// SetChunkUploadStatus records the outcome of one chunk upload attempt.
func (s *Store) SetChunkUploadStatus(sermonID string, idx int, status, driveFileID string) error {
	_, err := s.db.Exec(
		`UPDATE chunks SET upload_status = ?, drive_file_id = ? WHERE sermon_id = ? AND idx = ?`,
		status, driveFileID, sermonID, idx)
	if err != nil {
		return fmt.Errorf("failed to set chunk upload status: %w", err)
	}
	return nil
}

// SaveTranscript persists a transcript and records the sermon duration.
func (s *Store) SaveTranscript(t *types.Transcript) error {
	segments, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("failed to marshal segments: %w", err)
	}
	words, err := json.Marshal(t.Words)
	if err != nil {
		return fmt.Errorf("failed to marshal words: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO transcripts (sermon_id, text, language, duration_seconds, segments_json, words_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.SermonID, t.Text, t.Language, t.DurationSeconds, string(segments), string(words), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	_, err = s.db.Exec(`UPDATE sermons SET duration_seconds = ? WHERE id = ?`,
		t.DurationSeconds, t.SermonID)
	if err != nil {
		return fmt.Errorf("failed to update sermon duration: %w", err)
	}
	return nil
}

// GetTranscript retrieves a sermon's transcript.
func (s *Store) GetTranscript(sermonID string) (*types.Transcript, error) {
	row := s.db.QueryRow(
		`SELECT sermon_id, text, language, duration_seconds, segments_json, words_json
		 FROM transcripts WHERE sermon_id = ?`, sermonID)

	var t types.Transcript
	var segments, words string
	err := row.Scan(&t.SermonID, &t.Text, &t.Language, &t.DurationSeconds, &segments, &words)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(segments), &t.Segments); err != nil {
		return nil, fmt.Errorf("failed to parse segments: %w", err)
	}
	if err := json.Unmarshal([]byte(words), &t.Words); err != nil {
		return nil, fmt.Errorf("failed to parse words: %w", err)
	}
	return &t, nil
}

// SaveStudyGuide persists a complete study guide.
func (s *Store) SaveStudyGuide(guide *types.StudyGuide) error {
	data, err := json.Marshal(guide)
	if err != nil {
		return fmt.Errorf("failed to marshal study guide: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO study_guides (sermon_id, guide_json, created_at) VALUES (?, ?, ?)`,
		guide.SermonID, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save study guide: %w", err)
	}
	return nil
}

// GetStudyGuide retrieves a sermon's study guide.
func (s *Store) GetStudyGuide(sermonID string) (*types.StudyGuide, error) {
	row := s.db.QueryRow(`SELECT guide_json FROM study_guides WHERE sermon_id = ?`, sermonID)

	var data string
	if err := row.Scan(&data); err != nil {
		return nil, fmt.Errorf("failed to get study guide: %w", err)
	}
	var guide types.StudyGuide
	if err := json.Unmarshal([]byte(data), &guide); err != nil {
		return nil, fmt.Errorf("failed to parse study guide: %w", err)
	}
	return &guide, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
