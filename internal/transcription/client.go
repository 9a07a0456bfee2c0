package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"sermon-engine/internal/types"
)

// Config holds settings for the hosted transcription API.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestsPerMin float64
	Timeout        time.Duration
}

// Client calls an OpenAI-compatible speech-to-text endpoint and returns
// word-level timestamps per chunk. Chunk timestamps are relative to the
// chunk; the scheduler applies cumulative offsets.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a transcription client.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.RequestsPerMin <= 0 {
		cfg.RequestsPerMin = 30
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerMin/60.0), 1),
	}
}

// verboseResponse is the verbose_json transcription payload.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// TranscribeChunk uploads one audio chunk and returns its transcription with
// chunk-relative timestamps.
func (c *Client) TranscribeChunk(ctx context.Context, path string) (*types.ChunkTranscription, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunk: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer mw.Close()

		if err := mw.WriteField("model", c.model); err != nil {
			errCh <- err
			return
		}
		if err := mw.WriteField("response_format", "verbose_json"); err != nil {
			errCh <- err
			return
		}
		if err := mw.WriteField("timestamp_granularities[]", "word"); err != nil {
			errCh <- err
			return
		}
		if err := mw.WriteField("timestamp_granularities[]", "segment"); err != nil {
			errCh <- err
			return
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(path)))
		h.Set("Content-Type", mimeFromExt(filepath.Ext(path)))
		part, err := mw.CreatePart(h)
		if err != nil {
			errCh <- err
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", pr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return nil, fmt.Errorf("multipart write error: %w", writeErr)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transcription API returned status %d: %s", resp.StatusCode, string(body))
	}

	var vr verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}

	log.Printf("Transcribed %s in %s (%.0fs of audio, %d words)",
		filepath.Base(path), time.Since(start).Round(time.Second), vr.Duration, len(vr.Words))

	result := &types.ChunkTranscription{
		Text:            strings.TrimSpace(vr.Text),
		Language:        vr.Language,
		DurationSeconds: vr.Duration,
	}
	for _, s := range vr.Segments {
		result.Segments = append(result.Segments, types.Segment{
			Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text),
		})
	}
	for _, w := range vr.Words {
		result.Words = append(result.Words, types.WordTimestamp{
			Word: w.Word, Start: w.Start, End: w.End,
		})
	}
	return result, nil
}

// ValidateAudioFormat checks if the file format is supported
func ValidateAudioFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	supportedFormats := []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".aac", ".wma"}

	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// mimeFromExt returns the MIME type for common audio extensions.
func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp3":
		return "audio/mp3"
	case ".m4a":
		return "audio/m4a"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".aac":
		return "audio/aac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
