package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sermon-engine/internal/types"
)

// Exporter writes finished transcripts to the local filesystem.
type Exporter struct {
	outputDir string
}

// NewExporter creates a new transcript exporter
func NewExporter(outputDir string) *Exporter {
	return &Exporter{
		outputDir: outputDir,
	}
}

// ExportTranscript saves the transcript text and metadata to local disk
// under a dated directory structure: outputs/2025/01/23/.
func (e *Exporter) ExportTranscript(sermon *types.Sermon, t *types.Transcript) (string, error) {
	now := time.Now()
	dateDir := filepath.Join(e.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	timestamp := now.Format("20060102_150405")
	baseFilename := fmt.Sprintf("%s_%s", timestamp, sanitizeFilename(sermon.Title))

	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(t.Text), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	metadata := map[string]interface{}{
		"sermon_id":        sermon.ID,
		"title":            sermon.Title,
		"duration_seconds": t.DurationSeconds,
		"language":         t.Language,
		"word_count":       len(t.Words),
		"created_at":       now,
		"segments":         t.Segments,
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %w", err)
	}

	return txtPath, nil
}

// sanitizeFilename removes invalid characters from filename
func sanitizeFilename(name string) string {
	invalid := []rune{'/', '\\', ':', '*', '?', '"', '<', '>', '|'}
	result := []rune(name)
	for i, r := range result {
		for _, bad := range invalid {
			if r == bad {
				result[i] = '_'
			}
		}
	}
	if len(result) > 100 {
		result = result[:100]
	}
	return string(result)
}
