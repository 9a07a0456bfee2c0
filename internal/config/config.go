package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Storage struct {
		TempDir     string `yaml:"temp_dir"`
		OutputDir   string `yaml:"output_dir"`
		Database    string `yaml:"database"`
		BibleDB     string `yaml:"bible_database"`
		Translation string `yaml:"bible_translation"`
	} `yaml:"storage"`

	Pipeline struct {
		ConcurrentJobs int `yaml:"concurrent_jobs"`
	} `yaml:"pipeline"`

	Transcription struct {
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		Model          string  `yaml:"model"`
		RequestsPerMin float64 `yaml:"requests_per_min"`
		TimeoutMinutes int     `yaml:"timeout_minutes"`
	} `yaml:"transcription"`

	Generator struct {
		BaseURL     string  `yaml:"base_url"`
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"generator"`

	Enrichment struct {
		MaxExplicitRefs       int `yaml:"max_explicit_refs"`
		MaxCrossRefsPerRef    int `yaml:"max_cross_refs_per_ref"`
		MaxGlobalCrossRefs    int `yaml:"max_global_cross_refs"`
		MaxInsightsPerRef     int `yaml:"max_insights_per_ref"`
		MaxPromptContextChars int `yaml:"max_prompt_context_chars"`
	} `yaml:"enrichment"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
		SyncIntervalSec int    `yaml:"sync_interval_seconds"`
		MaxParallel     int    `yaml:"max_parallel"`
	} `yaml:"google_drive"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

// Load reads and parses the YAML config file, applying defaults.
func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

// applyDefaults fills zero values with sensible defaults.
func applyDefaults(c *Config) {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "temp"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "outputs"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/sermons.db"
	}
	if c.Storage.BibleDB == "" {
		c.Storage.BibleDB = "data/bible.db"
	}
	if c.Storage.Translation == "" {
		c.Storage.Translation = "web"
	}
	if c.Pipeline.ConcurrentJobs <= 0 {
		c.Pipeline.ConcurrentJobs = 2
	}
	if c.Transcription.Model == "" {
		c.Transcription.Model = "whisper-1"
	}
	if c.Transcription.RequestsPerMin <= 0 {
		c.Transcription.RequestsPerMin = 30
	}
	if c.Transcription.TimeoutMinutes <= 0 {
		c.Transcription.TimeoutMinutes = 30
	}
	if c.Generator.Model == "" {
		c.Generator.Model = "gpt-4o"
	}
	if c.Generator.Temperature <= 0 {
		c.Generator.Temperature = 0.3
	}
	if c.Enrichment.MaxExplicitRefs <= 0 {
		c.Enrichment.MaxExplicitRefs = 10
	}
	if c.Enrichment.MaxCrossRefsPerRef <= 0 {
		c.Enrichment.MaxCrossRefsPerRef = 5
	}
	if c.Enrichment.MaxGlobalCrossRefs <= 0 {
		c.Enrichment.MaxGlobalCrossRefs = 30
	}
	if c.Enrichment.MaxInsightsPerRef <= 0 {
		c.Enrichment.MaxInsightsPerRef = 2
	}
	if c.Enrichment.MaxPromptContextChars <= 0 {
		c.Enrichment.MaxPromptContextChars = 2000
	}
	if c.GoogleDrive.SyncIntervalSec <= 0 {
		c.GoogleDrive.SyncIntervalSec = 60
	}
	if c.GoogleDrive.MaxParallel <= 0 {
		c.GoogleDrive.MaxParallel = 3
	}
	if c.Cleanup.IntervalMinutes <= 0 {
		c.Cleanup.IntervalMinutes = 60
	}
	if c.Cleanup.MaxAgeHours <= 0 {
		c.Cleanup.MaxAgeHours = 48
	}
	if c.Limits.MaxFileSizeMB <= 0 {
		c.Limits.MaxFileSizeMB = 200
	}
}
