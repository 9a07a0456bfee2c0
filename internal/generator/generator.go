package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"sermon-engine/internal/types"
)

// maxTranscriptChars bounds how much transcript text goes into the prompt.
const maxTranscriptChars = 48000

// Config holds settings for the study guide generator.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// Request carries everything the generator needs for one sermon.
type Request struct {
	Title              string
	TranscriptText     string
	ExplicitReferences []string
	EnrichmentContext  string
}

// Client generates structured study guides through a chat completions API.
// Treated as an opaque, possibly-slow external call; stage-level failure
// handling in the scheduler is the only retry boundary.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewClient creates a study guide generator client.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

const systemPrompt = `You are a study assistant for sermon audio. Given a sermon transcript,
produce a structured study guide. Every outline section must include an
anchor_text field quoting 5-15 consecutive words verbatim from the transcript
where that section begins. Quotes must be verbatim excerpts. List scripture
references the preacher explicitly cited under mentioned_references, and
thematically related passages the preacher did not cite under
suggested_references. Use standard reference notation (e.g. "John 3:16",
"Romans 8:28-30").`

// Generate runs one structured generation call.
func (c *Client) Generate(ctx context.Context, req Request) (*types.GeneratedGuide, error) {
	transcript := req.TranscriptText
	if len(transcript) > maxTranscriptChars {
		transcript = transcript[:maxTranscriptChars]
	}

	var user strings.Builder
	user.WriteString("Sermon title: " + req.Title + "\n\n")
	if len(req.ExplicitReferences) > 0 {
		user.WriteString("Scripture references detected in the transcript: " +
			strings.Join(req.ExplicitReferences, ", ") + "\n\n")
	}
	if req.EnrichmentContext != "" {
		user.WriteString("Cross-reference context:\n" + req.EnrichmentContext + "\n\n")
	}
	user.WriteString("Transcript:\n" + transcript)

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(user.String()),
		},
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "study_guide",
					Schema: guideSchema(),
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("study guide generation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("study guide generation returned no choices")
	}

	content := resp.Choices[0].Message.Content
	var guide types.GeneratedGuide
	if err := json.Unmarshal([]byte(content), &guide); err != nil {
		return nil, fmt.Errorf("failed to parse generated guide: %w", err)
	}

	log.Printf("Generated study guide in %s (%d sections, %d quotes, %d suggested refs)",
		time.Since(start).Round(time.Second), len(guide.Outline), len(guide.Quotes),
		len(guide.SuggestedReferences))
	return &guide, nil
}

// guideSchema is the JSON schema for the structured response.
func guideSchema() map[string]any {
	stringArray := map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":   map[string]any{"type": "string"},
			"summary": map[string]any{"type": "string"},
			"outline": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":       map[string]any{"type": "string"},
						"anchor_text": map[string]any{"type": "string"},
						"summary":     map[string]any{"type": "string"},
					},
					"required":             []string{"title", "anchor_text", "summary"},
					"additionalProperties": false,
				},
			},
			"quotes":               stringArray,
			"insights":             stringArray,
			"mentioned_references": stringArray,
			"suggested_references": stringArray,
			"discussion_questions": stringArray,
		},
		"required": []string{
			"title", "summary", "outline", "quotes", "insights",
			"mentioned_references", "suggested_references", "discussion_questions",
		},
		"additionalProperties": false,
	}
}
