package handlers

import (
	"fmt"
	"log"
	"path/filepath"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sermon-engine/internal/scheduler"
	"sermon-engine/internal/storage"
	"sermon-engine/internal/transcription"
	"sermon-engine/internal/types"
	"sermon-engine/internal/uploader"
)

// SermonHandler exposes sermon creation, chunk upload and pipeline control.
type SermonHandler struct {
	store     *storage.Store
	scheduler *scheduler.Scheduler
	sync      *uploader.Worker
	tempDir   string
	maxSizeMB int
}

// NewSermonHandler creates a new sermon handler. sync may be nil when Drive
// integration is disabled.
func NewSermonHandler(store *storage.Store, sched *scheduler.Scheduler, sync *uploader.Worker,
	tempDir string, maxSizeMB int) *SermonHandler {
	return &SermonHandler{
		store:     store,
		scheduler: sched,
		sync:      sync,
		tempDir:   tempDir,
		maxSizeMB: maxSizeMB,
	}
}

// Create registers a new sermon recording session.
func (h *SermonHandler) Create(c *fiber.Ctx) error {
	var body struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&body); err != nil || body.Title == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing sermon title",
			"code":  "ERR_NO_TITLE",
		})
	}

	id := uuid.New().String()
	if err := h.store.CreateSermon(id, body.Title); err != nil {
		log.Printf("Failed to create sermon: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to create sermon",
			"code":  "ERR_CREATE_FAILED",
		})
	}

	return c.JSON(fiber.Map{
		"sermon_id": id,
		"status":    "created",
	})
}

// UploadChunk receives one recorded audio chunk for a sermon.
func (h *SermonHandler) UploadChunk(c *fiber.Ctx) error {
	sermonID := c.Params("id")
	if _, err := h.store.GetSermon(sermonID); err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Sermon not found",
			"code":  "ERR_NOT_FOUND",
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	if !transcription.ValidateAudioFormat(file.Filename) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	index, err := strconv.Atoi(c.FormValue("index"))
	if err != nil || index < 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "Missing or invalid chunk index",
			"code":  "ERR_INVALID_INDEX",
		})
	}
	duration, _ := strconv.ParseFloat(c.FormValue("duration_seconds"), 64)

	extension := filepath.Ext(file.Filename)
	tempPath := filepath.Join(h.tempDir, fmt.Sprintf("%s_%04d%s", sermonID, index, extension))

	if err := c.SaveFile(file, tempPath); err != nil {
		log.Printf("Failed to save uploaded chunk: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to save file",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	chunk := types.AudioChunk{
		SermonID:        sermonID,
		Index:           index,
		LocalPath:       tempPath,
		DurationSeconds: duration,
		UploadStatus:    types.UploadNone,
	}
	if err := h.store.AddChunk(chunk); err != nil {
		log.Printf("Failed to register chunk: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to register chunk",
			"code":  "ERR_SAVE_FAILED",
		})
	}

	return c.JSON(fiber.Map{
		"sermon_id": sermonID,
		"index":     index,
		"status":    "received",
	})
}

// Process enqueues a sermon for pipeline processing. Re-enqueueing a failed
// sermon retries only the stages still owed.
func (h *SermonHandler) Process(c *fiber.Ctx) error {
	sermonID := c.Params("id")
	if _, err := h.store.GetSermon(sermonID); err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Sermon not found",
			"code":  "ERR_NOT_FOUND",
		})
	}

	h.scheduler.Enqueue(sermonID)
	if h.sync != nil {
		h.sync.Kick()
	}

	return c.JSON(fiber.Map{
		"sermon_id": sermonID,
		"status":    "queued",
	})
}

// CancelProcess removes a sermon from the pipeline. An in-flight external
// call is not aborted; its results are discarded on completion.
func (h *SermonHandler) CancelProcess(c *fiber.Ctx) error {
	sermonID := c.Params("id")
	h.scheduler.Cancel(sermonID)
	return c.JSON(fiber.Map{
		"sermon_id": sermonID,
		"status":    "cancelled",
	})
}

// Get returns a sermon's stage statuses and chunk inventory.
func (h *SermonHandler) Get(c *fiber.Ctx) error {
	sermonID := c.Params("id")
	sermon, err := h.store.GetSermon(sermonID)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Sermon not found",
			"code":  "ERR_NOT_FOUND",
		})
	}
	chunks, err := h.store.Chunks(sermonID)
	if err != nil {
		log.Printf("Failed to load chunks for %s: %v", sermonID, err)
	}
	return c.JSON(fiber.Map{
		"sermon": sermon,
		"chunks": chunks,
	})
}

// List returns recent sermons.
func (h *SermonHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	sermons, err := h.store.ListSermons(limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(sermons)
}

// Guide returns the generated study guide.
func (h *SermonHandler) Guide(c *fiber.Ctx) error {
	guide, err := h.store.GetStudyGuide(c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Study guide not found",
			"code":  "ERR_NOT_FOUND",
		})
	}
	return c.JSON(guide)
}

// Transcript returns the transcript text.
func (h *SermonHandler) Transcript(c *fiber.Ctx) error {
	transcript, err := h.store.GetTranscript(c.Params("id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "Transcript not found",
			"code":  "ERR_NOT_FOUND",
		})
	}
	return c.SendString(transcript.Text)
}
