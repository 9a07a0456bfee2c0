package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"sermon-engine/internal/bible"
	"sermon-engine/internal/cleanup"
	"sermon-engine/internal/config"
	"sermon-engine/internal/enrich"
	"sermon-engine/internal/generator"
	"sermon-engine/internal/handlers"
	"sermon-engine/internal/progress"
	"sermon-engine/internal/scheduler"
	"sermon-engine/internal/storage"
	"sermon-engine/internal/transcription"
	"sermon-engine/internal/uploader"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ensure directories exist
	if err := cleanup.EnsureTempDirExists(cfg.Storage.TempDir); err != nil {
		log.Fatalf("Failed to create temp directory: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	log.Println("Initializing components...")

	// Database
	store, err := storage.NewStore(cfg.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Bible reference index (optional - classification degrades without it)
	var index *bible.Index
	if idx, err := bible.OpenIndex(cfg.Storage.BibleDB, cfg.Storage.Translation); err != nil {
		log.Printf("WARNING: Bible reference index not available: %v", err)
		log.Println("Suggested references will be classified as unknown")
	} else {
		index = idx
		defer index.Close()
		if !index.Complete() {
			log.Println("Bible cross-reference data is partial")
		}
	}

	// Enrichment engine
	enricher := enrich.NewEngine(indexOrNil(index), enrich.Options{
		MaxExplicitRefs:       cfg.Enrichment.MaxExplicitRefs,
		MaxCrossRefsPerRef:    cfg.Enrichment.MaxCrossRefsPerRef,
		MaxGlobalCrossRefs:    cfg.Enrichment.MaxGlobalCrossRefs,
		MaxInsightsPerRef:     cfg.Enrichment.MaxInsightsPerRef,
		MaxPromptContextChars: cfg.Enrichment.MaxPromptContextChars,
	})

	// External API clients
	transcriber := transcription.NewClient(transcription.Config{
		BaseURL:        cfg.Transcription.BaseURL,
		APIKey:         cfg.Transcription.APIKey,
		Model:          cfg.Transcription.Model,
		RequestsPerMin: cfg.Transcription.RequestsPerMin,
		Timeout:        time.Duration(cfg.Transcription.TimeoutMinutes) * time.Minute,
	})
	guideGen := generator.NewClient(generator.Config{
		BaseURL:     cfg.Generator.BaseURL,
		APIKey:      cfg.Generator.APIKey,
		Model:       cfg.Generator.Model,
		Temperature: cfg.Generator.Temperature,
	})

	// Progress publisher and pipeline scheduler
	publisher := progress.NewPublisher()
	exporter := storage.NewExporter(cfg.Storage.OutputDir)
	sched := scheduler.New(store, transcriber, guideGen, enricher, exporter,
		publisher, cfg.Pipeline.ConcurrentJobs)
	if err := sched.ResumePendingJobs(); err != nil {
		log.Printf("WARNING: failed to resume unfinished jobs: %v", err)
	}

	// Google Drive chunk sync (optional - may fail if credentials not set up)
	var syncWorker *uploader.Worker
	if _, err := os.Stat(cfg.GoogleDrive.CredentialsFile); err == nil {
		driveClient, err := storage.NewDriveClient(
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			log.Println("Audio chunks will only be kept locally")
		} else {
			syncWorker = uploader.NewWorker(store, driveClient,
				time.Duration(cfg.GoogleDrive.SyncIntervalSec)*time.Second,
				cfg.GoogleDrive.MaxParallel)
			syncWorker.Start()
			defer syncWorker.Stop()
			log.Println("Google Drive chunk sync enabled")
		}
	} else {
		log.Println("Google Drive credentials not found - keeping chunks locally only")
	}

	// Cleanup scheduler
	cleanupScheduler := cleanup.NewScheduler(
		cfg.Storage.TempDir,
		cfg.Cleanup.IntervalMinutes,
		cfg.Cleanup.MaxAgeHours,
		store,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: cfg.Limits.MaxFileSizeMB * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	sermonHandler := handlers.NewSermonHandler(store, sched, syncWorker,
		cfg.Storage.TempDir, cfg.Limits.MaxFileSizeMB)
	progressHandler := handlers.NewProgressHandler(publisher)

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	app.Post("/sermons", sermonHandler.Create)
	app.Get("/sermons", sermonHandler.List)
	app.Get("/sermons/:id", sermonHandler.Get)
	app.Post("/sermons/:id/chunks", sermonHandler.UploadChunk)
	app.Post("/sermons/:id/process", sermonHandler.Process)
	app.Delete("/sermons/:id/process", sermonHandler.CancelProcess)
	app.Get("/sermons/:id/transcript", sermonHandler.Transcript)
	app.Get("/sermons/:id/guide", sermonHandler.Guide)

	// WebSocket route
	app.Get("/ws/sermons/:id/progress", websocket.New(progressHandler.Handle))

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	sched.Wait()
}

// indexOrNil keeps a typed-nil *bible.Index from hiding inside a non-nil
// interface value.
func indexOrNil(index *bible.Index) enrich.ReferenceIndex {
	if index == nil {
		return nil
	}
	return index
}
