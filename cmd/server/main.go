package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"gopkg.in/yaml.v3"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/cleanup"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/events"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/fragments"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/handlers"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/locks"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/queue"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/scheduler"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/storage"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/tasks"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Pipeline struct {
		FragmentLengthSeconds string `yaml:"fragment_length_seconds"`
		AssignRetries         int    `yaml:"assign_retries"`
	} `yaml:"pipeline"`

	Workers struct {
		Count int `yaml:"count"`
	} `yaml:"workers"`

	Storage struct {
		Database  string `yaml:"database"`
		OutputDir string `yaml:"output_dir"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		TaskMaxAgeMin   int `yaml:"task_max_age_minutes"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`
}

func main() {
	// Load configuration
	config, err := loadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(config.Storage.OutputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Custom logger setup
	logBuffer := &LogBuffer{
		lines: make([]string, 0, 1000),
	}
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	log.SetOutput(multiWriter)

	log.Println("Initializing components...")

	fragmentLengthCS, err := types.ParseSeconds(config.Pipeline.FragmentLengthSeconds)
	if err != nil || fragmentLengthCS <= 0 {
		log.Fatalf("Invalid fragment length: %v", err)
	}

	// Database
	db, err := store.Open(config.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Advisory lock manager, reseeded from fragments locked before the
	// last shutdown
	lockManager := locks.NewManager()
	err = db.WithTx(func(tx *store.Tx) error {
		ids, err := tx.LockedFragmentIDs()
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := lockManager.Acquire(id); err != nil {
				return err
			}
		}
		if len(ids) > 0 {
			log.Printf("Reseeded %d fragment locks", len(ids))
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to reseed locks: %v", err)
	}

	// Engines
	fragmentEngine := fragments.NewEngine(lockManager)
	taskEngine := tasks.NewEngine(db, fragmentEngine)

	// Worker pool processes submitted tasks asynchronously
	workerPool := queue.NewWorkerPool(config.Workers.Count, taskEngine)
	taskEngine.SetProcessor(workerPool)
	workerPool.Start()

	// Scheduler
	sched := scheduler.New(db, taskEngine, nil, config.Pipeline.AssignRetries)

	// Expiry scheduler
	expiryScheduler := cleanup.NewScheduler(
		db,
		taskEngine,
		config.Cleanup.IntervalMinutes,
		config.Cleanup.TaskMaxAgeMin,
	)
	expiryScheduler.Start()
	defer expiryScheduler.Stop()

	// Local storage
	localStorage := storage.NewLocalStorage(config.Storage.OutputDir)

	// Google Drive client (optional - may fail if credentials not set up)
	var driveClient *storage.DriveClient
	if _, err := os.Stat(config.GoogleDrive.CredentialsFile); err == nil {
		driveClient, err = storage.NewDriveClient(
			config.GoogleDrive.CredentialsFile,
			config.GoogleDrive.TokenFile,
			config.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			log.Println("Exports will only be saved locally")
			driveClient = nil
		} else {
			log.Println("Google Drive integration enabled")
		}
	} else {
		log.Println("Google Drive credentials not found - saving locally only")
	}

	// Event hub
	hub := events.NewHub()

	// Create Fiber app
	app := fiber.New(fiber.Config{})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	transcriptHandler := handlers.NewTranscriptHandler(db, fragmentEngine, hub, fragmentLengthCS)
	taskHandler := handlers.NewTaskHandler(db, taskEngine, sched, hub)
	workerHandler := handlers.NewWorkerHandler(db)
	exportHandler := handlers.NewExportHandler(db, localStorage, driveClient, hub)
	eventsHandler := handlers.NewEventsHandler(hub)

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	app.Post("/workers", workerHandler.Create)
	app.Get("/workers/:id", workerHandler.Get)

	app.Post("/transcripts", transcriptHandler.Create)
	app.Get("/transcripts", transcriptHandler.List)
	app.Get("/transcripts/:id", transcriptHandler.Get)
	app.Post("/transcripts/:id/length", transcriptHandler.SetLength)
	app.Get("/transcripts/:id/text", transcriptHandler.Text)
	app.Get("/transcripts/:id/speakers", transcriptHandler.Speakers)
	app.Post("/transcripts/:id/export", exportHandler.Handle)

	app.Post("/transcripts/:id/tasks", taskHandler.Assign)
	app.Get("/tasks/:id", taskHandler.Get)
	app.Post("/tasks/:id/submit", taskHandler.Submit)
	app.Post("/tasks/:id/cancel", taskHandler.Cancel)

	// WebSocket route
	app.Get("/ws/events", websocket.New(eventsHandler.Handle))

	// Get server logs
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST /workers                    - Register a worker")
	log.Println("   POST /transcripts                - Create a transcript")
	log.Println("   POST /transcripts/:id/length     - Set length, create fragments")
	log.Println("   POST /transcripts/:id/tasks      - Get next task")
	log.Println("   POST /tasks/:id/submit           - Submit a task")
	log.Println("   POST /tasks/:id/cancel           - Cancel a task")
	log.Println("   POST /transcripts/:id/export     - Export transcript")
	log.Println("   GET  /transcripts/:id/text       - Current transcript text")
	log.Println("   GET  /ws/events                  - WebSocket event feed")
	log.Println("   GET  /logs                       - View server logs")
	log.Println("   GET  /health                     - Health check")

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
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

// loadConfig loads configuration from YAML file
func loadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
