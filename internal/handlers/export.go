package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/events"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/storage"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
)

// ExportHandler writes a transcript's current rendition to local storage
// and, when configured, Google Drive
type ExportHandler struct {
	store        *store.Store
	localStorage *storage.LocalStorage
	driveClient  *storage.DriveClient
	hub          *events.Hub
}

// NewExportHandler creates a new export handler
func NewExportHandler(st *store.Store, localStorage *storage.LocalStorage, driveClient *storage.DriveClient, hub *events.Hub) *ExportHandler {
	return &ExportHandler{
		store:        st,
		localStorage: localStorage,
		driveClient:  driveClient,
		hub:          hub,
	}
}

// Handle processes the export request
func (h *ExportHandler) Handle(c *fiber.Ctx) error {
	id := c.Params("id")

	var export *storage.Export
	err := h.store.WithTx(func(tx *store.Tx) error {
		transcript, err := tx.GetTranscript(id)
		if err != nil {
			return err
		}
		export, err = storage.Compose(tx, transcript)
		return err
	})
	if err != nil {
		return fail(c, err)
	}

	localPath, err := h.localStorage.SaveExport(export)
	if err != nil {
		log.Printf("Local export failed for transcript %s: %v", id, err)
		return fail(c, err)
	}

	// Upload to Google Drive (with retry)
	if h.driveClient != nil {
		var driveURL string
		for attempt := 1; attempt <= 3; attempt++ {
			driveURL, err = h.driveClient.Upload(export)
			if err == nil {
				export.GDriveURL = driveURL
				break
			}
			log.Printf("Google Drive upload attempt %d/3 failed: %v", attempt, err)
			if attempt < 3 {
				time.Sleep(time.Duration(attempt*attempt) * time.Second) // Exponential backoff
			}
		}
		if err != nil {
			log.Printf("WARNING - Google Drive upload failed after 3 attempts, continuing with local save only")
		}
	}

	log.Printf("Transcript %s exported (local: %s, gdrive: %s)", id, localPath, export.GDriveURL)
	h.hub.Publish(events.Event{Type: events.TypeExportFinished, TranscriptID: id})

	return c.JSON(fiber.Map{
		"transcript_id":  id,
		"sentence_count": export.SentenceCount,
		"local_path":     localPath,
		"gdrive_url":     export.GDriveURL,
	})
}
