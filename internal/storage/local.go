package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Export is a finished transcript rendered for delivery.
type Export struct {
	TranscriptID  string    `json:"transcript_id"`
	Name          string    `json:"name"`
	Text          string    `json:"-"`
	Length        string    `json:"length"`
	SentenceCount int       `json:"sentence_count"`
	SpeakerCount  int       `json:"speaker_count"`
	ExportedAt    time.Time `json:"exported_at"`
	LocalPath     string    `json:"local_path,omitempty"`
	GDriveURL     string    `json:"gdrive_url,omitempty"`
}

// LocalStorage handles saving exported transcripts to the local filesystem
type LocalStorage struct {
	outputDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
	}
}

// SaveExport saves the transcript text and metadata to local disk
func (ls *LocalStorage) SaveExport(export *Export) (string, error) {
	// Create dated directory structure: outputs/2026/09/01/
	now := time.Now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %v", err)
	}

	// Generate filename: 20260901_143022_board_meeting.txt
	timestamp := now.Format("20060102_150405")
	baseFilename := fmt.Sprintf("%s_%s", timestamp, sanitizeFilename(export.Name))

	txtPath := filepath.Join(dateDir, baseFilename+".txt")
	metaPath := filepath.Join(dateDir, baseFilename+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(export.Text), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %v", err)
	}

	export.LocalPath = txtPath
	metaJSON, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %v", err)
	}

	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %v", err)
	}

	return txtPath, nil
}

// sanitizeFilename removes invalid characters from filename
func sanitizeFilename(name string) string {
	result := filepath.Base(name)
	for _, c := range []string{"\\", ":", "*", "?", "\"", "<", ">", "|", " "} {
		result = strings.ReplaceAll(result, c, "_")
	}
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}
