package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// Compose renders the transcript's completed sentences into an Export,
// one line per sentence in playback order, with the latest boundary span
// and speaker attribution.
func Compose(tx *store.Tx, transcript *store.Transcript) (*Export, error) {
	completed, err := tx.CompletedSentences(transcript.ID)
	if err != nil {
		return nil, err
	}

	speakers := make(map[string]string)
	seen := make(map[string]bool)
	var lines []string
	for _, s := range completed {
		speaker := ""
		if s.LatestSpeakerID != "" {
			name, ok := speakers[s.LatestSpeakerID]
			if !ok {
				sp, err := tx.GetSpeaker(s.LatestSpeakerID)
				if err != nil {
					return nil, err
				}
				name = sp.Name
				speakers[s.LatestSpeakerID] = name
			}
			speaker = name
			seen[s.LatestSpeakerID] = true
		}

		span := fmt.Sprintf("[%s - %s]",
			types.FormatSeconds(s.LatestStartCS), types.FormatSeconds(s.LatestEndCS))
		if speaker != "" {
			lines = append(lines, fmt.Sprintf("%s %s: %s", span, speaker, s.LatestText))
		} else {
			lines = append(lines, fmt.Sprintf("%s %s", span, s.LatestText))
		}
	}

	return &Export{
		TranscriptID:  transcript.ID,
		Name:          transcript.Name,
		Text:          strings.Join(lines, "\n"),
		Length:        types.FormatSeconds(transcript.LengthCS),
		SentenceCount: len(completed),
		SpeakerCount:  len(seen),
		ExportedAt:    time.Now(),
	}, nil
}
