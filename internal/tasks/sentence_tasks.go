package tasks

import (
	"errors"
	"strings"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// The three sentence refinement kinds share one lifecycle: pick a completed
// sentence whose axis is untouched (do) or edited (review), move the axis
// to editing/reviewing while the task is out, append a new entry on
// submission, and settle the axis afterwards. A review settles to reviewed
// only when the submission agrees with the previous entry; a changed
// submission sends the sentence back for another review round.
//
// The axis state doubles as the reservation: availability filters on
// untouched/edited, so a sentence in editing or reviewing cannot be handed
// to a second worker.

func sentenceKindSpec(axis string) kindSpec {
	return kindSpec{
		assign: func(e *Engine, tx *store.Tx, task *store.Task) error {
			state := types.RefinementEditing
			if task.IsReview {
				state = types.RefinementReviewing
			}
			return tx.SetRefinementState(task.SentenceID, axis, state)
		},
		validate: func(e *Engine, tx *store.Tx, task *store.Task) error {
			if !task.IsReview {
				return tx.SetRefinementState(task.SentenceID, axis, types.RefinementEdited)
			}
			settled, err := axisSettled(tx, axis, task.SentenceID)
			if err != nil {
				return err
			}
			state := types.RefinementEdited
			if settled {
				state = types.RefinementReviewed
			}
			return tx.SetRefinementState(task.SentenceID, axis, state)
		},
		invalidate: func(e *Engine, tx *store.Tx, task *store.Task) error {
			state := types.RefinementUntouched
			if task.IsReview {
				state = types.RefinementEdited
			}
			return tx.SetRefinementState(task.SentenceID, axis, state)
		},
		canCreate: func(e *Engine, tx *store.Tx, transcriptID string, isReview bool) (bool, error) {
			available, err := tx.AvailableSentences(transcriptID, axis, axisWantedState(isReview))
			if err != nil {
				return false, err
			}
			return len(available) > 0, nil
		},
		createNext: func(e *Engine, tx *store.Tx, worker *store.Worker, transcriptID string, isReview bool) (*store.Task, error) {
			available, err := tx.AvailableSentences(transcriptID, axis, axisWantedState(isReview))
			if err != nil {
				return nil, err
			}
			if len(available) == 0 {
				return nil, types.ErrNoWorkAvailable
			}
			sentence := available[0]
			task := &store.Task{
				TranscriptID: transcriptID,
				Kind:         kindForAxis(axis),
				IsReview:     isReview,
				State:        types.TaskUnassigned,
				SentenceID:   sentence.ID,
			}
			switch axis {
			case store.AxisClean:
				task.Text = sentence.LatestText
			case store.AxisBoundary:
				task.StartCS = sentence.LatestStartCS
				task.EndCS = sentence.LatestEndCS
			case store.AxisSpeaker:
				task.SpeakerID = sentence.LatestSpeakerID
			}
			if err := tx.InsertTask(task); err != nil {
				return nil, err
			}
			if err := e.AssignTo(tx, task, worker); err != nil {
				return nil, err
			}
			return task, nil
		},
		process: func(e *Engine, tx *store.Tx, task *store.Task) (bool, error) {
			return processSentenceSubmission(tx, axis, task)
		},
	}
}

func kindForAxis(axis string) string {
	switch axis {
	case store.AxisClean:
		return types.KindClean
	case store.AxisBoundary:
		return types.KindBoundary
	case store.AxisSpeaker:
		return types.KindSpeaker
	}
	return ""
}

func axisWantedState(isReview bool) string {
	if isReview {
		return types.RefinementEdited
	}
	return types.RefinementUntouched
}

func processSentenceSubmission(tx *store.Tx, axis string, task *store.Task) (bool, error) {
	switch axis {
	case store.AxisClean:
		text := strings.TrimSpace(task.Text)
		if text == "" {
			return false, nil
		}
		if _, err := tx.AppendSentenceRevision(task.SentenceID, task.Assignee, text); err != nil {
			return false, err
		}
		return true, nil

	case store.AxisBoundary:
		transcript, err := tx.GetTranscript(task.TranscriptID)
		if err != nil {
			return false, err
		}
		if task.StartCS < 0 || task.StartCS >= task.EndCS || task.EndCS > transcript.LengthCS {
			return false, nil
		}
		if _, err := tx.AppendSentenceBoundary(task.SentenceID, task.Assignee, task.StartCS, task.EndCS); err != nil {
			return false, err
		}
		return true, nil

	case store.AxisSpeaker:
		speakerID := task.SpeakerID
		if speakerID != "" {
			if _, err := tx.GetSpeaker(speakerID); err != nil {
				if errors.Is(err, types.ErrNotFound) {
					return false, nil
				}
				return false, err
			}
		} else {
			name := strings.TrimSpace(task.NewName)
			if name == "" {
				return false, nil
			}
			speaker, err := tx.GetOrCreateSpeaker(task.TranscriptID, name)
			if err != nil {
				return false, err
			}
			speakerID = speaker.ID
		}
		if _, err := tx.AppendSentenceSpeaker(task.SentenceID, task.Assignee, speakerID); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// axisSettled reports whether the two newest entries on the axis agree,
// which is what lets a review round finish.
func axisSettled(tx *store.Tx, axis, sentenceID string) (bool, error) {
	switch axis {
	case store.AxisClean:
		revs, err := tx.LatestTwoRevisions(sentenceID)
		if err != nil {
			return false, err
		}
		if len(revs) < 2 {
			return false, nil
		}
		return strings.TrimSpace(revs[0].Text) == strings.TrimSpace(revs[1].Text), nil
	case store.AxisBoundary:
		bounds, err := tx.LatestTwoBoundaries(sentenceID)
		if err != nil {
			return false, err
		}
		if len(bounds) < 2 {
			return false, nil
		}
		return bounds[0].StartCS == bounds[1].StartCS && bounds[0].EndCS == bounds[1].EndCS, nil
	case store.AxisSpeaker:
		speakers, err := tx.LatestTwoSpeakers(sentenceID)
		if err != nil {
			return false, err
		}
		if len(speakers) < 2 {
			return false, nil
		}
		return speakers[0].SpeakerID == speakers[1].SpeakerID, nil
	}
	return false, nil
}
