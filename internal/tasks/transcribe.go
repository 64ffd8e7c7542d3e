package tasks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// Transcribe tasks hand a worker one fragment's audio span: the do pass
// produces its first text, the review pass produces the next revision and
// passes when nothing changed.

func transcribeAvailable(tx *store.Tx, transcriptID string, isReview bool) ([]*store.Fragment, error) {
	state := types.FragmentEmpty
	if isReview {
		state = types.FragmentTranscribed
	}
	return tx.AvailableFragments(transcriptID, state)
}

func transcribeCanCreate(e *Engine, tx *store.Tx, transcriptID string, isReview bool) (bool, error) {
	available, err := transcribeAvailable(tx, transcriptID, isReview)
	if err != nil {
		return false, err
	}
	return len(available) > 0, nil
}

func transcribeCreateNext(e *Engine, tx *store.Tx, worker *store.Worker, transcriptID string, isReview bool) (*store.Task, error) {
	available, err := transcribeAvailable(tx, transcriptID, isReview)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, types.ErrNoWorkAvailable
	}
	fragment := available[0]

	rev := &store.FragmentRevision{
		FragmentID: fragment.ID,
		Sequence:   1,
		Editor:     worker.ID,
	}
	text := ""
	if isReview {
		latest, err := tx.LatestRevision(fragment.ID)
		if err != nil {
			return nil, err
		}
		text, err = tx.RevisionText(latest.ID)
		if err != nil {
			return nil, err
		}
		rev.Sequence = latest.Sequence + 1
	}
	if err := tx.InsertRevision(rev); err != nil {
		return nil, err
	}

	task := &store.Task{
		TranscriptID: transcriptID,
		Kind:         types.KindTranscribe,
		IsReview:     isReview,
		State:        types.TaskUnassigned,
		RevisionID:   rev.ID,
		Text:         text,
		// Keep the span even if the revision goes away.
		StartCS: fragment.StartCS,
		EndCS:   fragment.EndCS,
	}
	if err := tx.InsertTask(task); err != nil {
		return nil, err
	}
	if err := e.AssignTo(tx, task, worker); err != nil {
		return nil, err
	}
	return task, nil
}

func transcribeAssign(e *Engine, tx *store.Tx, task *store.Task) error {
	fragment, err := taskFragment(tx, task.RevisionID)
	if err != nil {
		return err
	}
	return e.frags.Lock(tx, fragment)
}

func transcribeValidate(e *Engine, tx *store.Tx, task *store.Task) error {
	// No affected sentence yet; fragments transcribe before sentences
	// exist. Just release the fragment.
	fragment, err := taskFragment(tx, task.RevisionID)
	if err != nil {
		return err
	}
	return e.frags.Unlock(tx, fragment)
}

func transcribeInvalidate(e *Engine, tx *store.Tx, task *store.Task) error {
	if task.RevisionID == "" {
		return nil
	}
	fragment, err := taskFragment(tx, task.RevisionID)
	if err != nil {
		return err
	}
	if err := tx.DeleteRevision(task.RevisionID); err != nil {
		return err
	}
	task.RevisionID = ""
	if err := tx.SaveTask(task); err != nil {
		return err
	}
	return e.frags.Unlock(tx, fragment)
}

// transcribeReopen rebuilds what invalidation tore down before a
// resubmission: the task needs a revision to write on and its fragment
// locked again. The fragment is found by the span the task cached.
func transcribeReopen(e *Engine, tx *store.Tx, task *store.Task) error {
	if task.RevisionID != "" {
		return nil
	}
	fragment, err := tx.FragmentBySpan(task.TranscriptID, task.StartCS, task.EndCS)
	if err != nil {
		return err
	}
	want := types.FragmentEmpty
	if task.IsReview {
		want = types.FragmentTranscribed
	}
	if fragment.State != want {
		return fmt.Errorf("fragment %s is %s, task %s cannot resume: %w",
			fragment.ID, fragment.State, task.ID, types.ErrPreconditionFailed)
	}

	rev := &store.FragmentRevision{
		FragmentID: fragment.ID,
		Sequence:   1,
		Editor:     task.Assignee,
	}
	latest, err := tx.LatestRevision(fragment.ID)
	switch {
	case err == nil:
		rev.Sequence = latest.Sequence + 1
	case !errors.Is(err, types.ErrNotFound):
		return err
	}
	if err := tx.InsertRevision(rev); err != nil {
		return err
	}
	task.RevisionID = rev.ID
	if err := tx.SaveTask(task); err != nil {
		return err
	}
	// Lock last so a contended fragment leaves nothing behind.
	return e.frags.Lock(tx, fragment)
}

func transcribeProcess(e *Engine, tx *store.Tx, task *store.Task) (bool, error) {
	paragraphs := splitParagraphs(task.Text)
	if len(paragraphs) == 0 {
		return false, nil
	}

	rev, err := tx.GetRevision(task.RevisionID)
	if err != nil {
		return false, err
	}
	fragment, err := tx.GetFragment(rev.FragmentID)
	if err != nil {
		return false, err
	}

	for i, text := range paragraphs {
		sf := &store.SentenceFragment{
			RevisionID: rev.ID,
			Sequence:   i + 1,
			Text:       text,
		}
		if err := tx.InsertSentenceFragment(sf); err != nil {
			return false, err
		}
	}

	if !task.IsReview {
		return true, e.frags.Transcribe(tx, fragment)
	}

	prev, err := tx.RevisionBySequence(fragment.ID, rev.Sequence-1)
	if err != nil {
		return false, err
	}
	prevText, err := tx.RevisionText(prev.ID)
	if err != nil {
		return false, err
	}
	// Unchanged text passes review; otherwise the fragment stays
	// transcribed for another round.
	if normalizeText(task.Text) == normalizeText(prevText) {
		return true, e.frags.ReviewTranscript(tx, fragment)
	}
	return true, nil
}

func taskFragment(tx *store.Tx, revisionID string) (*store.Fragment, error) {
	rev, err := tx.GetRevision(revisionID)
	if err != nil {
		return nil, err
	}
	return tx.GetFragment(rev.FragmentID)
}

// splitParagraphs breaks submitted text into sentence fragment texts, one
// per non-blank paragraph.
func splitParagraphs(text string) []string {
	var out []string
	for _, part := range strings.Split(text, "\n\n") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func normalizeText(text string) string {
	return strings.Join(splitParagraphs(text), "\n\n")
}
