package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

const taskCols = `id, transcript_id, kind, is_review, state, assignee,
	revision_id, left_revision_id, right_revision_id, sentence_id,
	text, start_cs, end_cs, speaker_id, new_name, created_at, updated_at`

// InsertTask stores a new task.
func (t *Tx) InsertTask(task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	_, err := t.tx.Exec(`
		INSERT INTO tasks (`+taskCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.TranscriptID, task.Kind, task.IsReview, task.State,
		nullable(task.Assignee), nullable(task.RevisionID),
		nullable(task.LeftRevisionID), nullable(task.RightRevisionID),
		nullable(task.SentenceID), nullable(task.Text),
		task.StartCS, task.EndCS, nullable(task.SpeakerID), nullable(task.NewName),
		task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %v", err)
	}
	return nil
}

// SaveTask writes back a task's mutable fields.
func (t *Tx) SaveTask(task *Task) error {
	task.UpdatedAt = time.Now().UTC()
	_, err := t.tx.Exec(`
		UPDATE tasks SET state = ?, assignee = ?, revision_id = ?, text = ?,
			start_cs = ?, end_cs = ?, speaker_id = ?, new_name = ?, updated_at = ?
		WHERE id = ?`,
		task.State, nullable(task.Assignee), nullable(task.RevisionID),
		nullable(task.Text), task.StartCS, task.EndCS,
		nullable(task.SpeakerID), nullable(task.NewName), task.UpdatedAt, task.ID)
	if err != nil {
		return fmt.Errorf("failed to save task: %v", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (t *Tx) GetTask(id string) (*Task, error) {
	row := t.tx.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// PresentedTask returns the first open task already presented to the worker
// in this transcript, if any. At most one should exist.
func (t *Tx) PresentedTask(transcriptID, assignee string) (*Task, error) {
	row := t.tx.QueryRow(`
		SELECT `+taskCols+` FROM tasks
		WHERE transcript_id = ? AND assignee = ? AND state = ?
		ORDER BY created_at LIMIT 1`,
		transcriptID, assignee, types.TaskPresented)
	return scanTask(row)
}

// StaleTasks returns open tasks untouched since the cutoff, candidates for
// expiry.
func (t *Tx) StaleTasks(cutoff time.Time) ([]*Task, error) {
	rows, err := t.tx.Query(`
		SELECT `+taskCols+` FROM tasks
		WHERE state IN (?, ?) AND updated_at < ?
		ORDER BY updated_at`,
		types.TaskAssigned, types.TaskPresented, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale tasks: %v", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// InsertPairing records a proposed left/right sentence fragment alignment
// for a stitch task. At most one pairing per left fragment.
func (t *Tx) InsertPairing(taskID, leftID, rightID string) error {
	_, err := t.tx.Exec(`
		INSERT OR IGNORE INTO stitch_pairings (task_id, left_id, right_id)
		VALUES (?, ?, ?)`, taskID, leftID, rightID)
	if err != nil {
		return fmt.Errorf("failed to insert pairing: %v", err)
	}
	return nil
}

// DeletePairings clears a task's pairings, ahead of storing a submission.
func (t *Tx) DeletePairings(taskID string) error {
	if _, err := t.tx.Exec(`DELETE FROM stitch_pairings WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to delete pairings: %v", err)
	}
	return nil
}

// PairingsByTask returns a task's pairings ordered by the left fragment's
// position in the transcript.
func (t *Tx) PairingsByTask(taskID string) ([]*StitchPairing, error) {
	rows, err := t.tx.Query(`
		SELECT p.task_id, p.left_id, p.right_id
		FROM stitch_pairings p
		JOIN sentence_fragments sf ON sf.id = p.left_id
		JOIN fragment_revisions r ON r.id = sf.revision_id
		JOIN fragments f ON f.id = r.fragment_id
		WHERE p.task_id = ?
		ORDER BY f.start_cs, sf.sequence`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pairings: %v", err)
	}
	defer rows.Close()

	var pairings []*StitchPairing
	for rows.Next() {
		var p StitchPairing
		if err := rows.Scan(&p.TaskID, &p.LeftID, &p.RightID); err != nil {
			return nil, err
		}
		pairings = append(pairings, &p)
	}
	return pairings, rows.Err()
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var assignee, revisionID, leftID, rightID, sentenceID, text, speakerID, newName sql.NullString
	var startCS, endCS sql.NullInt64
	err := row.Scan(&task.ID, &task.TranscriptID, &task.Kind, &task.IsReview,
		&task.State, &assignee, &revisionID, &leftID, &rightID, &sentenceID,
		&text, &startCS, &endCS, &speakerID, &newName,
		&task.CreatedAt, &task.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %v", err)
	}
	task.Assignee = assignee.String
	task.RevisionID = revisionID.String
	task.LeftRevisionID = leftID.String
	task.RightRevisionID = rightID.String
	task.SentenceID = sentenceID.String
	task.Text = text.String
	task.StartCS = startCS.Int64
	task.EndCS = endCS.Int64
	task.SpeakerID = speakerID.String
	task.NewName = newName.String
	return &task, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
