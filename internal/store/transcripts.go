package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// CreateTranscript inserts a new transcript with an unset length.
func (t *Tx) CreateTranscript(name string) (*Transcript, error) {
	tr := &Transcript{
		ID:          uuid.New().String(),
		Name:        name,
		LengthState: types.LengthUnset,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := t.tx.Exec(`
		INSERT INTO transcripts (id, name, length_cs, length_state, created_at)
		VALUES (?, ?, NULL, ?, ?)`,
		tr.ID, tr.Name, tr.LengthState, tr.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transcript: %v", err)
	}
	return tr, nil
}

// GetTranscript retrieves a transcript by id.
func (t *Tx) GetTranscript(id string) (*Transcript, error) {
	row := t.tx.QueryRow(`
		SELECT id, name, length_cs, length_state, created_at
		FROM transcripts WHERE id = ?`, id)
	return scanTranscript(row)
}

// ListTranscripts returns the most recently created transcripts.
func (t *Tx) ListTranscripts(limit int) ([]*Transcript, error) {
	rows, err := t.tx.Query(`
		SELECT id, name, length_cs, length_state, created_at
		FROM transcripts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %v", err)
	}
	defer rows.Close()

	var transcripts []*Transcript
	for rows.Next() {
		tr, err := scanTranscript(rows)
		if err != nil {
			return nil, err
		}
		transcripts = append(transcripts, tr)
	}
	return transcripts, rows.Err()
}

// SetTranscriptLength records the one-shot length of a transcript.
func (t *Tx) SetTranscriptLength(id string, lengthCS int64) error {
	res, err := t.tx.Exec(`
		UPDATE transcripts SET length_cs = ?, length_state = ?
		WHERE id = ? AND length_state = ?`,
		lengthCS, types.LengthSet, id, types.LengthUnset)
	if err != nil {
		return fmt.Errorf("failed to set transcript length: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transcript %s length already set: %w", id, types.ErrPreconditionFailed)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row rowScanner) (*Transcript, error) {
	var tr Transcript
	var length sql.NullInt64
	err := row.Scan(&tr.ID, &tr.Name, &length, &tr.LengthState, &tr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transcript: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transcript: %v", err)
	}
	if length.Valid {
		tr.LengthCS = length.Int64
	}
	return &tr, nil
}
