package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

const fragmentCols = "id, transcript_id, start_cs, end_cs, stitched_left, stitched_right, state, lock_state"

// InsertFragment stores a new fragment.
func (t *Tx) InsertFragment(f *Fragment) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	_, err := t.tx.Exec(`
		INSERT INTO fragments (`+fragmentCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TranscriptID, f.StartCS, f.EndCS,
		f.StitchedLeft, f.StitchedRight, f.State, f.LockState)
	if err != nil {
		return fmt.Errorf("failed to insert fragment: %v", err)
	}
	return nil
}

// GetFragment retrieves a fragment by id.
func (t *Tx) GetFragment(id string) (*Fragment, error) {
	row := t.tx.QueryRow(`SELECT `+fragmentCols+` FROM fragments WHERE id = ?`, id)
	return scanFragment(row)
}

// FragmentBySpan retrieves the transcript's fragment covering exactly the
// given span. Spans are stable, so a task that lost its revision can still
// find its fragment.
func (t *Tx) FragmentBySpan(transcriptID string, startCS, endCS int64) (*Fragment, error) {
	row := t.tx.QueryRow(`
		SELECT `+fragmentCols+` FROM fragments
		WHERE transcript_id = ? AND start_cs = ? AND end_cs = ?`,
		transcriptID, startCS, endCS)
	return scanFragment(row)
}

// FragmentsByTranscript returns a transcript's fragments ordered by start.
func (t *Tx) FragmentsByTranscript(transcriptID string) ([]*Fragment, error) {
	rows, err := t.tx.Query(`
		SELECT `+fragmentCols+` FROM fragments
		WHERE transcript_id = ? ORDER BY start_cs`, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %v", err)
	}
	return collectFragments(rows)
}

// AvailableFragments returns unlocked fragments in the given state, ordered
// by start. This backs the transcribe task candidate filters.
func (t *Tx) AvailableFragments(transcriptID, state string) ([]*Fragment, error) {
	rows, err := t.tx.Query(`
		SELECT `+fragmentCols+` FROM fragments
		WHERE transcript_id = ? AND state = ? AND lock_state = ?
		ORDER BY start_cs`, transcriptID, state, types.LockUnlocked)
	if err != nil {
		return nil, fmt.Errorf("failed to query available fragments: %v", err)
	}
	return collectFragments(rows)
}

// StitchCandidates returns unlocked fragments whose state is in states and
// whose stitched_right flag matches, ordered by start. These are the left
// sides of potential stitch pairs.
func (t *Tx) StitchCandidates(transcriptID string, states []string, stitchedRight bool) ([]*Fragment, error) {
	query := `
		SELECT ` + fragmentCols + ` FROM fragments
		WHERE transcript_id = ? AND lock_state = ? AND stitched_right = ?
		AND state IN (` + placeholders(len(states)) + `)
		ORDER BY start_cs`
	args := []any{transcriptID, types.LockUnlocked, stitchedRight}
	for _, s := range states {
		args = append(args, s)
	}
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stitch candidates: %v", err)
	}
	return collectFragments(rows)
}

// StitchNeighbor looks up the unique unlocked fragment starting exactly at
// startCS whose state is in states and whose stitched_left flag matches.
func (t *Tx) StitchNeighbor(transcriptID string, startCS int64, states []string, stitchedLeft bool) (*Fragment, error) {
	query := `
		SELECT ` + fragmentCols + ` FROM fragments
		WHERE transcript_id = ? AND start_cs = ? AND lock_state = ? AND stitched_left = ?
		AND state IN (` + placeholders(len(states)) + `)`
	args := []any{transcriptID, startCS, types.LockUnlocked, stitchedLeft}
	for _, s := range states {
		args = append(args, s)
	}
	row := t.tx.QueryRow(query, args...)
	return scanFragment(row)
}

// UpdateFragmentState advances a fragment's pipeline state.
func (t *Tx) UpdateFragmentState(id, state string) error {
	_, err := t.tx.Exec(`UPDATE fragments SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("failed to update fragment state: %v", err)
	}
	return nil
}

// UpdateFragmentLockState mirrors the lock manager's view into the row so
// availability queries can filter on it.
func (t *Tx) UpdateFragmentLockState(id, lockState string) error {
	_, err := t.tx.Exec(`UPDATE fragments SET lock_state = ? WHERE id = ?`, lockState, id)
	if err != nil {
		return fmt.Errorf("failed to update fragment lock state: %v", err)
	}
	return nil
}

// UpdateFragmentStitched records the boundary stitch flags.
func (t *Tx) UpdateFragmentStitched(id string, left, right bool) error {
	_, err := t.tx.Exec(`
		UPDATE fragments SET stitched_left = ?, stitched_right = ? WHERE id = ?`,
		left, right, id)
	if err != nil {
		return fmt.Errorf("failed to update fragment stitch flags: %v", err)
	}
	return nil
}

// LockedFragmentIDs returns the ids of every fragment still marked locked,
// used to reseed the lock manager after a restart.
func (t *Tx) LockedFragmentIDs() ([]string, error) {
	rows, err := t.tx.Query(`SELECT id FROM fragments WHERE lock_state = ?`, types.LockLocked)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked fragments: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertRevision stores a new fragment revision.
func (t *Tx) InsertRevision(r *FragmentRevision) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(`
		INSERT INTO fragment_revisions (id, fragment_id, sequence, editor, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.FragmentID, r.Sequence, r.Editor, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert revision: %v", err)
	}
	return nil
}

// GetRevision retrieves a revision by id.
func (t *Tx) GetRevision(id string) (*FragmentRevision, error) {
	row := t.tx.QueryRow(`
		SELECT id, fragment_id, sequence, editor, created_at
		FROM fragment_revisions WHERE id = ?`, id)
	return scanRevision(row)
}

// LatestRevision returns the highest-sequence revision of a fragment.
func (t *Tx) LatestRevision(fragmentID string) (*FragmentRevision, error) {
	row := t.tx.QueryRow(`
		SELECT id, fragment_id, sequence, editor, created_at
		FROM fragment_revisions WHERE fragment_id = ?
		ORDER BY sequence DESC LIMIT 1`, fragmentID)
	return scanRevision(row)
}

// RevisionBySequence retrieves one specific revision of a fragment.
func (t *Tx) RevisionBySequence(fragmentID string, sequence int) (*FragmentRevision, error) {
	row := t.tx.QueryRow(`
		SELECT id, fragment_id, sequence, editor, created_at
		FROM fragment_revisions WHERE fragment_id = ? AND sequence = ?`,
		fragmentID, sequence)
	return scanRevision(row)
}

// DeleteRevision removes a revision along with its sentence fragments and
// their sentence links. Used when a transcribe task is invalidated.
func (t *Tx) DeleteRevision(id string) error {
	_, err := t.tx.Exec(`
		DELETE FROM sentence_links WHERE sentence_fragment_id IN
		(SELECT id FROM sentence_fragments WHERE revision_id = ?)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete revision links: %v", err)
	}
	if _, err := t.tx.Exec(`DELETE FROM sentence_fragments WHERE revision_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete revision sentence fragments: %v", err)
	}
	if _, err := t.tx.Exec(`DELETE FROM fragment_revisions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete revision: %v", err)
	}
	return nil
}

// InsertSentenceFragment stores a piece of sentence text on a revision.
func (t *Tx) InsertSentenceFragment(sf *SentenceFragment) error {
	if sf.ID == "" {
		sf.ID = uuid.New().String()
	}
	_, err := t.tx.Exec(`
		INSERT INTO sentence_fragments (id, revision_id, sequence, text)
		VALUES (?, ?, ?, ?)`,
		sf.ID, sf.RevisionID, sf.Sequence, sf.Text)
	if err != nil {
		return fmt.Errorf("failed to insert sentence fragment: %v", err)
	}
	return nil
}

// GetSentenceFragment retrieves a sentence fragment by id.
func (t *Tx) GetSentenceFragment(id string) (*SentenceFragment, error) {
	row := t.tx.QueryRow(`
		SELECT id, revision_id, sequence, text
		FROM sentence_fragments WHERE id = ?`, id)
	var sf SentenceFragment
	err := row.Scan(&sf.ID, &sf.RevisionID, &sf.Sequence, &sf.Text)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sentence fragment: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sentence fragment: %v", err)
	}
	return &sf, nil
}

// SentenceFragmentsByRevision returns a revision's sentence fragments in order.
func (t *Tx) SentenceFragmentsByRevision(revisionID string) ([]*SentenceFragment, error) {
	rows, err := t.tx.Query(`
		SELECT id, revision_id, sequence, text
		FROM sentence_fragments WHERE revision_id = ?
		ORDER BY sequence`, revisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentence fragments: %v", err)
	}
	defer rows.Close()

	var sfs []*SentenceFragment
	for rows.Next() {
		var sf SentenceFragment
		if err := rows.Scan(&sf.ID, &sf.RevisionID, &sf.Sequence, &sf.Text); err != nil {
			return nil, err
		}
		sfs = append(sfs, &sf)
	}
	return sfs, rows.Err()
}

// RevisionText derives a revision's full text from its sentence fragments.
func (t *Tx) RevisionText(revisionID string) (string, error) {
	sfs, err := t.SentenceFragmentsByRevision(revisionID)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(sfs))
	for i, sf := range sfs {
		parts[i] = sf.Text
	}
	return strings.Join(parts, "\n\n"), nil
}

func scanFragment(row rowScanner) (*Fragment, error) {
	var f Fragment
	err := row.Scan(&f.ID, &f.TranscriptID, &f.StartCS, &f.EndCS,
		&f.StitchedLeft, &f.StitchedRight, &f.State, &f.LockState)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("fragment: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan fragment: %v", err)
	}
	return &f, nil
}

func scanRevision(row rowScanner) (*FragmentRevision, error) {
	var r FragmentRevision
	err := row.Scan(&r.ID, &r.FragmentID, &r.Sequence, &r.Editor, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("revision: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan revision: %v", err)
	}
	return &r, nil
}

func collectFragments(rows *sql.Rows) ([]*Fragment, error) {
	defer rows.Close()
	var fragments []*Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
