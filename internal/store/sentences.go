package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

const sentenceCols = `id, transcript_id, state, clean_state, boundary_state, speaker_state,
	order_start_cs, order_seq, latest_text, latest_start_cs, latest_end_cs, latest_speaker_id`

// Refinement axes, each naming one unguarded sentence state column.
const (
	AxisClean    = "clean"
	AxisBoundary = "boundary"
	AxisSpeaker  = "speaker"
)

var axisColumns = map[string]string{
	AxisClean:    "clean_state",
	AxisBoundary: "boundary_state",
	AxisSpeaker:  "speaker_state",
}

// InsertSentence stores a new sentence.
func (t *Tx) InsertSentence(s *Sentence) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := t.tx.Exec(`
		INSERT INTO sentences (id, transcript_id, state, clean_state, boundary_state,
			speaker_state, order_start_cs, order_seq, latest_text, latest_start_cs,
			latest_end_cs, latest_speaker_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, NULL)`,
		s.ID, s.TranscriptID, s.State, s.CleanState, s.BoundaryState,
		s.SpeakerState, s.OrderStartCS, s.OrderSeq)
	if err != nil {
		return fmt.Errorf("failed to insert sentence: %v", err)
	}
	return nil
}

// GetSentence retrieves a sentence by id.
func (t *Tx) GetSentence(id string) (*Sentence, error) {
	row := t.tx.QueryRow(`SELECT `+sentenceCols+` FROM sentences WHERE id = ?`, id)
	return scanSentence(row)
}

// AvailableSentences returns completed sentences whose refinement axis is in
// the given state, in transcript order. This backs the clean, boundary and
// speaker task candidate filters.
func (t *Tx) AvailableSentences(transcriptID, axis, refState string) ([]*Sentence, error) {
	col, ok := axisColumns[axis]
	if !ok {
		return nil, fmt.Errorf("unknown refinement axis %q", axis)
	}
	rows, err := t.tx.Query(`
		SELECT `+sentenceCols+` FROM sentences
		WHERE transcript_id = ? AND state = ? AND `+col+` = ?
		ORDER BY order_start_cs, order_seq, id`,
		transcriptID, types.SentenceCompleted, refState)
	if err != nil {
		return nil, fmt.Errorf("failed to query available sentences: %v", err)
	}
	return collectSentences(rows)
}

// CompletedSentences returns all completed sentences in transcript order.
func (t *Tx) CompletedSentences(transcriptID string) ([]*Sentence, error) {
	rows, err := t.tx.Query(`
		SELECT `+sentenceCols+` FROM sentences
		WHERE transcript_id = ? AND state = ?
		ORDER BY order_start_cs, order_seq, id`,
		transcriptID, types.SentenceCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed sentences: %v", err)
	}
	return collectSentences(rows)
}

// UpdateSentenceState advances a sentence's primary state.
func (t *Tx) UpdateSentenceState(id, state string) error {
	_, err := t.tx.Exec(`UPDATE sentences SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("failed to update sentence state: %v", err)
	}
	return nil
}

// SetRefinementState writes one of the unguarded refinement axes. Only task
// hooks call this; the axis itself acts as the sentence's lock.
func (t *Tx) SetRefinementState(id, axis, state string) error {
	col, ok := axisColumns[axis]
	if !ok {
		return fmt.Errorf("unknown refinement axis %q", axis)
	}
	_, err := t.tx.Exec(`UPDATE sentences SET `+col+` = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("failed to update sentence %s state: %v", axis, err)
	}
	return nil
}

// UpdateSentenceLatestSpan writes the cached span directly, without
// appending a boundary record. Completion uses this for the initial
// envelope; boundary records start with the first boundary task.
func (t *Tx) UpdateSentenceLatestSpan(id string, startCS, endCS int64) error {
	_, err := t.tx.Exec(`
		UPDATE sentences SET latest_start_cs = ?, latest_end_cs = ? WHERE id = ?`,
		startCS, endCS, id)
	if err != nil {
		return fmt.Errorf("failed to update latest span: %v", err)
	}
	return nil
}

// DeleteSentence removes a sentence and everything hanging off it. The
// merge pass uses this to discard non-surviving sentences.
func (t *Tx) DeleteSentence(id string) error {
	for _, stmt := range []string{
		`DELETE FROM sentence_links WHERE sentence_id = ?`,
		`DELETE FROM sentence_revisions WHERE sentence_id = ?`,
		`DELETE FROM sentence_boundaries WHERE sentence_id = ?`,
		`DELETE FROM sentence_speakers WHERE sentence_id = ?`,
		`DELETE FROM sentences WHERE id = ?`,
	} {
		if _, err := t.tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("failed to delete sentence: %v", err)
		}
	}
	return nil
}

// AddSentenceLink relates a sentence fragment to a sentence as committed or
// candidate membership. Adding an existing link is a no-op.
func (t *Tx) AddSentenceLink(sentenceID, sentenceFragmentID, kind string) error {
	_, err := t.tx.Exec(`
		INSERT OR IGNORE INTO sentence_links (sentence_id, sentence_fragment_id, kind)
		VALUES (?, ?, ?)`, sentenceID, sentenceFragmentID, kind)
	if err != nil {
		return fmt.Errorf("failed to add sentence link: %v", err)
	}
	return nil
}

// RemoveSentenceLink drops a membership relation.
func (t *Tx) RemoveSentenceLink(sentenceID, sentenceFragmentID, kind string) error {
	_, err := t.tx.Exec(`
		DELETE FROM sentence_links
		WHERE sentence_id = ? AND sentence_fragment_id = ? AND kind = ?`,
		sentenceID, sentenceFragmentID, kind)
	if err != nil {
		return fmt.Errorf("failed to remove sentence link: %v", err)
	}
	return nil
}

// ChangeLinkKind moves one membership between candidate and committed.
func (t *Tx) ChangeLinkKind(sentenceID, sentenceFragmentID, from, to string) error {
	_, err := t.tx.Exec(`
		UPDATE OR IGNORE sentence_links SET kind = ?
		WHERE sentence_id = ? AND sentence_fragment_id = ? AND kind = ?`,
		to, sentenceID, sentenceFragmentID, from)
	if err != nil {
		return fmt.Errorf("failed to change link kind: %v", err)
	}
	// Drop the old row if the target already existed.
	return t.RemoveSentenceLink(sentenceID, sentenceFragmentID, from)
}

// MoveSentenceLinks reassigns every membership of one sentence onto another,
// silently dropping relations the target already has.
func (t *Tx) MoveSentenceLinks(fromSentenceID, toSentenceID string) error {
	_, err := t.tx.Exec(`
		UPDATE OR IGNORE sentence_links SET sentence_id = ?
		WHERE sentence_id = ?`, toSentenceID, fromSentenceID)
	if err != nil {
		return fmt.Errorf("failed to move sentence links: %v", err)
	}
	if _, err := t.tx.Exec(`DELETE FROM sentence_links WHERE sentence_id = ?`, fromSentenceID); err != nil {
		return fmt.Errorf("failed to clear moved sentence links: %v", err)
	}
	return nil
}

// SentencesLinked returns, in transcript order, the sentences related to a
// sentence fragment with the given membership kind.
func (t *Tx) SentencesLinked(sentenceFragmentID, kind string) ([]*Sentence, error) {
	rows, err := t.tx.Query(`
		SELECT `+prefixedSentenceCols("s")+` FROM sentences s
		JOIN sentence_links l ON l.sentence_id = s.id
		WHERE l.sentence_fragment_id = ? AND l.kind = ?
		ORDER BY s.order_start_cs, s.order_seq, s.id`,
		sentenceFragmentID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked sentences: %v", err)
	}
	return collectSentences(rows)
}

// LinkedFragments returns a sentence's member fragments with the given
// kind, ordered by their position in the transcript.
func (t *Tx) LinkedFragments(sentenceID, kind string) ([]*SentenceFragment, error) {
	rows, err := t.tx.Query(`
		SELECT sf.id, sf.revision_id, sf.sequence, sf.text
		FROM sentence_fragments sf
		JOIN sentence_links l ON l.sentence_fragment_id = sf.id
		JOIN fragment_revisions r ON r.id = sf.revision_id
		JOIN fragments f ON f.id = r.fragment_id
		WHERE l.sentence_id = ? AND l.kind = ?
		ORDER BY f.start_cs, sf.sequence`,
		sentenceID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked fragments: %v", err)
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

// CountLinks counts a sentence's memberships of the given kind.
func (t *Tx) CountLinks(sentenceID, kind string) (int, error) {
	var n int
	err := t.tx.QueryRow(`
		SELECT COUNT(*) FROM sentence_links WHERE sentence_id = ? AND kind = ?`,
		sentenceID, kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sentence links: %v", err)
	}
	return n, nil
}

// AppendSentenceRevision appends a full-text revision and refreshes the
// sentence's latest_text cache.
func (t *Tx) AppendSentenceRevision(sentenceID, editor, text string) (*SentenceRevision, error) {
	seq, err := t.nextSequence("sentence_revisions", sentenceID)
	if err != nil {
		return nil, err
	}
	rev := &SentenceRevision{
		ID:         uuid.New().String(),
		SentenceID: sentenceID,
		Sequence:   seq,
		Editor:     editor,
		Text:       text,
	}
	_, err = t.tx.Exec(`
		INSERT INTO sentence_revisions (id, sentence_id, sequence, editor, text)
		VALUES (?, ?, ?, ?, ?)`,
		rev.ID, rev.SentenceID, rev.Sequence, rev.Editor, rev.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to append sentence revision: %v", err)
	}
	if _, err := t.tx.Exec(`UPDATE sentences SET latest_text = ? WHERE id = ?`, text, sentenceID); err != nil {
		return nil, fmt.Errorf("failed to update latest text: %v", err)
	}
	return rev, nil
}

// AppendSentenceBoundary appends a span record and refreshes the latest
// start/end cache.
func (t *Tx) AppendSentenceBoundary(sentenceID, editor string, startCS, endCS int64) (*SentenceBoundary, error) {
	seq, err := t.nextSequence("sentence_boundaries", sentenceID)
	if err != nil {
		return nil, err
	}
	b := &SentenceBoundary{
		ID:         uuid.New().String(),
		SentenceID: sentenceID,
		Sequence:   seq,
		Editor:     editor,
		StartCS:    startCS,
		EndCS:      endCS,
	}
	_, err = t.tx.Exec(`
		INSERT INTO sentence_boundaries (id, sentence_id, sequence, editor, start_cs, end_cs)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.SentenceID, b.Sequence, b.Editor, b.StartCS, b.EndCS)
	if err != nil {
		return nil, fmt.Errorf("failed to append sentence boundary: %v", err)
	}
	_, err = t.tx.Exec(`
		UPDATE sentences SET latest_start_cs = ?, latest_end_cs = ? WHERE id = ?`,
		startCS, endCS, sentenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to update latest boundary: %v", err)
	}
	return b, nil
}

// AppendSentenceSpeaker appends a speaker assignment and refreshes the
// latest speaker cache.
func (t *Tx) AppendSentenceSpeaker(sentenceID, editor, speakerID string) (*SentenceSpeaker, error) {
	seq, err := t.nextSequence("sentence_speakers", sentenceID)
	if err != nil {
		return nil, err
	}
	sp := &SentenceSpeaker{
		ID:         uuid.New().String(),
		SentenceID: sentenceID,
		Sequence:   seq,
		Editor:     editor,
		SpeakerID:  speakerID,
	}
	_, err = t.tx.Exec(`
		INSERT INTO sentence_speakers (id, sentence_id, sequence, editor, speaker_id)
		VALUES (?, ?, ?, ?, ?)`,
		sp.ID, sp.SentenceID, sp.Sequence, sp.Editor, sp.SpeakerID)
	if err != nil {
		return nil, fmt.Errorf("failed to append sentence speaker: %v", err)
	}
	if _, err := t.tx.Exec(`UPDATE sentences SET latest_speaker_id = ? WHERE id = ?`, speakerID, sentenceID); err != nil {
		return nil, fmt.Errorf("failed to update latest speaker: %v", err)
	}
	return sp, nil
}

// LatestTwoRevisions returns up to two revisions, newest first. Review
// validation compares them for equality.
func (t *Tx) LatestTwoRevisions(sentenceID string) ([]*SentenceRevision, error) {
	rows, err := t.tx.Query(`
		SELECT id, sentence_id, sequence, editor, text
		FROM sentence_revisions WHERE sentence_id = ?
		ORDER BY sequence DESC LIMIT 2`, sentenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentence revisions: %v", err)
	}
	defer rows.Close()

	var revs []*SentenceRevision
	for rows.Next() {
		var r SentenceRevision
		var editor sql.NullString
		if err := rows.Scan(&r.ID, &r.SentenceID, &r.Sequence, &editor, &r.Text); err != nil {
			return nil, err
		}
		r.Editor = editor.String
		revs = append(revs, &r)
	}
	return revs, rows.Err()
}

// LatestTwoBoundaries returns up to two boundary records, newest first.
func (t *Tx) LatestTwoBoundaries(sentenceID string) ([]*SentenceBoundary, error) {
	rows, err := t.tx.Query(`
		SELECT id, sentence_id, sequence, editor, start_cs, end_cs
		FROM sentence_boundaries WHERE sentence_id = ?
		ORDER BY sequence DESC LIMIT 2`, sentenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentence boundaries: %v", err)
	}
	defer rows.Close()

	var bounds []*SentenceBoundary
	for rows.Next() {
		var b SentenceBoundary
		if err := rows.Scan(&b.ID, &b.SentenceID, &b.Sequence, &b.Editor, &b.StartCS, &b.EndCS); err != nil {
			return nil, err
		}
		bounds = append(bounds, &b)
	}
	return bounds, rows.Err()
}

// LatestTwoSpeakers returns up to two speaker assignments, newest first.
func (t *Tx) LatestTwoSpeakers(sentenceID string) ([]*SentenceSpeaker, error) {
	rows, err := t.tx.Query(`
		SELECT id, sentence_id, sequence, editor, speaker_id
		FROM sentence_speakers WHERE sentence_id = ?
		ORDER BY sequence DESC LIMIT 2`, sentenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentence speakers: %v", err)
	}
	defer rows.Close()

	var sps []*SentenceSpeaker
	for rows.Next() {
		var sp SentenceSpeaker
		if err := rows.Scan(&sp.ID, &sp.SentenceID, &sp.Sequence, &sp.Editor, &sp.SpeakerID); err != nil {
			return nil, err
		}
		sps = append(sps, &sp)
	}
	return sps, rows.Err()
}

// GetOrCreateSpeaker finds a speaker by name within a transcript, creating
// it if absent. Names are unique per transcript.
func (t *Tx) GetOrCreateSpeaker(transcriptID, name string) (*Speaker, error) {
	var sp Speaker
	err := t.tx.QueryRow(`
		SELECT id, transcript_id, name FROM speakers
		WHERE transcript_id = ? AND name = ?`, transcriptID, name).
		Scan(&sp.ID, &sp.TranscriptID, &sp.Name)
	if err == nil {
		return &sp, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query speaker: %v", err)
	}

	sp = Speaker{ID: uuid.New().String(), TranscriptID: transcriptID, Name: name}
	_, err = t.tx.Exec(`
		INSERT INTO speakers (id, transcript_id, name) VALUES (?, ?, ?)`,
		sp.ID, sp.TranscriptID, sp.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to insert speaker: %v", err)
	}
	return &sp, nil
}

// GetSpeaker retrieves a speaker by id.
func (t *Tx) GetSpeaker(id string) (*Speaker, error) {
	var sp Speaker
	err := t.tx.QueryRow(`
		SELECT id, transcript_id, name FROM speakers WHERE id = ?`, id).
		Scan(&sp.ID, &sp.TranscriptID, &sp.Name)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("speaker: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan speaker: %v", err)
	}
	return &sp, nil
}

// ListSpeakers returns a transcript's speakers by name.
func (t *Tx) ListSpeakers(transcriptID string) ([]*Speaker, error) {
	rows, err := t.tx.Query(`
		SELECT id, transcript_id, name FROM speakers
		WHERE transcript_id = ? ORDER BY name`, transcriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list speakers: %v", err)
	}
	defer rows.Close()

	var speakers []*Speaker
	for rows.Next() {
		var sp Speaker
		if err := rows.Scan(&sp.ID, &sp.TranscriptID, &sp.Name); err != nil {
			return nil, err
		}
		speakers = append(speakers, &sp)
	}
	return speakers, rows.Err()
}

func (t *Tx) nextSequence(table, sentenceID string) (int, error) {
	var seq sql.NullInt64
	err := t.tx.QueryRow(
		`SELECT MAX(sequence) FROM `+table+` WHERE sentence_id = ?`, sentenceID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s sequence: %v", table, err)
	}
	return int(seq.Int64) + 1, nil
}

func prefixedSentenceCols(alias string) string {
	return alias + `.id, ` + alias + `.transcript_id, ` + alias + `.state, ` +
		alias + `.clean_state, ` + alias + `.boundary_state, ` + alias + `.speaker_state, ` +
		alias + `.order_start_cs, ` + alias + `.order_seq, ` + alias + `.latest_text, ` +
		alias + `.latest_start_cs, ` + alias + `.latest_end_cs, ` + alias + `.latest_speaker_id`
}

func scanSentence(row rowScanner) (*Sentence, error) {
	var s Sentence
	var text, speakerID sql.NullString
	var startCS, endCS sql.NullInt64
	err := row.Scan(&s.ID, &s.TranscriptID, &s.State, &s.CleanState, &s.BoundaryState,
		&s.SpeakerState, &s.OrderStartCS, &s.OrderSeq, &text, &startCS, &endCS, &speakerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sentence: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sentence: %v", err)
	}
	s.LatestText = text.String
	s.LatestStartCS = startCS.Int64
	s.LatestEndCS = endCS.Int64
	s.LatestSpeakerID = speakerID.String
	return &s, nil
}

func collectSentences(rows *sql.Rows) ([]*Sentence, error) {
	defer rows.Close()
	var sentences []*Sentence
	for rows.Next() {
		s, err := scanSentence(rows)
		if err != nil {
			return nil, err
		}
		sentences = append(sentences, s)
	}
	return sentences, rows.Err()
}
