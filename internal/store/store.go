package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store handles SQLite database operations for the pipeline.
type Store struct {
	db *sql.DB

	// Serializes transactions so every read-then-write availability check
	// runs as a single atomic unit against the store.
	mu sync.Mutex
}

// Tx is a single transaction against the store. All engine operations run
// inside one.
type Tx struct {
	tx *sql.Tx
}

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	length_cs INTEGER,
	length_state TEXT NOT NULL DEFAULT 'unset',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fragments (
	id TEXT PRIMARY KEY,
	transcript_id TEXT NOT NULL REFERENCES transcripts(id),
	start_cs INTEGER NOT NULL,
	end_cs INTEGER NOT NULL,
	stitched_left INTEGER NOT NULL DEFAULT 0,
	stitched_right INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL DEFAULT 'empty',
	lock_state TEXT NOT NULL DEFAULT 'unlocked',
	UNIQUE(transcript_id, start_cs, end_cs)
);

CREATE TABLE IF NOT EXISTS fragment_revisions (
	id TEXT PRIMARY KEY,
	fragment_id TEXT NOT NULL REFERENCES fragments(id),
	sequence INTEGER NOT NULL,
	editor TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(fragment_id, sequence)
);

CREATE TABLE IF NOT EXISTS sentence_fragments (
	id TEXT PRIMARY KEY,
	revision_id TEXT NOT NULL REFERENCES fragment_revisions(id),
	sequence INTEGER NOT NULL,
	text TEXT NOT NULL,
	UNIQUE(revision_id, sequence)
);

CREATE TABLE IF NOT EXISTS sentences (
	id TEXT PRIMARY KEY,
	transcript_id TEXT NOT NULL REFERENCES transcripts(id),
	state TEXT NOT NULL DEFAULT 'empty',
	clean_state TEXT NOT NULL DEFAULT 'untouched',
	boundary_state TEXT NOT NULL DEFAULT 'untouched',
	speaker_state TEXT NOT NULL DEFAULT 'untouched',
	order_start_cs INTEGER NOT NULL,
	order_seq INTEGER NOT NULL,
	latest_text TEXT,
	latest_start_cs INTEGER,
	latest_end_cs INTEGER,
	latest_speaker_id TEXT
);

CREATE TABLE IF NOT EXISTS sentence_links (
	sentence_id TEXT NOT NULL REFERENCES sentences(id),
	sentence_fragment_id TEXT NOT NULL REFERENCES sentence_fragments(id),
	kind TEXT NOT NULL,
	PRIMARY KEY (sentence_id, sentence_fragment_id, kind)
);

CREATE TABLE IF NOT EXISTS sentence_revisions (
	id TEXT PRIMARY KEY,
	sentence_id TEXT NOT NULL REFERENCES sentences(id),
	sequence INTEGER NOT NULL,
	editor TEXT,
	text TEXT NOT NULL,
	UNIQUE(sentence_id, sequence)
);

CREATE TABLE IF NOT EXISTS sentence_boundaries (
	id TEXT PRIMARY KEY,
	sentence_id TEXT NOT NULL REFERENCES sentences(id),
	sequence INTEGER NOT NULL,
	editor TEXT NOT NULL,
	start_cs INTEGER NOT NULL,
	end_cs INTEGER NOT NULL,
	UNIQUE(sentence_id, sequence)
);

CREATE TABLE IF NOT EXISTS sentence_speakers (
	id TEXT PRIMARY KEY,
	sentence_id TEXT NOT NULL REFERENCES sentences(id),
	sequence INTEGER NOT NULL,
	editor TEXT NOT NULL,
	speaker_id TEXT NOT NULL,
	UNIQUE(sentence_id, sequence)
);

CREATE TABLE IF NOT EXISTS speakers (
	id TEXT PRIMARY KEY,
	transcript_id TEXT NOT NULL REFERENCES transcripts(id),
	name TEXT NOT NULL,
	UNIQUE(transcript_id, name)
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	transcript_id TEXT NOT NULL REFERENCES transcripts(id),
	kind TEXT NOT NULL,
	is_review INTEGER NOT NULL,
	state TEXT NOT NULL DEFAULT 'unassigned',
	assignee TEXT,
	revision_id TEXT,
	left_revision_id TEXT,
	right_revision_id TEXT,
	sentence_id TEXT,
	text TEXT,
	start_cs INTEGER,
	end_cs INTEGER,
	speaker_id TEXT,
	new_name TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stitch_pairings (
	task_id TEXT NOT NULL REFERENCES tasks(id),
	left_id TEXT NOT NULL REFERENCES sentence_fragments(id),
	right_id TEXT NOT NULL REFERENCES sentence_fragments(id),
	UNIQUE(task_id, left_id)
);

CREATE TABLE IF NOT EXISTS workers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	preferred_tasks TEXT NOT NULL,
	task_order TEXT NOT NULL DEFAULT 'sequential'
);

CREATE INDEX IF NOT EXISTS idx_fragments_avail ON fragments(transcript_id, state, lock_state);
CREATE INDEX IF NOT EXISTS idx_sentences_avail ON sentences(transcript_id, state);
CREATE INDEX IF NOT EXISTS idx_tasks_inflight ON tasks(transcript_id, assignee, state);
CREATE INDEX IF NOT EXISTS idx_links_fragment ON sentence_links(sentence_fragment_id, kind);
`

// Open opens (creating if necessary) the pipeline database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}

	return &Store{db: db}, nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error. Transactions are serialized process-wide.
func (s *Store) WithTx(fn func(*Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
