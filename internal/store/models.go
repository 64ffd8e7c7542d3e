package store

import "time"

// Transcript is a transcript of audio to text. Length is set exactly once;
// setting it partitions the timeline into fragments.
type Transcript struct {
	ID          string
	Name        string
	LengthCS    int64 // valid only when LengthState == "set"
	LengthState string
	CreatedAt   time.Time
}

// Fragment is a fixed time-span slice of a transcript, progressed
// independently through the transcription stages.
type Fragment struct {
	ID            string
	TranscriptID  string
	StartCS       int64
	EndCS         int64
	StitchedLeft  bool
	StitchedRight bool
	State         string
	LockState     string
}

// StitchedBothSides reports whether both boundaries of the fragment have
// been stitched, the gate for the stitch and review_stitch transitions.
func (f *Fragment) StitchedBothSides() bool {
	return f.StitchedLeft && f.StitchedRight
}

// FragmentRevision is an immutable, sequenced snapshot of one fragment's
// transcribed text. Its text lives in its child sentence fragments.
type FragmentRevision struct {
	ID         string
	FragmentID string
	Sequence   int
	Editor     string
	CreatedAt  time.Time
}

// SentenceFragment is a piece of sentence text within one revision.
type SentenceFragment struct {
	ID         string
	RevisionID string
	Sequence   int
	Text       string
}

// Sentence membership link kinds.
const (
	LinkCommitted = "committed"
	LinkCandidate = "candidate"
)

// Sentence is a transcript-global unit of text assembled from one or more
// fragments' sentence fragments. The clean/boundary/speaker axes are plain
// unguarded fields written only by task hooks.
type Sentence struct {
	ID              string
	TranscriptID    string
	State           string
	CleanState      string
	BoundaryState   string
	SpeakerState    string
	OrderStartCS    int64
	OrderSeq        int
	LatestText      string
	LatestStartCS   int64
	LatestEndCS     int64
	LatestSpeakerID string
}

// SentenceRevision is a full-text revision of a sentence.
type SentenceRevision struct {
	ID         string
	SentenceID string
	Sequence   int
	Editor     string
	Text       string
}

// SentenceBoundary is a precise start/end span of a sentence.
type SentenceBoundary struct {
	ID         string
	SentenceID string
	Sequence   int
	Editor     string
	StartCS    int64
	EndCS      int64
}

// SentenceSpeaker is an assignment of a speaker to a sentence.
type SentenceSpeaker struct {
	ID         string
	SentenceID string
	Sequence   int
	Editor     string
	SpeakerID  string
}

// Speaker is a named voice, unique per transcript.
type Speaker struct {
	ID           string
	TranscriptID string
	Name         string
}

// Task is one unit of work handed to a worker. A single table holds all
// five kinds; Kind selects which payload columns are meaningful.
type Task struct {
	ID           string
	TranscriptID string
	Kind         string
	IsReview     bool
	State        string
	Assignee     string

	// transcribe payload; start/end/text survive the revision being discarded
	RevisionID string
	Text       string
	StartCS    int64
	EndCS      int64

	// stitch payload
	LeftRevisionID  string
	RightRevisionID string

	// clean/boundary/speaker payload
	SentenceID string
	SpeakerID  string
	NewName    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StitchPairing proposes that a left and right sentence fragment belong to
// the same sentence across a stitch boundary.
type StitchPairing struct {
	TaskID  string
	LeftID  string
	RightID string
}

// Worker is an editor account with scheduling preferences.
type Worker struct {
	ID             string
	Name           string
	PreferredTasks []string
	TaskOrder      string // "sequential" or "eager"
}
