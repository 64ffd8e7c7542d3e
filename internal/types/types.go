package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Fragment state constants (linear, one-directional)
const (
	FragmentEmpty              = "empty"
	FragmentTranscribed        = "transcribed"
	FragmentTranscriptReviewed = "transcript_reviewed"
	FragmentStitched           = "stitched"
	FragmentStitchReviewed     = "stitch_reviewed"
)

// Fragment lock state constants
const (
	LockUnlocked = "unlocked"
	LockLocked   = "locked"
)

// Sentence state constants
const (
	SentenceEmpty     = "empty"
	SentencePartial   = "partial"
	SentenceCompleted = "completed"
)

// Refinement state constants shared by the clean, boundary and speaker axes
const (
	RefinementUntouched = "untouched"
	RefinementEditing   = "editing"
	RefinementEdited    = "edited"
	RefinementReviewing = "reviewing"
	RefinementReviewed  = "reviewed"
)

// Task state constants
const (
	TaskUnassigned = "unassigned"
	TaskAssigned   = "assigned"
	TaskPresented  = "presented"
	TaskSubmitted  = "submitted"
	TaskValid      = "valid"
	TaskInvalid    = "invalid"
	TaskExpired    = "expired"
	TaskAborted    = "aborted"
)

// Transcript length state constants
const (
	LengthUnset = "unset"
	LengthSet   = "set"
)

// Task kind constants
const (
	KindTranscribe = "transcribe"
	KindStitch     = "stitch"
	KindClean      = "clean"
	KindBoundary   = "boundary"
	KindSpeaker    = "speaker"
)

// Kinds lists all task kinds in pipeline order.
var Kinds = []string{KindTranscribe, KindStitch, KindClean, KindBoundary, KindSpeaker}

// Category is a (kind, review) pair a worker can ask the scheduler for.
type Category struct {
	Kind     string
	IsReview bool
}

// Name returns the request-facing name of the category, e.g. "stitch_review".
func (c Category) Name() string {
	if c.IsReview {
		return c.Kind + "_review"
	}
	return c.Kind
}

// Permission returns the authorization action name for the category.
func (c Category) Permission() string {
	if c.IsReview {
		return fmt.Sprintf("add_%s_review", c.Kind)
	}
	return fmt.Sprintf("add_%s", c.Kind)
}

// Requested category names that expand to a full priority ordering.
const (
	AnySequential = "any_sequential"
	AnyEager      = "any_eager"
)

// SequentialOrder moves through the pipeline one stage at a time,
// do-pass before review-pass within each stage.
var SequentialOrder = []Category{
	{KindTranscribe, false},
	{KindTranscribe, true},
	{KindStitch, false},
	{KindStitch, true},
	{KindBoundary, false},
	{KindBoundary, true},
	{KindClean, false},
	{KindClean, true},
	{KindSpeaker, false},
	{KindSpeaker, true},
}

// EagerOrder prefers review work in later stages first, since finishing a
// review unblocks more downstream work than starting a new do-pass.
var EagerOrder = []Category{
	{KindBoundary, true},
	{KindClean, true},
	{KindSpeaker, true},
	{KindBoundary, false},
	{KindClean, false},
	{KindSpeaker, false},
	{KindStitch, true},
	{KindStitch, false},
	{KindTranscribe, true},
	{KindTranscribe, false},
}

// ParseCategory resolves a requested task type into the ordered list of
// categories the scheduler should try.
func ParseCategory(requested string) ([]Category, error) {
	switch requested {
	case AnySequential:
		return SequentialOrder, nil
	case AnyEager:
		return EagerOrder, nil
	}
	kind := requested
	isReview := false
	if strings.HasSuffix(requested, "_review") {
		kind = strings.TrimSuffix(requested, "_review")
		isReview = true
	}
	for _, k := range Kinds {
		if kind == k {
			return []Category{{kind, isReview}}, nil
		}
	}
	return nil, fmt.Errorf("unknown task type %q", requested)
}

// Domain error taxonomy. LockContention and NoWorkAvailable are expected
// outcomes, not failures; callers check them with errors.Is.
var (
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrLockContention     = errors.New("lock contention")
	ErrNoWorkAvailable    = errors.New("no work available")
	ErrNotFound           = errors.New("not found")
)

// Timestamps are integer centiseconds so that fragment adjacency and
// boundary-equality checks stay exact across arithmetic.

// ParseSeconds converts a decimal-seconds string to centiseconds.
func ParseSeconds(s string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds value %q: %v", s, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid seconds value %q: negative", s)
	}
	return int64(f*100 + 0.5), nil
}

// FormatSeconds renders centiseconds as decimal seconds with two places.
func FormatSeconds(cs int64) string {
	return fmt.Sprintf("%d.%02d", cs/100, cs%100)
}
