// Package fragments owns the time partition of a transcript and each
// fragment's progression through the transcription pipeline.
package fragments

import (
	"fmt"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/locks"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/sentences"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// Engine advances fragments through their state machine and mediates
// fragment locking.
type Engine struct {
	locks *locks.Manager
}

// NewEngine creates a fragment engine using the given lock manager.
func NewEngine(lm *locks.Manager) *Engine {
	return &Engine{locks: lm}
}

// CreateFragments sets a transcript's length exactly once and partitions
// [0, length) into fragments of the target duration. The final fragment is
// stretched so no remainder is shorter than the target. The first fragment
// is born stitched on its left edge, the last on its right.
func (e *Engine) CreateFragments(tx *store.Tx, transcript *store.Transcript, lengthCS, targetCS int64) ([]*store.Fragment, error) {
	if transcript.LengthState != types.LengthUnset {
		return nil, fmt.Errorf("transcript %s length already set: %w",
			transcript.ID, types.ErrPreconditionFailed)
	}
	if lengthCS <= 0 || targetCS <= 0 {
		return nil, fmt.Errorf("invalid length %d or target %d: %w",
			lengthCS, targetCS, types.ErrPreconditionFailed)
	}

	if err := tx.SetTranscriptLength(transcript.ID, lengthCS); err != nil {
		return nil, err
	}
	transcript.LengthCS = lengthCS
	transcript.LengthState = types.LengthSet

	var created []*store.Fragment
	start := int64(0)
	for start < lengthCS {
		// If remaining time after this fragment is less than the target,
		// stretch to the end.
		end := start + targetCS
		if lengthCS-end < targetCS {
			end = lengthCS
		}

		f := &store.Fragment{
			TranscriptID:  transcript.ID,
			StartCS:       start,
			EndCS:         end,
			StitchedLeft:  start == 0,
			StitchedRight: end == lengthCS,
			State:         types.FragmentEmpty,
			LockState:     types.LockUnlocked,
		}
		if err := tx.InsertFragment(f); err != nil {
			return nil, err
		}
		created = append(created, f)
		start = end
	}
	return created, nil
}

// Transcribe advances a fragment from empty to transcribed.
func (e *Engine) Transcribe(tx *store.Tx, f *store.Fragment) error {
	return e.advance(tx, f, types.FragmentEmpty, types.FragmentTranscribed)
}

// ReviewTranscript advances a fragment from transcribed to
// transcript_reviewed.
func (e *Engine) ReviewTranscript(tx *store.Tx, f *store.Fragment) error {
	return e.advance(tx, f, types.FragmentTranscribed, types.FragmentTranscriptReviewed)
}

// Stitch advances a fragment from transcript_reviewed to stitched. Both
// boundaries must already be stitched.
func (e *Engine) Stitch(tx *store.Tx, f *store.Fragment) error {
	if !f.StitchedBothSides() {
		return fmt.Errorf("fragment %s not stitched on both sides: %w",
			f.ID, types.ErrPreconditionFailed)
	}
	return e.advance(tx, f, types.FragmentTranscriptReviewed, types.FragmentStitched)
}

// ReviewStitch advances a fragment from stitched to stitch_reviewed and
// runs the sentence merge and completion sweep against its latest revision.
// This is the join point between fragment-local and transcript-global
// state.
func (e *Engine) ReviewStitch(tx *store.Tx, f *store.Fragment) error {
	if !f.StitchedBothSides() {
		return fmt.Errorf("fragment %s not stitched on both sides: %w",
			f.ID, types.ErrPreconditionFailed)
	}
	if err := e.advance(tx, f, types.FragmentStitched, types.FragmentStitchReviewed); err != nil {
		return err
	}
	if err := sentences.Merge(tx, f); err != nil {
		return err
	}
	return sentences.Sweep(tx, f)
}

// Lock acquires the fragment's advisory lock and mirrors it to the row.
func (e *Engine) Lock(tx *store.Tx, f *store.Fragment) error {
	if err := e.locks.Acquire(f.ID); err != nil {
		return err
	}
	if err := tx.UpdateFragmentLockState(f.ID, types.LockLocked); err != nil {
		e.locks.Release(f.ID)
		return err
	}
	f.LockState = types.LockLocked
	return nil
}

// LockPair acquires both fragments or neither, as stitch tasks require.
func (e *Engine) LockPair(tx *store.Tx, left, right *store.Fragment) error {
	if err := e.locks.AcquireAll(left.ID, right.ID); err != nil {
		return err
	}
	for _, f := range []*store.Fragment{left, right} {
		if err := tx.UpdateFragmentLockState(f.ID, types.LockLocked); err != nil {
			e.locks.ReleaseAll(left.ID, right.ID)
			return err
		}
		f.LockState = types.LockLocked
	}
	return nil
}

// Unlock releases the fragment's advisory lock and mirrors it to the row.
func (e *Engine) Unlock(tx *store.Tx, f *store.Fragment) error {
	if err := tx.UpdateFragmentLockState(f.ID, types.LockUnlocked); err != nil {
		return err
	}
	e.locks.Release(f.ID)
	f.LockState = types.LockUnlocked
	return nil
}

// ReleaseLocks drops advisory locks without touching rows, for unwinding a
// failed task creation after rollback.
func (e *Engine) ReleaseLocks(ids ...string) {
	e.locks.ReleaseAll(ids...)
}

func (e *Engine) advance(tx *store.Tx, f *store.Fragment, from, to string) error {
	if f.State != from {
		return fmt.Errorf("fragment %s is %s, not %s: %w",
			f.ID, f.State, from, types.ErrPreconditionFailed)
	}
	if err := tx.UpdateFragmentState(f.ID, to); err != nil {
		return err
	}
	f.State = to
	return nil
}
