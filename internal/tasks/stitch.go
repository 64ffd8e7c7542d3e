package tasks

import (
	"errors"
	"fmt"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/sentences"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// Stitch tasks reconcile the sentence groupings of two adjacent fragments
// across their shared boundary. The do pass proposes candidate groupings;
// the review pass either confirms them, committing the candidates and
// triggering the merge at review_stitch, or corrects them for another
// round.

var (
	stitchDoStates     = []string{types.FragmentTranscriptReviewed}
	stitchReviewStates = []string{types.FragmentTranscriptReviewed, types.FragmentStitched}
)

// stitchNeighbors scans left candidates in transcript order and returns the
// first adjacent unlocked pair satisfying the do or review filter.
func stitchNeighbors(tx *store.Tx, transcriptID string, isReview bool) (*store.Fragment, *store.Fragment, error) {
	states := stitchDoStates
	if isReview {
		states = stitchReviewStates
	}
	candidates, err := tx.StitchCandidates(transcriptID, states, isReview)
	if err != nil {
		return nil, nil, err
	}
	for _, left := range candidates {
		right, err := tx.StitchNeighbor(transcriptID, left.EndCS, states, isReview)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				// No neighbor; keep trying.
				continue
			}
			return nil, nil, err
		}
		return left, right, nil
	}
	return nil, nil, types.ErrNoWorkAvailable
}

func stitchCanCreate(e *Engine, tx *store.Tx, transcriptID string, isReview bool) (bool, error) {
	_, _, err := stitchNeighbors(tx, transcriptID, isReview)
	if errors.Is(err, types.ErrNoWorkAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func stitchCreateNext(e *Engine, tx *store.Tx, worker *store.Worker, transcriptID string, isReview bool) (*store.Task, error) {
	left, right, err := stitchNeighbors(tx, transcriptID, isReview)
	if err != nil {
		return nil, err
	}
	leftRev, err := tx.LatestRevision(left.ID)
	if err != nil {
		return nil, err
	}
	rightRev, err := tx.LatestRevision(right.ID)
	if err != nil {
		return nil, err
	}

	task := &store.Task{
		TranscriptID:    transcriptID,
		Kind:            types.KindStitch,
		IsReview:        isReview,
		State:           types.TaskUnassigned,
		LeftRevisionID:  leftRev.ID,
		RightRevisionID: rightRev.ID,
	}
	if err := tx.InsertTask(task); err != nil {
		return nil, err
	}
	if isReview {
		if err := sentences.PairingsFromCandidates(tx, task.ID, leftRev.ID, rightRev.ID); err != nil {
			return nil, err
		}
	}
	if err := e.AssignTo(tx, task, worker); err != nil {
		return nil, err
	}
	return task, nil
}

func stitchAssign(e *Engine, tx *store.Tx, task *store.Task) error {
	left, right, err := stitchFragments(tx, task)
	if err != nil {
		return err
	}
	// Both fragments or neither.
	return e.frags.LockPair(tx, left, right)
}

// stitchReopen relocks the pair a resubmitted task works on; invalidation
// released both sides.
func stitchReopen(e *Engine, tx *store.Tx, task *store.Task) error {
	return stitchAssign(e, tx, task)
}

func stitchValidate(e *Engine, tx *store.Tx, task *store.Task) error {
	return stitchUnlock(e, tx, task)
}

func stitchInvalidate(e *Engine, tx *store.Tx, task *store.Task) error {
	return stitchUnlock(e, tx, task)
}

func stitchUnlock(e *Engine, tx *store.Tx, task *store.Task) error {
	left, right, err := stitchFragments(tx, task)
	if err != nil {
		return err
	}
	if err := e.frags.Unlock(tx, left); err != nil {
		return err
	}
	return e.frags.Unlock(tx, right)
}

func stitchFragments(tx *store.Tx, task *store.Task) (*store.Fragment, *store.Fragment, error) {
	left, err := taskFragment(tx, task.LeftRevisionID)
	if err != nil {
		return nil, nil, err
	}
	right, err := taskFragment(tx, task.RightRevisionID)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func stitchProcess(e *Engine, tx *store.Tx, task *store.Task) (bool, error) {
	left, right, err := stitchFragments(tx, task)
	if err != nil {
		return false, err
	}
	submitted, err := tx.PairingsByTask(task.ID)
	if err != nil {
		return false, err
	}

	// A pairing referencing fragments outside the task's revisions is a
	// bad submission, not a pipeline error.
	for _, p := range submitted {
		if ok, err := pairingInRevisions(tx, p, task); err != nil {
			return false, err
		} else if !ok {
			return false, nil
		}
	}

	if !task.IsReview {
		if err := stitchProcessDo(e, tx, task, left, right, submitted); err != nil {
			return false, err
		}
		return true, nil
	}
	if err := stitchProcessReview(e, tx, task, left, right, submitted); err != nil {
		return false, err
	}
	return true, nil
}

// stitchProcessDo turns the submitted pairings into candidate sentence
// memberships, marks the boundary stitched, and advances any fragment now
// stitched on both sides.
func stitchProcessDo(e *Engine, tx *store.Tx, task *store.Task, left, right *store.Fragment, submitted []*store.StitchPairing) error {
	for _, p := range submitted {
		if err := unifyPairing(tx, task.TranscriptID, p.LeftID, p.RightID); err != nil {
			return err
		}
	}
	if err := ensureSingletonCandidates(tx, task.TranscriptID, task.LeftRevisionID, task.RightRevisionID); err != nil {
		return err
	}

	left.StitchedRight = true
	if err := tx.UpdateFragmentStitched(left.ID, left.StitchedLeft, left.StitchedRight); err != nil {
		return err
	}
	right.StitchedLeft = true
	if err := tx.UpdateFragmentStitched(right.ID, right.StitchedLeft, right.StitchedRight); err != nil {
		return err
	}

	for _, f := range []*store.Fragment{left, right} {
		if f.StitchedBothSides() && f.State == types.FragmentTranscriptReviewed {
			if err := e.frags.Stitch(tx, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// stitchProcessReview compares the reviewer's pairings with the current
// candidate-derived suggestions. Agreement commits the candidates and runs
// review_stitch on each fully stitched fragment; disagreement rewrites the
// candidates to the reviewer's version and leaves the fragments for
// another round.
func stitchProcessReview(e *Engine, tx *store.Tx, task *store.Task, left, right *store.Fragment, submitted []*store.StitchPairing) error {
	current, err := sentences.SuggestedPairings(tx, task.LeftRevisionID, task.RightRevisionID)
	if err != nil {
		return err
	}

	if pairingSetsEqual(submitted, current) {
		for _, revID := range []string{task.LeftRevisionID, task.RightRevisionID} {
			if err := commitRevisionCandidates(tx, revID); err != nil {
				return err
			}
		}
		for _, f := range []*store.Fragment{left, right} {
			if f.StitchedBothSides() && f.State == types.FragmentStitched {
				if err := e.frags.ReviewStitch(tx, f); err != nil {
					return err
				}
			}
		}
		return nil
	}

	submittedSet := pairingSet(submitted)
	for _, p := range current {
		if submittedSet[pairingKey(p.LeftID, p.RightID)] {
			continue
		}
		// Dropped by the reviewer: detach the right side from the shared
		// candidate sentence.
		if err := detachPairing(tx, p.LeftID, p.RightID); err != nil {
			return err
		}
	}
	currentSet := pairingSet(ptrsToPairings(current))
	for _, p := range submitted {
		if currentSet[pairingKey(p.LeftID, p.RightID)] {
			continue
		}
		if err := unifyPairing(tx, task.TranscriptID, p.LeftID, p.RightID); err != nil {
			return err
		}
	}
	// A detached fragment must not be left with no sentence at all.
	return ensureSingletonCandidates(tx, task.TranscriptID, task.LeftRevisionID, task.RightRevisionID)
}

// unifyPairing puts the two sentence fragments into one candidate
// sentence, preferring an existing candidate sentence on either side.
func unifyPairing(tx *store.Tx, transcriptID, leftID, rightID string) error {
	leftSF, err := tx.GetSentenceFragment(leftID)
	if err != nil {
		return err
	}
	rightSF, err := tx.GetSentenceFragment(rightID)
	if err != nil {
		return err
	}

	sentence, err := firstCandidateSentence(tx, leftSF.ID)
	if err != nil {
		return err
	}
	if sentence == nil {
		sentence, err = firstCandidateSentence(tx, rightSF.ID)
		if err != nil {
			return err
		}
	}
	if sentence == nil {
		sentence, err = sentences.NewSentence(tx, transcriptID, leftSF)
		if err != nil {
			return err
		}
	}
	return sentences.AddCandidates(tx, sentence, leftSF.ID, rightSF.ID)
}

func firstCandidateSentence(tx *store.Tx, sentenceFragmentID string) (*store.Sentence, error) {
	linked, err := tx.SentencesLinked(sentenceFragmentID, store.LinkCandidate)
	if err != nil {
		return nil, err
	}
	if len(linked) == 0 {
		return nil, nil
	}
	return linked[0], nil
}

// ensureSingletonCandidates gives every orphan sentence fragment on the two
// revisions its own candidate sentence, so no text is lost when the
// boundary completes.
func ensureSingletonCandidates(tx *store.Tx, transcriptID string, revisionIDs ...string) error {
	for _, revID := range revisionIDs {
		sfs, err := tx.SentenceFragmentsByRevision(revID)
		if err != nil {
			return err
		}
		for _, sf := range sfs {
			committed, err := tx.SentencesLinked(sf.ID, store.LinkCommitted)
			if err != nil {
				return err
			}
			candidates, err := tx.SentencesLinked(sf.ID, store.LinkCandidate)
			if err != nil {
				return err
			}
			if len(committed) > 0 || len(candidates) > 0 {
				continue
			}
			sentence, err := sentences.NewSentence(tx, transcriptID, sf)
			if err != nil {
				return err
			}
			if err := sentences.AddCandidates(tx, sentence, sf.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func commitRevisionCandidates(tx *store.Tx, revisionID string) error {
	sfs, err := tx.SentenceFragmentsByRevision(revisionID)
	if err != nil {
		return err
	}
	for _, sf := range sfs {
		linked, err := tx.SentencesLinked(sf.ID, store.LinkCandidate)
		if err != nil {
			return err
		}
		for _, sentence := range linked {
			if err := sentences.CommitCandidates(tx, sentence, sf.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func detachPairing(tx *store.Tx, leftID, rightID string) error {
	linked, err := tx.SentencesLinked(leftID, store.LinkCandidate)
	if err != nil {
		return err
	}
	for _, sentence := range linked {
		members, err := tx.LinkedFragments(sentence.ID, store.LinkCandidate)
		if err != nil {
			return err
		}
		for _, member := range members {
			if member.ID == rightID {
				if err := sentences.RemoveCandidates(tx, sentence, rightID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func pairingInRevisions(tx *store.Tx, p *store.StitchPairing, task *store.Task) (bool, error) {
	leftSF, err := tx.GetSentenceFragment(p.LeftID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	rightSF, err := tx.GetSentenceFragment(p.RightID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return leftSF.RevisionID == task.LeftRevisionID && rightSF.RevisionID == task.RightRevisionID, nil
}

func pairingKey(leftID, rightID string) string {
	return fmt.Sprintf("%s|%s", leftID, rightID)
}

func pairingSet(pairings []*store.StitchPairing) map[string]bool {
	set := make(map[string]bool, len(pairings))
	for _, p := range pairings {
		set[pairingKey(p.LeftID, p.RightID)] = true
	}
	return set
}

func pairingSetsEqual(submitted []*store.StitchPairing, current []store.StitchPairing) bool {
	if len(submitted) != len(current) {
		return false
	}
	set := pairingSet(submitted)
	for _, p := range current {
		if !set[pairingKey(p.LeftID, p.RightID)] {
			return false
		}
	}
	return true
}

func ptrsToPairings(pairings []store.StitchPairing) []*store.StitchPairing {
	out := make([]*store.StitchPairing, len(pairings))
	for i := range pairings {
		out[i] = &pairings[i]
	}
	return out
}
