// Package sentences assembles transcript-global sentences out of
// fragment-scoped sentence fragments. Sentences are built up as candidate
// memberships while stitching is in flight, committed when a stitch is
// verified, and completed once every contributing fragment has had its
// stitches reviewed.
package sentences

import (
	"errors"
	"fmt"
	"strings"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// NewSentence creates an empty sentence ordered by its seed fragment's
// position in the transcript.
func NewSentence(tx *store.Tx, transcriptID string, seed *store.SentenceFragment) (*store.Sentence, error) {
	rev, err := tx.GetRevision(seed.RevisionID)
	if err != nil {
		return nil, err
	}
	frag, err := tx.GetFragment(rev.FragmentID)
	if err != nil {
		return nil, err
	}
	s := &store.Sentence{
		TranscriptID:  transcriptID,
		State:         types.SentenceEmpty,
		CleanState:    types.RefinementUntouched,
		BoundaryState: types.RefinementUntouched,
		SpeakerState:  types.RefinementUntouched,
		OrderStartCS:  frag.StartCS,
		OrderSeq:      seed.Sequence,
	}
	if err := tx.InsertSentence(s); err != nil {
		return nil, err
	}
	return s, nil
}

// AddCandidates relates sentence fragments to the sentence as candidates,
// moving it from empty to partial.
func AddCandidates(tx *store.Tx, s *store.Sentence, fragmentIDs ...string) error {
	if s.State != types.SentenceEmpty && s.State != types.SentencePartial {
		return fmt.Errorf("cannot add candidates to %s sentence %s: %w",
			s.State, s.ID, types.ErrPreconditionFailed)
	}
	for _, id := range fragmentIDs {
		if err := tx.AddSentenceLink(s.ID, id, store.LinkCandidate); err != nil {
			return err
		}
	}
	if s.State != types.SentencePartial {
		s.State = types.SentencePartial
		return tx.UpdateSentenceState(s.ID, s.State)
	}
	return nil
}

// RemoveCandidates drops candidate memberships from a partial sentence.
func RemoveCandidates(tx *store.Tx, s *store.Sentence, fragmentIDs ...string) error {
	if s.State != types.SentencePartial {
		return fmt.Errorf("cannot remove candidates from %s sentence %s: %w",
			s.State, s.ID, types.ErrPreconditionFailed)
	}
	for _, id := range fragmentIDs {
		if err := tx.RemoveSentenceLink(s.ID, id, store.LinkCandidate); err != nil {
			return err
		}
	}
	return nil
}

// CommitCandidates promotes candidate memberships to committed ones.
func CommitCandidates(tx *store.Tx, s *store.Sentence, fragmentIDs ...string) error {
	if s.State != types.SentencePartial {
		return fmt.Errorf("cannot commit candidates of %s sentence %s: %w",
			s.State, s.ID, types.ErrPreconditionFailed)
	}
	for _, id := range fragmentIDs {
		if err := tx.ChangeLinkKind(s.ID, id, store.LinkCandidate, store.LinkCommitted); err != nil {
			return err
		}
	}
	return nil
}

// Complete transitions a partial sentence to completed, recording its
// initial text revision and a conservative time envelope over the parent
// fragments of its members. Members may come from different revisions with
// different exact boundaries, so min-start/max-end is an envelope, not a
// tight bound.
func Complete(tx *store.Tx, s *store.Sentence) error {
	if s.State != types.SentencePartial {
		return fmt.Errorf("cannot complete %s sentence %s: %w",
			s.State, s.ID, types.ErrPreconditionFailed)
	}

	members, err := tx.LinkedFragments(s.ID, store.LinkCommitted)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return fmt.Errorf("sentence %s has no committed fragments: %w",
			s.ID, types.ErrPreconditionFailed)
	}

	parts := make([]string, len(members))
	var startCS, endCS int64
	for i, sf := range members {
		parts[i] = sf.Text

		rev, err := tx.GetRevision(sf.RevisionID)
		if err != nil {
			return err
		}
		frag, err := tx.GetFragment(rev.FragmentID)
		if err != nil {
			return err
		}
		if i == 0 || frag.StartCS < startCS {
			startCS = frag.StartCS
		}
		if frag.EndCS > endCS {
			endCS = frag.EndCS
		}
	}

	if _, err := tx.AppendSentenceRevision(s.ID, "", strings.Join(parts, " ")); err != nil {
		return err
	}
	if err := tx.UpdateSentenceLatestSpan(s.ID, startCS, endCS); err != nil {
		return err
	}
	s.State = types.SentenceCompleted
	s.LatestStartCS = startCS
	s.LatestEndCS = endCS
	return tx.UpdateSentenceState(s.ID, s.State)
}

// Merge folds conflicting sentence groupings together for every sentence
// fragment in the latest revision of the given fragment. Independent stitch
// passes on either side of the fragment can propose groupings that must
// agree once the boundary is joined; the first committed sentence (or first
// candidate when none is committed) survives and absorbs the rest.
func Merge(tx *store.Tx, fragment *store.Fragment) error {
	latest, err := tx.LatestRevision(fragment.ID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	sfs, err := tx.SentenceFragmentsByRevision(latest.ID)
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
		if len(committed) <= 1 && len(candidates) <= 1 {
			continue
		}

		var survivor *store.Sentence
		if len(committed) > 0 {
			survivor = committed[0]
		} else {
			survivor = candidates[0]
		}

		for _, other := range append(committed, candidates...) {
			if err := mergeInto(tx, survivor, other); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeInto moves every membership of other onto the survivor and discards
// other. A missing merge partner is skipped rather than treated as an
// error.
func mergeInto(tx *store.Tx, survivor, other *store.Sentence) error {
	if other == nil || other.ID == survivor.ID {
		return nil
	}
	if err := tx.MoveSentenceLinks(other.ID, survivor.ID); err != nil {
		return err
	}
	return tx.DeleteSentence(other.ID)
}

// Sweep completes every partial sentence touching the latest revision of
// the given fragment whose work is finished: no pending candidates, and
// every other member fragment living in a stitch-reviewed fragment. The
// sweep is idempotent and safe to re-run; anything not yet consistent is
// simply left for a later pass.
func Sweep(tx *store.Tx, fragment *store.Fragment) error {
	latest, err := tx.LatestRevision(fragment.ID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	sfs, err := tx.SentenceFragmentsByRevision(latest.ID)
	if err != nil {
		return err
	}

	for _, sf := range sfs {
		linked, err := tx.SentencesLinked(sf.ID, store.LinkCommitted)
		if err != nil {
			return err
		}
		for _, sentence := range linked {
			if sentence.State != types.SentencePartial {
				continue
			}
			pending, err := tx.CountLinks(sentence.ID, store.LinkCandidate)
			if err != nil {
				return err
			}
			if pending > 0 {
				// Still being worked on.
				continue
			}
			ready, err := othersStitchReviewed(tx, sentence, sf.ID)
			if err != nil {
				return err
			}
			if ready {
				if err := Complete(tx, sentence); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func othersStitchReviewed(tx *store.Tx, sentence *store.Sentence, exceptID string) (bool, error) {
	members, err := tx.LinkedFragments(sentence.ID, store.LinkCommitted)
	if err != nil {
		return false, err
	}
	for _, member := range members {
		if member.ID == exceptID {
			continue
		}
		rev, err := tx.GetRevision(member.RevisionID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		frag, err := tx.GetFragment(rev.FragmentID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		if frag.State != types.FragmentStitchReviewed {
			return false, nil
		}
	}
	return true, nil
}

// SuggestedPairings computes machine-suggested alignments across a stitch
// boundary: for every sentence fragment on the left revision with candidate
// sentences, pair it with any candidate member of the same sentence living
// on the right revision.
func SuggestedPairings(tx *store.Tx, leftRevisionID, rightRevisionID string) ([]store.StitchPairing, error) {
	leftSFs, err := tx.SentenceFragmentsByRevision(leftRevisionID)
	if err != nil {
		return nil, err
	}
	var pairings []store.StitchPairing
	for _, leftSF := range leftSFs {
		candidates, err := tx.SentencesLinked(leftSF.ID, store.LinkCandidate)
		if err != nil {
			return nil, err
		}
		for _, sentence := range candidates {
			members, err := tx.LinkedFragments(sentence.ID, store.LinkCandidate)
			if err != nil {
				return nil, err
			}
			var left, right *store.SentenceFragment
			for _, member := range members {
				if member.RevisionID == leftRevisionID {
					left = member
				}
				if member.RevisionID == rightRevisionID {
					right = member
				}
			}
			if left != nil && right != nil {
				pairings = append(pairings, store.StitchPairing{LeftID: left.ID, RightID: right.ID})
			}
		}
	}
	return pairings, nil
}

// PairingsFromCandidates seeds a review stitch task with the suggested
// alignments. This only records proposals; merging happens at
// review_stitch.
func PairingsFromCandidates(tx *store.Tx, taskID, leftRevisionID, rightRevisionID string) error {
	pairings, err := SuggestedPairings(tx, leftRevisionID, rightRevisionID)
	if err != nil {
		return err
	}
	for _, p := range pairings {
		if err := tx.InsertPairing(taskID, p.LeftID, p.RightID); err != nil {
			return err
		}
	}
	return nil
}
