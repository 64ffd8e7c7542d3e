package sentences

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

type fixture struct {
	transcript *store.Transcript
	fragments  []*store.Fragment
	revisions  []*store.FragmentRevision
	sfs        [][]*store.SentenceFragment
}

// buildFixture creates a transcript with two adjacent fragments, one
// revision each, holding the given sentence fragment texts.
func buildFixture(t *testing.T, tx *store.Tx, texts ...[]string) *fixture {
	t.Helper()
	tr, err := tx.CreateTranscript("meeting")
	require.NoError(t, err)

	fx := &fixture{transcript: tr}
	start := int64(0)
	for _, fragTexts := range texts {
		f := &store.Fragment{
			TranscriptID: tr.ID,
			StartCS:      start,
			EndCS:        start + 6000,
			State:        types.FragmentStitched,
			LockState:    types.LockUnlocked,
		}
		require.NoError(t, tx.InsertFragment(f))
		start += 6000

		rev := &store.FragmentRevision{FragmentID: f.ID, Sequence: 1, Editor: "w1"}
		require.NoError(t, tx.InsertRevision(rev))

		var sfs []*store.SentenceFragment
		for j, text := range fragTexts {
			sf := &store.SentenceFragment{RevisionID: rev.ID, Sequence: j + 1, Text: text}
			require.NoError(t, tx.InsertSentenceFragment(sf))
			sfs = append(sfs, sf)
		}

		fx.fragments = append(fx.fragments, f)
		fx.revisions = append(fx.revisions, rev)
		fx.sfs = append(fx.sfs, sfs)
	}
	return fx
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCompleteJoinsCommittedMembers(t *testing.T) {
	st := newTestStore(t)

	err := st.WithTx(func(tx *store.Tx) error {
		fx := buildFixture(t, tx, []string{"the quick brown"}, []string{"fox jumps."})

		s, err := NewSentence(tx, fx.transcript.ID, fx.sfs[0][0])
		require.NoError(t, err)
		require.NoError(t, AddCandidates(tx, s, fx.sfs[0][0].ID, fx.sfs[1][0].ID))
		require.Equal(t, types.SentencePartial, s.State)
		require.NoError(t, CommitCandidates(tx, s, fx.sfs[0][0].ID, fx.sfs[1][0].ID))

		require.NoError(t, Complete(tx, s))
		require.Equal(t, types.SentenceCompleted, s.State)

		got, err := tx.GetSentence(s.ID)
		require.NoError(t, err)
		require.Equal(t, "the quick brown fox jumps.", got.LatestText)
		// The envelope spans both parent fragments.
		require.Equal(t, int64(0), got.LatestStartCS)
		require.Equal(t, int64(12000), got.LatestEndCS)
		return nil
	})
	require.NoError(t, err)
}

func TestCompleteRequiresCommittedMembers(t *testing.T) {
	st := newTestStore(t)

	err := st.WithTx(func(tx *store.Tx) error {
		fx := buildFixture(t, tx, []string{"hello."})

		s, err := NewSentence(tx, fx.transcript.ID, fx.sfs[0][0])
		require.NoError(t, err)
		require.NoError(t, AddCandidates(tx, s, fx.sfs[0][0].ID))

		// Candidates alone do not complete a sentence.
		require.Error(t, Complete(tx, s))
		return nil
	})
	require.NoError(t, err)
}

func TestMergeFoldsConflictingGroupings(t *testing.T) {
	st := newTestStore(t)

	err := st.WithTx(func(tx *store.Tx) error {
		fx := buildFixture(t, tx, []string{"left tail"}, []string{"middle piece"}, []string{"right head"})
		shared := fx.sfs[1][0]

		// Two independent stitch passes grouped the middle fragment's text
		// into two different sentences.
		a, err := NewSentence(tx, fx.transcript.ID, fx.sfs[0][0])
		require.NoError(t, err)
		require.NoError(t, AddCandidates(tx, a, fx.sfs[0][0].ID, shared.ID))
		require.NoError(t, CommitCandidates(tx, a, fx.sfs[0][0].ID, shared.ID))

		b, err := NewSentence(tx, fx.transcript.ID, shared)
		require.NoError(t, err)
		require.NoError(t, AddCandidates(tx, b, shared.ID, fx.sfs[2][0].ID))
		require.NoError(t, CommitCandidates(tx, b, shared.ID, fx.sfs[2][0].ID))

		require.NoError(t, Merge(tx, fx.fragments[1]))

		linked, err := tx.SentencesLinked(shared.ID, store.LinkCommitted)
		require.NoError(t, err)
		require.Len(t, linked, 1)

		survivor := linked[0]
		members, err := tx.LinkedFragments(survivor.ID, store.LinkCommitted)
		require.NoError(t, err)
		require.Len(t, members, 3)

		// The absorbed sentence is gone.
		loser := a
		if survivor.ID == a.ID {
			loser = b
		}
		_, err = tx.GetSentence(loser.ID)
		require.ErrorIs(t, err, types.ErrNotFound)

		// Re-running the merge is a no-op.
		require.NoError(t, Merge(tx, fx.fragments[1]))
		return nil
	})
	require.NoError(t, err)
}

func TestMergeSurvivorMissingPartner(t *testing.T) {
	st := newTestStore(t)

	err := st.WithTx(func(tx *store.Tx) error {
		fx := buildFixture(t, tx, []string{"alone."})

		s, err := NewSentence(tx, fx.transcript.ID, fx.sfs[0][0])
		require.NoError(t, err)

		// A vanished merge partner is skipped, not an error.
		require.NoError(t, mergeInto(tx, s, nil))
		require.NoError(t, mergeInto(tx, s, s))

		_, err = tx.GetSentence(s.ID)
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestSweepWaitsForOtherFragments(t *testing.T) {
	st := newTestStore(t)

	err := st.WithTx(func(tx *store.Tx) error {
		fx := buildFixture(t, tx, []string{"the quick"}, []string{"brown fox."})
		left, right := fx.fragments[0], fx.fragments[1]

		s, err := NewSentence(tx, fx.transcript.ID, fx.sfs[0][0])
		require.NoError(t, err)
		require.NoError(t, AddCandidates(tx, s, fx.sfs[0][0].ID, fx.sfs[1][0].ID))
		require.NoError(t, CommitCandidates(tx, s, fx.sfs[0][0].ID, fx.sfs[1][0].ID))

		require.NoError(t, tx.UpdateFragmentState(left.ID, types.FragmentStitchReviewed))
		left.State = types.FragmentStitchReviewed

		// The right fragment is still only stitched; the sentence must wait.
		require.NoError(t, Sweep(tx, left))
		got, err := tx.GetSentence(s.ID)
		require.NoError(t, err)
		require.Equal(t, types.SentencePartial, got.State)

		require.NoError(t, tx.UpdateFragmentState(right.ID, types.FragmentStitchReviewed))
		right.State = types.FragmentStitchReviewed

		require.NoError(t, Sweep(tx, right))
		got, err = tx.GetSentence(s.ID)
		require.NoError(t, err)
		require.Equal(t, types.SentenceCompleted, got.State)
		require.Equal(t, "the quick brown fox.", got.LatestText)
		return nil
	})
	require.NoError(t, err)
}

func TestSweepSkipsPendingCandidates(t *testing.T) {
	st := newTestStore(t)

	err := st.WithTx(func(tx *store.Tx) error {
		fx := buildFixture(t, tx, []string{"committed part", "loose part"})
		frag := fx.fragments[0]

		s, err := NewSentence(tx, fx.transcript.ID, fx.sfs[0][0])
		require.NoError(t, err)
		require.NoError(t, AddCandidates(tx, s, fx.sfs[0][0].ID))
		require.NoError(t, CommitCandidates(tx, s, fx.sfs[0][0].ID))
		// A second membership still unconfirmed.
		require.NoError(t, AddCandidates(tx, s, fx.sfs[0][1].ID))

		require.NoError(t, tx.UpdateFragmentState(frag.ID, types.FragmentStitchReviewed))
		frag.State = types.FragmentStitchReviewed

		require.NoError(t, Sweep(tx, frag))
		got, err := tx.GetSentence(s.ID)
		require.NoError(t, err)
		require.Equal(t, types.SentencePartial, got.State)
		return nil
	})
	require.NoError(t, err)
}

func TestSuggestedPairingsAcrossBoundary(t *testing.T) {
	st := newTestStore(t)

	err := st.WithTx(func(tx *store.Tx) error {
		fx := buildFixture(t, tx, []string{"first.", "the quick"}, []string{"brown fox.", "last."})

		s, err := NewSentence(tx, fx.transcript.ID, fx.sfs[0][1])
		require.NoError(t, err)
		require.NoError(t, AddCandidates(tx, s, fx.sfs[0][1].ID, fx.sfs[1][0].ID))

		pairings, err := SuggestedPairings(tx, fx.revisions[0].ID, fx.revisions[1].ID)
		require.NoError(t, err)
		require.Len(t, pairings, 1)
		require.Equal(t, fx.sfs[0][1].ID, pairings[0].LeftID)
		require.Equal(t, fx.sfs[1][0].ID, pairings[0].RightID)
		return nil
	})
	require.NoError(t, err)
}
