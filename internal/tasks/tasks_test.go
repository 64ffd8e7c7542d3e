package tasks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/fragments"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/locks"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

type testEnv struct {
	store  *store.Store
	frags  *fragments.Engine
	engine *Engine
	worker *store.Worker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	frags := fragments.NewEngine(locks.NewManager())
	env := &testEnv{
		store:  st,
		frags:  frags,
		engine: NewEngine(st, frags),
	}
	err = st.WithTx(func(tx *store.Tx) error {
		env.worker, err = tx.CreateWorker("editor", nil, "")
		return err
	})
	require.NoError(t, err)
	return env
}

// newTranscript creates a transcript partitioned into two fragments,
// [0, 60s) and [60s, 130s).
func (env *testEnv) newTranscript(t *testing.T) *store.Transcript {
	t.Helper()
	var tr *store.Transcript
	err := env.store.WithTx(func(tx *store.Tx) error {
		var err error
		tr, err = tx.CreateTranscript("meeting")
		if err != nil {
			return err
		}
		_, err = env.frags.CreateFragments(tx, tr, 13000, 6000)
		return err
	})
	require.NoError(t, err)
	return tr
}

// nextTask creates, assigns and presents the next task of a kind.
func (env *testEnv) nextTask(t *testing.T, transcriptID, kind string, isReview bool) *store.Task {
	t.Helper()
	var task *store.Task
	err := env.store.WithTx(func(tx *store.Tx) error {
		var err error
		task, err = env.engine.CreateNext(tx, env.worker, kind, transcriptID, isReview)
		if err != nil {
			return err
		}
		return env.engine.Present(tx, task)
	})
	require.NoError(t, err)
	require.Equal(t, types.TaskPresented, task.State)
	return task
}

func (env *testEnv) getTask(t *testing.T, id string) *store.Task {
	t.Helper()
	var task *store.Task
	err := env.store.WithTx(func(tx *store.Tx) error {
		var err error
		task, err = tx.GetTask(id)
		return err
	})
	require.NoError(t, err)
	return task
}

func (env *testEnv) getFragments(t *testing.T, transcriptID string) []*store.Fragment {
	t.Helper()
	var frags []*store.Fragment
	err := env.store.WithTx(func(tx *store.Tx) error {
		var err error
		frags, err = tx.FragmentsByTranscript(transcriptID)
		return err
	})
	require.NoError(t, err)
	return frags
}

// transcribeBoth runs the do and review transcribe rounds for both
// fragments, leaving them transcript_reviewed.
func (env *testEnv) transcribeBoth(t *testing.T, transcriptID string, texts ...string) {
	t.Helper()
	for _, text := range texts {
		task := env.nextTask(t, transcriptID, types.KindTranscribe, false)
		_, err := env.engine.Submit(task.ID, Payload{Text: text})
		require.NoError(t, err)
	}
	for range texts {
		task := env.nextTask(t, transcriptID, types.KindTranscribe, true)
		_, err := env.engine.Submit(task.ID, Payload{Text: task.Text})
		require.NoError(t, err)
	}
}

func TestTaskModelCoversAllKinds(t *testing.T) {
	for _, kind := range types.Kinds {
		spec, err := specFor(kind)
		require.NoError(t, err, kind)
		require.NotNil(t, spec.assign, kind)
		require.NotNil(t, spec.validate, kind)
		require.NotNil(t, spec.invalidate, kind)
		require.NotNil(t, spec.canCreate, kind)
		require.NotNil(t, spec.createNext, kind)
		require.NotNil(t, spec.process, kind)
	}

	_, err := specFor("paint")
	require.Error(t, err)
}

func TestTranscribeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	task := env.nextTask(t, tr.ID, types.KindTranscribe, false)
	require.False(t, task.IsReview)
	require.Equal(t, int64(0), task.StartCS)
	require.Equal(t, int64(6000), task.EndCS)

	// The first fragment is locked while the task is out.
	frags := env.getFragments(t, tr.ID)
	require.Equal(t, types.LockLocked, frags[0].LockState)
	require.Equal(t, types.LockUnlocked, frags[1].LockState)

	done, err := env.engine.Submit(task.ID, Payload{Text: "Hello there.\n\nHow are you?"})
	require.NoError(t, err)
	require.Equal(t, types.TaskValid, env.getTask(t, done.ID).State)

	frags = env.getFragments(t, tr.ID)
	require.Equal(t, types.FragmentTranscribed, frags[0].State)
	require.Equal(t, types.LockUnlocked, frags[0].LockState)

	// The paragraphs became sequenced sentence fragments.
	err = env.store.WithTx(func(tx *store.Tx) error {
		sfs, err := tx.SentenceFragmentsByRevision(task.RevisionID)
		require.NoError(t, err)
		require.Len(t, sfs, 2)
		require.Equal(t, "Hello there.", sfs[0].Text)
		require.Equal(t, "How are you?", sfs[1].Text)
		return nil
	})
	require.NoError(t, err)
}

func TestTranscribeEmptySubmissionInvalid(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	task := env.nextTask(t, tr.ID, types.KindTranscribe, false)

	_, err := env.engine.Submit(task.ID, Payload{Text: "   \n\n  "})
	require.NoError(t, err)

	got := env.getTask(t, task.ID)
	require.Equal(t, types.TaskInvalid, got.State)
	// Invalidation discarded the revision and released the fragment.
	require.Empty(t, got.RevisionID)
	frags := env.getFragments(t, tr.ID)
	require.Equal(t, types.FragmentEmpty, frags[0].State)
	require.Equal(t, types.LockUnlocked, frags[0].LockState)
}

func TestTranscribeResubmitAfterInvalid(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	task := env.nextTask(t, tr.ID, types.KindTranscribe, false)
	_, err := env.engine.Submit(task.ID, Payload{Text: "   "})
	require.NoError(t, err)
	require.Equal(t, types.TaskInvalid, env.getTask(t, task.ID).State)

	// Resubmission rebuilds the discarded revision and relocks the
	// fragment, then processes normally.
	_, err = env.engine.Submit(task.ID, Payload{Text: "Hello there."})
	require.NoError(t, err)

	got := env.getTask(t, task.ID)
	require.Equal(t, types.TaskValid, got.State)
	require.NotEmpty(t, got.RevisionID)

	frags := env.getFragments(t, tr.ID)
	require.Equal(t, types.FragmentTranscribed, frags[0].State)
	require.Equal(t, types.LockUnlocked, frags[0].LockState)

	err = env.store.WithTx(func(tx *store.Tx) error {
		sfs, err := tx.SentenceFragmentsByRevision(got.RevisionID)
		require.NoError(t, err)
		require.Len(t, sfs, 1)
		require.Equal(t, "Hello there.", sfs[0].Text)
		return nil
	})
	require.NoError(t, err)
}

func TestTranscribeReviewResubmitAfterInvalid(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	task := env.nextTask(t, tr.ID, types.KindTranscribe, false)
	_, err := env.engine.Submit(task.ID, Payload{Text: "first draft."})
	require.NoError(t, err)

	review := env.nextTask(t, tr.ID, types.KindTranscribe, true)
	_, err = env.engine.Submit(review.ID, Payload{Text: "  "})
	require.NoError(t, err)
	require.Equal(t, types.TaskInvalid, env.getTask(t, review.ID).State)

	// The rebuilt revision sequences after the do pass, so the unchanged
	// text still settles the fragment.
	_, err = env.engine.Submit(review.ID, Payload{Text: "first draft."})
	require.NoError(t, err)
	require.Equal(t, types.TaskValid, env.getTask(t, review.ID).State)
	require.Equal(t, types.FragmentTranscriptReviewed, env.getFragments(t, tr.ID)[0].State)
}

func TestTranscribeReviewRounds(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	task := env.nextTask(t, tr.ID, types.KindTranscribe, false)
	_, err := env.engine.Submit(task.ID, Payload{Text: "furst draft."})
	require.NoError(t, err)

	// First review changes the text, so the fragment needs another round.
	review := env.nextTask(t, tr.ID, types.KindTranscribe, true)
	require.True(t, review.IsReview)
	require.Equal(t, "furst draft.", review.Text)
	_, err = env.engine.Submit(review.ID, Payload{Text: "first draft."})
	require.NoError(t, err)
	require.Equal(t, types.TaskValid, env.getTask(t, review.ID).State)
	require.Equal(t, types.FragmentTranscribed, env.getFragments(t, tr.ID)[0].State)

	// Second review leaves the text alone, which passes it.
	review = env.nextTask(t, tr.ID, types.KindTranscribe, true)
	require.Equal(t, "first draft.", review.Text)
	_, err = env.engine.Submit(review.ID, Payload{Text: "first draft."})
	require.NoError(t, err)
	require.Equal(t, types.FragmentTranscriptReviewed, env.getFragments(t, tr.ID)[0].State)
}

func TestCancelReleasesFragment(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	task := env.nextTask(t, tr.ID, types.KindTranscribe, false)
	cancelled, err := env.engine.Cancel(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.TaskAborted, cancelled.State)

	frags := env.getFragments(t, tr.ID)
	require.Equal(t, types.LockUnlocked, frags[0].LockState)

	// The fragment is available again.
	next := env.nextTask(t, tr.ID, types.KindTranscribe, false)
	require.Equal(t, int64(0), next.StartCS)
}

func TestNoWorkWhenEverythingLocked(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	env.nextTask(t, tr.ID, types.KindTranscribe, false)
	env.nextTask(t, tr.ID, types.KindTranscribe, false)

	err := env.store.WithTx(func(tx *store.Tx) error {
		_, err := env.engine.CreateNext(tx, env.worker, types.KindTranscribe, tr.ID, false)
		require.True(t, errors.Is(err, types.ErrNoWorkAvailable))
		return nil
	})
	require.NoError(t, err)
}

func TestStitchPairNotDoubleClaimed(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)
	env.transcribeBoth(t, tr.ID, "part one", "part two")

	env.nextTask(t, tr.ID, types.KindStitch, false)

	// The outstanding task holds both fragments of the only boundary, so
	// a concurrent claim on the pair finds nothing to take.
	err := env.store.WithTx(func(tx *store.Tx) error {
		_, err := env.engine.CreateNext(tx, env.worker, types.KindStitch, tr.ID, false)
		require.Error(t, err)
		require.True(t,
			errors.Is(err, types.ErrNoWorkAvailable) || errors.Is(err, types.ErrLockContention))
		return nil
	})
	require.NoError(t, err)
}

func TestStitchResubmitAfterInvalid(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)
	env.transcribeBoth(t, tr.ID, "part one", "part two")

	// Pairings naming sentence fragments outside the task's revisions
	// invalidate the submission and release the pair.
	task := env.nextTask(t, tr.ID, types.KindStitch, false)
	_, err := env.engine.Submit(task.ID, Payload{
		Pairings: []PairingInput{{LeftID: "bogus", RightID: "bogus"}},
	})
	require.NoError(t, err)
	require.Equal(t, types.TaskInvalid, env.getTask(t, task.ID).State)
	frags := env.getFragments(t, tr.ID)
	require.Equal(t, types.LockUnlocked, frags[0].LockState)
	require.Equal(t, types.LockUnlocked, frags[1].LockState)

	// Resubmission retakes the pair and processes normally.
	_, err = env.engine.Submit(task.ID, Payload{})
	require.NoError(t, err)
	require.Equal(t, types.TaskValid, env.getTask(t, task.ID).State)
	frags = env.getFragments(t, tr.ID)
	require.Equal(t, types.FragmentStitched, frags[0].State)
	require.Equal(t, types.FragmentStitched, frags[1].State)
}

func TestStitchPipelineToCompletedSentences(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	env.transcribeBoth(t, tr.ID,
		"the meeting opened with\n\nEveryone was present.",
		"a brief welcome.\n\nThen we adjourned.")

	// Do pass: pair the dangling end of the left fragment with the start
	// of the right one.
	task := env.nextTask(t, tr.ID, types.KindStitch, false)
	require.NotEmpty(t, task.LeftRevisionID)
	require.NotEmpty(t, task.RightRevisionID)

	var leftSFs, rightSFs []*store.SentenceFragment
	err := env.store.WithTx(func(tx *store.Tx) error {
		var err error
		leftSFs, err = tx.SentenceFragmentsByRevision(task.LeftRevisionID)
		require.NoError(t, err)
		rightSFs, err = tx.SentenceFragmentsByRevision(task.RightRevisionID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, leftSFs, 2)
	require.Len(t, rightSFs, 2)

	pairing := PairingInput{LeftID: leftSFs[0].ID, RightID: rightSFs[0].ID}
	_, err = env.engine.Submit(task.ID, Payload{Pairings: []PairingInput{pairing}})
	require.NoError(t, err)
	require.Equal(t, types.TaskValid, env.getTask(t, task.ID).State)

	// Both fragments advanced to stitched once the boundary joined.
	frags := env.getFragments(t, tr.ID)
	require.Equal(t, types.FragmentStitched, frags[0].State)
	require.Equal(t, types.FragmentStitched, frags[1].State)
	require.True(t, frags[0].StitchedRight)
	require.True(t, frags[1].StitchedLeft)

	// Review pass is seeded with the suggested pairing; agreeing with it
	// commits everything.
	review := env.nextTask(t, tr.ID, types.KindStitch, true)
	var seeded []*store.StitchPairing
	err = env.store.WithTx(func(tx *store.Tx) error {
		var err error
		seeded, err = tx.PairingsByTask(review.ID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, seeded, 1)
	require.Equal(t, pairing.LeftID, seeded[0].LeftID)

	_, err = env.engine.Submit(review.ID, Payload{
		Pairings: []PairingInput{{LeftID: seeded[0].LeftID, RightID: seeded[0].RightID}},
	})
	require.NoError(t, err)
	require.Equal(t, types.TaskValid, env.getTask(t, review.ID).State)

	frags = env.getFragments(t, tr.ID)
	require.Equal(t, types.FragmentStitchReviewed, frags[0].State)
	require.Equal(t, types.FragmentStitchReviewed, frags[1].State)

	// Every sentence completed: the paired one joined across the
	// boundary, the rest as singletons.
	err = env.store.WithTx(func(tx *store.Tx) error {
		completed, err := tx.CompletedSentences(tr.ID)
		require.NoError(t, err)
		require.Len(t, completed, 3)

		var texts []string
		for _, s := range completed {
			texts = append(texts, s.LatestText)
		}
		require.Contains(t, texts, "the meeting opened with a brief welcome.")
		require.Contains(t, texts, "Everyone was present.")
		require.Contains(t, texts, "Then we adjourned.")
		return nil
	})
	require.NoError(t, err)
}

func TestStitchReviewDisagreementLoops(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	env.transcribeBoth(t, tr.ID, "part one", "part two")

	task := env.nextTask(t, tr.ID, types.KindStitch, false)
	var leftSFs, rightSFs []*store.SentenceFragment
	err := env.store.WithTx(func(tx *store.Tx) error {
		var err error
		leftSFs, err = tx.SentenceFragmentsByRevision(task.LeftRevisionID)
		require.NoError(t, err)
		rightSFs, err = tx.SentenceFragmentsByRevision(task.RightRevisionID)
		return err
	})
	require.NoError(t, err)

	// The do pass keeps the texts separate.
	_, err = env.engine.Submit(task.ID, Payload{})
	require.NoError(t, err)
	require.Equal(t, types.FragmentStitched, env.getFragments(t, tr.ID)[0].State)

	// The reviewer disagrees and joins them instead; the boundary stays
	// stitched for another review round.
	review := env.nextTask(t, tr.ID, types.KindStitch, true)
	_, err = env.engine.Submit(review.ID, Payload{
		Pairings: []PairingInput{{LeftID: leftSFs[0].ID, RightID: rightSFs[0].ID}},
	})
	require.NoError(t, err)
	require.Equal(t, types.TaskValid, env.getTask(t, review.ID).State)
	require.Equal(t, types.FragmentStitched, env.getFragments(t, tr.ID)[0].State)

	// The next review agrees with the corrected grouping and finishes.
	review = env.nextTask(t, tr.ID, types.KindStitch, true)
	var seeded []*store.StitchPairing
	err = env.store.WithTx(func(tx *store.Tx) error {
		var err error
		seeded, err = tx.PairingsByTask(review.ID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	_, err = env.engine.Submit(review.ID, Payload{
		Pairings: []PairingInput{{LeftID: seeded[0].LeftID, RightID: seeded[0].RightID}},
	})
	require.NoError(t, err)
	require.Equal(t, types.FragmentStitchReviewed, env.getFragments(t, tr.ID)[0].State)

	err = env.store.WithTx(func(tx *store.Tx) error {
		completed, err := tx.CompletedSentences(tr.ID)
		require.NoError(t, err)
		require.Len(t, completed, 1)
		require.Equal(t, "part one part two", completed[0].LatestText)
		return nil
	})
	require.NoError(t, err)
}

// finishPipeline drives a two-fragment transcript to completed sentences.
func (env *testEnv) finishPipeline(t *testing.T, transcriptID string) {
	t.Helper()
	env.transcribeBoth(t, transcriptID, "the quick", "brown fox.")

	task := env.nextTask(t, transcriptID, types.KindStitch, false)
	var leftSFs, rightSFs []*store.SentenceFragment
	err := env.store.WithTx(func(tx *store.Tx) error {
		var err error
		leftSFs, err = tx.SentenceFragmentsByRevision(task.LeftRevisionID)
		require.NoError(t, err)
		rightSFs, err = tx.SentenceFragmentsByRevision(task.RightRevisionID)
		return err
	})
	require.NoError(t, err)

	_, err = env.engine.Submit(task.ID, Payload{
		Pairings: []PairingInput{{LeftID: leftSFs[0].ID, RightID: rightSFs[0].ID}},
	})
	require.NoError(t, err)

	review := env.nextTask(t, transcriptID, types.KindStitch, true)
	var seeded []*store.StitchPairing
	err = env.store.WithTx(func(tx *store.Tx) error {
		var err error
		seeded, err = tx.PairingsByTask(review.ID)
		return err
	})
	require.NoError(t, err)
	_, err = env.engine.Submit(review.ID, Payload{
		Pairings: []PairingInput{{LeftID: seeded[0].LeftID, RightID: seeded[0].RightID}},
	})
	require.NoError(t, err)
}

func TestCleanTaskRounds(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)
	env.finishPipeline(t, tr.ID)

	task := env.nextTask(t, tr.ID, types.KindClean, false)
	require.Equal(t, "the quick brown fox.", task.Text)

	_, err := env.engine.Submit(task.ID, Payload{Text: "The quick brown fox."})
	require.NoError(t, err)

	err = env.store.WithTx(func(tx *store.Tx) error {
		s, err := tx.GetSentence(task.SentenceID)
		require.NoError(t, err)
		require.Equal(t, types.RefinementEdited, s.CleanState)
		require.Equal(t, "The quick brown fox.", s.LatestText)
		return nil
	})
	require.NoError(t, err)

	// A review that agrees settles the axis.
	review := env.nextTask(t, tr.ID, types.KindClean, true)
	require.Equal(t, "The quick brown fox.", review.Text)
	_, err = env.engine.Submit(review.ID, Payload{Text: "The quick brown fox."})
	require.NoError(t, err)

	err = env.store.WithTx(func(tx *store.Tx) error {
		s, err := tx.GetSentence(task.SentenceID)
		require.NoError(t, err)
		require.Equal(t, types.RefinementReviewed, s.CleanState)
		return nil
	})
	require.NoError(t, err)
}

func TestBoundaryTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)
	env.finishPipeline(t, tr.ID)

	task := env.nextTask(t, tr.ID, types.KindBoundary, false)

	// End beyond the transcript length is rejected.
	_, err := env.engine.Submit(task.ID, Payload{StartCS: 100, EndCS: 99999})
	require.NoError(t, err)
	require.Equal(t, types.TaskInvalid, env.getTask(t, task.ID).State)

	// Resubmission of an invalid task gets another chance.
	_, err = env.engine.Submit(task.ID, Payload{StartCS: 150, EndCS: 780})
	require.NoError(t, err)
	require.Equal(t, types.TaskValid, env.getTask(t, task.ID).State)

	err = env.store.WithTx(func(tx *store.Tx) error {
		s, err := tx.GetSentence(task.SentenceID)
		require.NoError(t, err)
		require.Equal(t, int64(150), s.LatestStartCS)
		require.Equal(t, int64(780), s.LatestEndCS)
		require.Equal(t, types.RefinementEdited, s.BoundaryState)
		return nil
	})
	require.NoError(t, err)
}

func TestSpeakerTaskCreatesSpeaker(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)
	env.finishPipeline(t, tr.ID)

	task := env.nextTask(t, tr.ID, types.KindSpeaker, false)

	_, err := env.engine.Submit(task.ID, Payload{NewName: "Alice"})
	require.NoError(t, err)
	require.Equal(t, types.TaskValid, env.getTask(t, task.ID).State)

	var speakerID string
	err = env.store.WithTx(func(tx *store.Tx) error {
		speakers, err := tx.ListSpeakers(tr.ID)
		require.NoError(t, err)
		require.Len(t, speakers, 1)
		require.Equal(t, "Alice", speakers[0].Name)
		speakerID = speakers[0].ID

		s, err := tx.GetSentence(task.SentenceID)
		require.NoError(t, err)
		require.Equal(t, speakerID, s.LatestSpeakerID)
		return nil
	})
	require.NoError(t, err)

	// The review is presented with the current assignment.
	review := env.nextTask(t, tr.ID, types.KindSpeaker, true)
	require.Equal(t, speakerID, review.SpeakerID)
	_, err = env.engine.Submit(review.ID, Payload{SpeakerID: speakerID})
	require.NoError(t, err)

	err = env.store.WithTx(func(tx *store.Tx) error {
		s, err := tx.GetSentence(task.SentenceID)
		require.NoError(t, err)
		require.Equal(t, types.RefinementReviewed, s.SpeakerState)
		return nil
	})
	require.NoError(t, err)
}

func TestExpireAbortsAndReleases(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTranscript(t)

	task := env.nextTask(t, tr.ID, types.KindTranscribe, false)

	err := env.store.WithTx(func(tx *store.Tx) error {
		got, err := tx.GetTask(task.ID)
		require.NoError(t, err)
		return env.engine.Expire(tx, got)
	})
	require.NoError(t, err)

	require.Equal(t, types.TaskAborted, env.getTask(t, task.ID).State)
	frags := env.getFragments(t, tr.ID)
	require.Equal(t, types.LockUnlocked, frags[0].LockState)
}
