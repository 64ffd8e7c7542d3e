package fragments

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/locks"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewEngine(locks.NewManager()), st
}

func TestCreateFragmentsStretchesFinal(t *testing.T) {
	engine, st := newTestEngine(t)

	err := st.WithTx(func(tx *store.Tx) error {
		tr, err := tx.CreateTranscript("meeting")
		require.NoError(t, err)

		// 130s with a 60s target: the trailing 10s is absorbed into the
		// second fragment instead of becoming a short third one.
		frags, err := engine.CreateFragments(tx, tr, 13000, 6000)
		require.NoError(t, err)
		require.Len(t, frags, 2)

		require.Equal(t, int64(0), frags[0].StartCS)
		require.Equal(t, int64(6000), frags[0].EndCS)
		require.Equal(t, int64(6000), frags[1].StartCS)
		require.Equal(t, int64(13000), frags[1].EndCS)

		// Outer edges are born stitched.
		require.True(t, frags[0].StitchedLeft)
		require.False(t, frags[0].StitchedRight)
		require.False(t, frags[1].StitchedLeft)
		require.True(t, frags[1].StitchedRight)

		require.Equal(t, types.LengthSet, tr.LengthState)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateFragmentsSingleWhenShort(t *testing.T) {
	engine, st := newTestEngine(t)

	err := st.WithTx(func(tx *store.Tx) error {
		tr, err := tx.CreateTranscript("short")
		require.NoError(t, err)

		frags, err := engine.CreateFragments(tx, tr, 4500, 6000)
		require.NoError(t, err)
		require.Len(t, frags, 1)
		require.Equal(t, int64(0), frags[0].StartCS)
		require.Equal(t, int64(4500), frags[0].EndCS)
		require.True(t, frags[0].StitchedLeft)
		require.True(t, frags[0].StitchedRight)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateFragmentsOnlyOnce(t *testing.T) {
	engine, st := newTestEngine(t)

	err := st.WithTx(func(tx *store.Tx) error {
		tr, err := tx.CreateTranscript("meeting")
		require.NoError(t, err)
		_, err = engine.CreateFragments(tx, tr, 13000, 6000)
		require.NoError(t, err)

		_, err = engine.CreateFragments(tx, tr, 20000, 6000)
		require.True(t, errors.Is(err, types.ErrPreconditionFailed))
		return nil
	})
	require.NoError(t, err)
}

func TestFragmentStateMachineForwardOnly(t *testing.T) {
	engine, st := newTestEngine(t)

	err := st.WithTx(func(tx *store.Tx) error {
		tr, err := tx.CreateTranscript("meeting")
		require.NoError(t, err)
		frags, err := engine.CreateFragments(tx, tr, 4500, 6000)
		require.NoError(t, err)
		f := frags[0]

		// Skipping a stage is rejected.
		err = engine.ReviewTranscript(tx, f)
		require.True(t, errors.Is(err, types.ErrPreconditionFailed))

		require.NoError(t, engine.Transcribe(tx, f))
		require.Equal(t, types.FragmentTranscribed, f.State)

		// Repeating a transition is rejected.
		err = engine.Transcribe(tx, f)
		require.True(t, errors.Is(err, types.ErrPreconditionFailed))

		require.NoError(t, engine.ReviewTranscript(tx, f))
		require.NoError(t, engine.Stitch(tx, f))
		require.NoError(t, engine.ReviewStitch(tx, f))
		require.Equal(t, types.FragmentStitchReviewed, f.State)
		return nil
	})
	require.NoError(t, err)
}

func TestStitchRequiresBothSides(t *testing.T) {
	engine, st := newTestEngine(t)

	err := st.WithTx(func(tx *store.Tx) error {
		tr, err := tx.CreateTranscript("meeting")
		require.NoError(t, err)
		frags, err := engine.CreateFragments(tx, tr, 13000, 6000)
		require.NoError(t, err)
		f := frags[0]

		require.NoError(t, engine.Transcribe(tx, f))
		require.NoError(t, engine.ReviewTranscript(tx, f))

		// Right edge not stitched yet.
		err = engine.Stitch(tx, f)
		require.True(t, errors.Is(err, types.ErrPreconditionFailed))
		return nil
	})
	require.NoError(t, err)
}

func TestLockPairAllOrNothing(t *testing.T) {
	engine, st := newTestEngine(t)

	err := st.WithTx(func(tx *store.Tx) error {
		tr, err := tx.CreateTranscript("meeting")
		require.NoError(t, err)
		frags, err := engine.CreateFragments(tx, tr, 13000, 6000)
		require.NoError(t, err)
		left, right := frags[0], frags[1]

		require.NoError(t, engine.Lock(tx, right))

		err = engine.LockPair(tx, left, right)
		require.True(t, errors.Is(err, types.ErrLockContention))

		// The left fragment must still be acquirable.
		require.NoError(t, engine.Lock(tx, left))

		require.NoError(t, engine.Unlock(tx, left))
		require.NoError(t, engine.Unlock(tx, right))
		require.NoError(t, engine.LockPair(tx, left, right))
		require.Equal(t, types.LockLocked, left.LockState)
		require.Equal(t, types.LockLocked, right.LockState)
		return nil
	})
	require.NoError(t, err)
}
