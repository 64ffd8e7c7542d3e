package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe()
	b := hub.Subscribe()

	hub.Publish(Event{Type: TypeTaskSubmitted, TaskID: "t1"})

	for _, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			require.Equal(t, TypeTaskSubmitted, ev.Type)
			require.Equal(t, "t1", ev.TaskID)
			require.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	hub.Unsubscribe(ch)

	_, ok := <-ch
	require.False(t, ok)

	// Publishing after unsubscribe must not panic.
	hub.Publish(Event{Type: TypeTranscript})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Publish(Event{Type: TypeTaskSettled})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	// The buffer holds what fit; the rest were dropped.
	require.NotEmpty(t, ch)
	require.LessOrEqual(t, len(ch), cap(ch))
}
