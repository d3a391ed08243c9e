package eventbus

import (
	"testing"
	"time"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	phases, unsubPhases := b.Subscribe(4, PhaseChanged)
	defer unsubPhases()

	b.Publish(Event{Type: SessionStarted, Channel: "c1"})
	b.Publish(Event{Type: PhaseChanged, Channel: "c1"})

	if got := (<-all).Type; got != SessionStarted {
		t.Fatalf("first event on unfiltered = %q", got)
	}
	if got := (<-all).Type; got != PhaseChanged {
		t.Fatalf("second event on unfiltered = %q", got)
	}
	select {
	case e := <-phases:
		if e.Type != PhaseChanged || e.Time.IsZero() {
			t.Fatalf("filtered event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber got nothing")
	}
	select {
	case e := <-phases:
		t.Fatalf("unexpected extra event %+v", e)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: PhaseChanged})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	unsub()
	unsub()
	b.Publish(Event{Type: PhaseChanged})
}
