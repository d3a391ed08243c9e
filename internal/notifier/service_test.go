package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"pomobot/internal/eventbus"
	"pomobot/internal/pomo"
	"pomobot/internal/scheduler"
	"pomobot/internal/transport"
	logx "pomobot/pkg/logx"
)

type sent struct {
	channel string
	text    string
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sent
	failures map[string]int // channel -> remaining failures
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                          { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[to.Channel] > 0 {
		f.failures[to.Channel]--
		return transport.MessageRef{}, errors.New("telegram: 502")
	}
	f.sent = append(f.sent, sent{channel: to.Channel, text: text})
	return transport.MessageRef{Channel: to.Channel, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) byChannel(ch string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.channel == ch {
			out = append(out, s.text)
		}
	}
	return out
}

func fastConfig() Config {
	return Config{Workers: 3, QueueSize: 64, RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}
}

func stopService(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestRepliesKeepPerChannelOrder(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(fastConfig(), ad, logx.Nop(), nil)
	s.Start(context.Background())

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		for _, ch := range []string{"a", "b", "c"} {
			if err := s.Reply(ctx, ch, fmt.Sprintf("%s-%02d", ch, i)); err != nil {
				t.Fatalf("Reply: %v", err)
			}
		}
	}
	stopService(t, s)

	for _, ch := range []string{"a", "b", "c"} {
		got := ad.byChannel(ch)
		if len(got) != 20 {
			t.Fatalf("channel %s: %d messages, want 20", ch, len(got))
		}
		for i, text := range got {
			if want := fmt.Sprintf("%s-%02d", ch, i); text != want {
				t.Fatalf("channel %s message %d = %q, want %q", ch, i, text, want)
			}
		}
	}
	if n := len(s.History()); n != 60 {
		t.Fatalf("history = %d, want 60", n)
	}
}

func TestRetryThenFail(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failures: map[string]int{"flaky": 2, "dead": 100}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, eventbus.NotifySent, eventbus.NotifyFailed)
	defer unsub()

	s := New(fastConfig(), ad, logx.Nop(), bus)
	s.Start(context.Background())
	ctx := context.Background()
	_ = s.Reply(ctx, "flaky", "eventually")
	_ = s.Reply(ctx, "dead", "never")
	stopService(t, s)

	if got := ad.byChannel("flaky"); len(got) != 1 {
		t.Fatalf("flaky channel got %v", got)
	}
	if got := ad.byChannel("dead"); len(got) != 0 {
		t.Fatalf("dead channel got %v", got)
	}

	seen := map[string]NotificationEvent{}
	for len(seen) < 2 {
		select {
		case e := <-events:
			seen[e.Type] = e.Data.(NotificationEvent)
		case <-time.After(time.Second):
			t.Fatalf("missing bus events, have %v", seen)
		}
	}
	if ev := seen[eventbus.NotifySent]; ev.Channel != "flaky" || ev.Attempt != 3 {
		t.Fatalf("sent event = %+v", ev)
	}
	if ev := seen[eventbus.NotifyFailed]; ev.Channel != "dead" || ev.Error == "" {
		t.Fatalf("failed event = %+v", ev)
	}
}

func TestNotifyRendersEvent(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(fastConfig(), ad, logx.Nop(), nil)
	s.Start(context.Background())

	ev := scheduler.PhaseEvent{
		Kind:     scheduler.EventPhaseChanged,
		Phase:    pomo.Phase{Kind: pomo.ShortBreak},
		Duration: 5 * time.Minute,
		Deadline: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	s.Notify(context.Background(), "c1", []string{"@bo"}, ev)
	stopService(t, s)

	got := ad.byChannel("c1")
	if len(got) != 1 || got[0] != "short break for 5m (until 09:30). @bo" {
		t.Fatalf("sent = %q", got)
	}
}

func TestNotifyMentionsCurrentHandles(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	dir := transport.NewDirectory()
	dir.Observe("11", "bo")
	dir.Observe("11", "bobby")
	s := New(fastConfig(), ad, logx.Nop(), nil, WithDirectory(dir))
	s.Start(context.Background())

	ev := scheduler.PhaseEvent{
		Kind:     scheduler.EventPhaseChanged,
		Phase:    pomo.Phase{Kind: pomo.Work, Index: 1},
		Duration: 25 * time.Minute,
		Deadline: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	s.Notify(context.Background(), "c1", []string{"11", "12"}, ev)
	stopService(t, s)

	got := ad.byChannel("c1")
	if len(got) != 1 || got[0] != "work #2 for 25m (until 10:00). @bobby (+1)" {
		t.Fatalf("sent = %q", got)
	}
}

func TestReplyAfterStop(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), &fakeAdapter{}, logx.Nop(), nil)
	if err := s.Reply(context.Background(), "c1", "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Reply before Start = %v, want ErrStopped", err)
	}
	s.Start(context.Background())
	stopService(t, s)
	if err := s.Reply(context.Background(), "c1", "x"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Reply after Stop = %v, want ErrStopped", err)
	}
	// Restart works.
	s.Start(context.Background())
	if err := s.Reply(context.Background(), "c1", "x"); err != nil {
		t.Fatalf("Reply after restart = %v", err)
	}
	stopService(t, s)
}

func TestShardIsStable(t *testing.T) {
	t.Parallel()
	for _, ch := range []string{"a", "-100123:7", "42"} {
		first := shard(ch, 4)
		for i := 0; i < 10; i++ {
			if shard(ch, 4) != first {
				t.Fatalf("shard(%q) not stable", ch)
			}
		}
		if first < 0 || first >= 4 {
			t.Fatalf("shard(%q) = %d", ch, first)
		}
	}
	if shard("x", 1) != 0 {
		t.Fatal("single worker must get everything")
	}
}
