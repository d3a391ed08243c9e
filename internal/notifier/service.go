package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"pomobot/internal/eventbus"
	rtsup "pomobot/internal/runtime/supervisor"
	"pomobot/internal/scheduler"
	"pomobot/internal/transport"
	logx "pomobot/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	channel string
	text    string
	kind    string
}

// Service implements scheduler.Notifier on top of a transport.Adapter:
// sharded queues + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter transport.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queues   []chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem

	dir *transport.Directory
}

type Option func(*Service)

// WithDirectory resolves subscriber ids to @handles when rendering notices.
func WithDirectory(dir *transport.Directory) Option {
	return func(s *Service) { s.dir = dir }
}

var _ scheduler.Notifier = (*Service)(nil)

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.applyLocked(cfg)
	return s
}

// Apply updates rate, retry and formatting settings. Workers and QueueSize
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Burst = rate per second so short spikes don't block too hard.
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queues != nil {
		s.mu.Unlock()
		return
	}

	workers := s.cfg.Workers
	s.queues = make([]chan job, workers)
	for i := range s.queues {
		s.queues[i] = make(chan job, s.cfg.QueueSize)
	}
	s.accepting = true
	// Delivery failures must not take down the process.
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup := s.sup
	queues := s.queues
	s.mu.Unlock()

	for i, q := range queues {
		q := q
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			if c.Err() != nil || s.stopping() {
				return nil
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
	s.log.Debug("notifier started", logx.Int("workers", workers))
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopDone != nil
}

// Stop stops intake and drains the queues best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	queues := s.queues
	sup := s.sup
	if queues == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queues so workers drain and exit.
		s.sendWG.Wait()
		for _, q := range queues {
			close(q)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queues = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify renders ev and queues it for the channel. It never blocks.
func (s *Service) Notify(ctx context.Context, channel string, subscribers []string, ev scheduler.PhaseEvent) {
	s.mu.Lock()
	loc := s.cfg.Location
	s.mu.Unlock()
	text := FormatPhaseEvent(ev, s.dir.Resolve(subscribers), loc)
	if err := s.enqueue(ctx, job{channel: channel, text: text, kind: "notice"}); err != nil {
		s.log.Warn("notice not queued", logx.String("channel", channel), logx.String("event", ev.Kind.String()), logx.Err(err))
	}
}

// Reply queues a plain command reply for the channel.
func (s *Service) Reply(ctx context.Context, channel, text string) error {
	if text == "" {
		return nil
	}
	return s.enqueue(ctx, job{channel: channel, text: text, kind: "reply"})
}

func (s *Service) enqueue(ctx context.Context, j job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting || s.queues == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queues[shard(j.channel, len(s.queues))]
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- j:
		return nil
	default:
		s.publish(eventbus.NotifyDropped, j, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

// shard pins a channel to one worker.
func shard(channel string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(channel))
	return int(h.Sum32() % uint32(n))
}

// History returns recently sent messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(channel, text string, max int) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Channel: channel, Text: text})
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j, rng)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job, rng *rand.Rand) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.adapter == nil {
		return
	}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.adapter.SendText(callCtx, transport.ChatTarget{Channel: j.channel}, j.text, &transport.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			s.appendHistory(j.channel, j.text, cfg.HistorySize)
			s.publish(eventbus.NotifySent, j, attempt, nil)
			return
		}
		lastErr = err
		s.log.Debug("send failed", logx.String("channel", j.channel), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt, rng))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("message not delivered", logx.String("channel", j.channel), logx.String("kind", j.kind), logx.Int("attempts", maxAttempts), logx.Err(lastErr))
	s.publish(eventbus.NotifyFailed, j, maxAttempts, lastErr)
}

func (s *Service) publish(topic string, j job, attempt int, err error) {
	ev := NotificationEvent{Channel: j.channel, Kind: j.kind, At: time.Now(), Attempt: attempt}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: topic, Channel: j.channel, Time: ev.At, Data: ev})
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), jittered to 0.7..1.3, capped.
func retryDelay(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	if rng != nil {
		d = time.Duration(float64(d) * (0.7 + rng.Float64()*0.6))
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
