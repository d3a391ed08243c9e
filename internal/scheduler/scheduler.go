package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"pomobot/internal/eventbus"
	"pomobot/internal/pomo"
	"pomobot/internal/storage"
	logx "pomobot/pkg/logx"
)

type Scheduler struct {
	cfg   Config
	store storage.Store
	note  Notifier
	bus   eventbus.Bus
	log   logx.Logger
	clock Clock

	onFatal func(channel string, err error)

	// base context for notifications and timer-driven store writes.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// entry is one channel's slot. sess == nil means the channel has no live
// session (a start that failed to persist, or a session being removed).
type entry struct {
	mu      sync.Mutex
	channel string
	sess    *pomo.Session
	timer   Timer
	gen     uint64

	// timer-path persist failures
	failingSince time.Time
	attempt      int
}

func New(cfg Config, store storage.Store, n Notifier, log logx.Logger, bus eventbus.Bus, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if n == nil {
		n = NotifierFunc(func(context.Context, string, []string, PhaseEvent) {})
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg.withDefaults(),
		store:   store,
		note:    n,
		bus:     bus,
		log:     log.With(logx.String("comp", "scheduler")),
		clock:   wallClock{},
		ctx:     ctx,
		cancel:  cancel,
		entries: map[string]*entry{},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Scheduler) lookup(channel string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.entries[channel]
	if !ok {
		return nil, pomo.ErrNotRunning
	}
	return e, nil
}

// removeLocked drops e from the map if it is still the channel's entry.
// Caller holds e.mu.
func (s *Scheduler) removeLocked(e *entry) {
	s.mu.Lock()
	if cur, ok := s.entries[e.channel]; ok && cur == e {
		delete(s.entries, e.channel)
	}
	s.mu.Unlock()
}

// Start creates a session at Work(0). owner, when non-empty, is subscribed.
func (s *Scheduler) Start(ctx context.Context, channel string, cfg pomo.PhaseConfig, owner string, now time.Time) (pomo.Session, error) {
	if channel == "" {
		return pomo.Session{}, fmt.Errorf("empty channel")
	}
	if err := cfg.Validate(); err != nil {
		return pomo.Session{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return pomo.Session{}, ErrClosed
	}
	if _, ok := s.entries[channel]; ok {
		s.mu.Unlock()
		return pomo.Session{}, pomo.ErrAlreadyRunning
	}
	e := &entry{channel: channel}
	// Brand-new entry: nobody else can hold its lock yet.
	e.mu.Lock()
	s.entries[channel] = e
	s.mu.Unlock()
	defer e.mu.Unlock()

	sess := pomo.NewSession(channel, cfg, now)
	if owner != "" {
		sess, _ = sess.Subscribe(owner)
	}
	if err := s.store.Put(ctx, sess.Snapshot()); err != nil {
		s.removeLocked(e)
		s.log.Warn("session start not persisted", logx.String("channel", channel), logx.Err(err))
		return pomo.Session{}, storeErr(err)
	}

	e.sess = &sess
	s.armLocked(e)
	s.log.Info("session started",
		logx.String("channel", channel),
		logx.String("session", sess.ID),
		logx.Duration("work", cfg.Work),
		logx.Duration("short_break", cfg.ShortBreak),
		logx.Duration("long_break", cfg.LongBreak),
		logx.Int("interval", cfg.Interval),
	)
	s.emitLocked(e, eventbus.SessionStarted, PhaseEvent{
		Kind:     EventStarted,
		Phase:    sess.Phase,
		Previous: sess.Phase,
		Trigger:  TriggerCommand,
	})
	return sess.Clone(), nil
}

// Stop ends the channel's session and deletes its snapshot.
func (s *Scheduler) Stop(ctx context.Context, channel string) error {
	e, err := s.lookup(channel)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return pomo.ErrNotRunning
	}

	if err := s.store.Delete(ctx, channel); err != nil {
		s.log.Warn("session stop not persisted", logx.String("channel", channel), logx.Err(err))
		return storeErr(err)
	}

	stopped := e.sess.Stop()
	subs := e.sess.Subscribers()
	s.disarmLocked(e)
	e.sess = nil
	s.removeLocked(e)

	s.log.Info("session stopped", logx.String("channel", channel), logx.String("session", stopped.ID))
	ev := PhaseEvent{
		Kind:      EventStopped,
		SessionID: stopped.ID,
		Phase:     stopped.Phase,
		Previous:  stopped.Phase,
		Trigger:   TriggerCommand,
	}
	s.publish(channel, subs, eventbus.SessionStopped, ev)
	return nil
}

// Skip ends the current phase early. The notification is the same one a
// natural expiry produces.
func (s *Scheduler) Skip(ctx context.Context, channel string, now time.Time) (pomo.Phase, error) {
	e, err := s.lookup(channel)
	if err != nil {
		return pomo.Phase{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return pomo.Phase{}, pomo.ErrNotRunning
	}

	prev := e.sess.Phase
	next, phase := e.sess.ForceAdvance(now)
	if err := s.store.Put(ctx, next.Snapshot()); err != nil {
		s.log.Warn("skip not persisted", logx.String("channel", channel), logx.Err(err))
		return pomo.Phase{}, storeErr(err)
	}

	e.sess = &next
	s.armLocked(e)
	s.log.Debug("phase skipped", logx.String("channel", channel), logx.String("from", prev.String()), logx.String("to", phase.String()))
	s.emitLocked(e, eventbus.PhaseChanged, PhaseEvent{
		Kind:     EventPhaseChanged,
		Phase:    phase,
		Previous: prev,
		Trigger:  TriggerSkip,
	})
	return phase, nil
}

// Status reports the live session without side effects.
func (s *Scheduler) Status(channel string, now time.Time) (StatusView, error) {
	e, err := s.lookup(channel)
	if err != nil {
		return StatusView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return StatusView{}, pomo.ErrNotRunning
	}
	sess := e.sess
	return StatusView{
		SessionID:   sess.ID,
		Channel:     sess.Channel,
		Config:      sess.Config,
		Phase:       sess.Phase,
		PhaseStart:  sess.PhaseStart,
		Deadline:    sess.Deadline,
		Elapsed:     sess.Elapsed(now),
		Remaining:   sess.Remaining(now),
		NextPhase:   sess.NextPhase(),
		LongBreakAt: sess.LongBreakAt(),
		Subscribers: sess.Subscribers(),
		CreatedAt:   sess.CreatedAt,
	}, nil
}

// Join subscribes user. changed is false when user was already subscribed.
func (s *Scheduler) Join(ctx context.Context, channel, user string) (bool, error) {
	return s.updateSubscribers(ctx, channel, user, pomo.Session.Subscribe)
}

// Leave unsubscribes user. changed is false when user was not subscribed.
func (s *Scheduler) Leave(ctx context.Context, channel, user string) (bool, error) {
	return s.updateSubscribers(ctx, channel, user, pomo.Session.Unsubscribe)
}

func (s *Scheduler) updateSubscribers(ctx context.Context, channel, user string, op func(pomo.Session, string) (pomo.Session, bool)) (bool, error) {
	if user == "" {
		return false, fmt.Errorf("empty user")
	}
	e, err := s.lookup(channel)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return false, pomo.ErrNotRunning
	}
	next, changed := op(*e.sess, user)
	if !changed {
		return false, nil
	}
	if err := s.store.Put(ctx, next.Snapshot()); err != nil {
		return false, storeErr(err)
	}
	// PhaseStart is unchanged, so the armed timer stays valid.
	e.sess = &next
	return true, nil
}

// Channels lists channels with a live session.
func (s *Scheduler) Channels() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.entries))
	for ch := range s.entries {
		out = append(out, ch)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close stops every timer. The store is left untouched so sessions resume on
// the next Recover.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		s.disarmLocked(e)
		e.mu.Unlock()
	}
	s.cancel()
	s.log.Info("scheduler closed", logx.Int("sessions", len(entries)))
}

func (s *Scheduler) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// emitLocked fills the session fields of ev from e.sess and publishes it.
func (s *Scheduler) emitLocked(e *entry, topic string, ev PhaseEvent) {
	sess := e.sess
	ev.SessionID = sess.ID
	ev.Duration = sess.PhaseDuration()
	ev.Deadline = sess.Deadline
	s.publish(e.channel, sess.Subscribers(), topic, ev)
}

func (s *Scheduler) publish(channel string, subs []string, topic string, ev PhaseEvent) {
	s.note.Notify(s.ctx, channel, subs, ev)
	s.bus.Publish(eventbus.Event{Type: topic, Channel: channel, Data: ev})
}
