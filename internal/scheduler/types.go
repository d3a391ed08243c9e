package scheduler

import (
	"context"
	"errors"
	"time"

	"pomobot/internal/pomo"
)

var ErrClosed = errors.New("scheduler closed")

type Config struct {
	// RetryWindow bounds how long a timer-driven advance keeps retrying a
	// failing store before the scheduler gives up and calls OnFatal.
	RetryWindow   time.Duration
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64

	// StoreTimeout bounds each store write issued from a timer.
	StoreTimeout time.Duration

	// MaxCatchUp caps the number of phases replayed per channel during recovery.
	MaxCatchUp int
}

func (c Config) withDefaults() Config {
	if c.RetryWindow <= 0 {
		c.RetryWindow = 2 * time.Minute
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.RetryJitter <= 0 {
		c.RetryJitter = 0.2
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = 10000
	}
	return c
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventPhaseChanged
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventPhaseChanged:
		return "phase_changed"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Trigger says what caused an event. Notifications render the same text for
// skip and expiry; the trigger is metadata only.
type Trigger string

const (
	TriggerCommand  Trigger = "command"
	TriggerSkip     Trigger = "skip"
	TriggerExpiry   Trigger = "expiry"
	TriggerRecovery Trigger = "recovery"
)

// PhaseEvent describes one session transition.
type PhaseEvent struct {
	Kind      EventKind
	SessionID string
	Phase     pomo.Phase
	Previous  pomo.Phase
	Duration  time.Duration
	Deadline  time.Time
	Trigger   Trigger
	// Resumed marks the single consolidated event emitted for a channel whose
	// phases elapsed while the process was down. CaughtUp counts those phases.
	Resumed  bool
	CaughtUp int
}

// Notifier receives transition events. Implementations must not block: Notify
// is called while the channel's entry is locked. Delivery failures never roll
// back the transition.
type Notifier interface {
	Notify(ctx context.Context, channel string, subscribers []string, ev PhaseEvent)
}

type NotifierFunc func(ctx context.Context, channel string, subscribers []string, ev PhaseEvent)

func (f NotifierFunc) Notify(ctx context.Context, channel string, subscribers []string, ev PhaseEvent) {
	f(ctx, channel, subscribers, ev)
}

// StatusView is a read-only view of a live session.
type StatusView struct {
	SessionID   string
	Channel     string
	Config      pomo.PhaseConfig
	Phase       pomo.Phase
	PhaseStart  time.Time
	Deadline    time.Time
	Elapsed     time.Duration
	Remaining   time.Duration
	NextPhase   pomo.Phase
	LongBreakAt time.Time
	Subscribers []string
	CreatedAt   time.Time
}

// RecoveryReport summarises one Recover call.
type RecoveryReport struct {
	Loaded   int      // records read from the store
	Rearmed  []string // deadline still ahead, armed silently
	Advanced []string // phases elapsed offline, one resumed notice sent
	Stopped  int      // stopped records cleared
	Dropped  []string // corrupt records discarded
	Failed   []string // persist of the caught-up state failed; record left untouched
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock used for timers.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithOnFatal sets the hook called when a timer-driven advance cannot be
// persisted within RetryWindow.
func WithOnFatal(fn func(channel string, err error)) Option {
	return func(s *Scheduler) { s.onFatal = fn }
}
