package pomo

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	if s == Stopped {
		return "stopped"
	}
	return "running"
}

// Session is one channel's timer state machine.
//
// Sessions have value semantics: every mutating method returns an updated copy
// and leaves the receiver untouched, so callers can persist the new state before
// committing it.
type Session struct {
	ID         string
	Channel    string
	Config     PhaseConfig
	Phase      Phase
	PhaseStart time.Time
	Deadline   time.Time
	State      State
	CreatedAt  time.Time

	subscribers map[string]struct{}
}

// NewSession returns a Running session at Work(0) that started at now.
func NewSession(channel string, cfg PhaseConfig, now time.Time) Session {
	first := FirstPhase()
	return Session{
		ID:          uuid.NewString(),
		Channel:     channel,
		Config:      cfg,
		Phase:       first,
		PhaseStart:  now,
		Deadline:    now.Add(cfg.Duration(first)),
		State:       Running,
		CreatedAt:   now,
		subscribers: map[string]struct{}{},
	}
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	cp := s
	cp.subscribers = make(map[string]struct{}, len(s.subscribers))
	for u := range s.subscribers {
		cp.subscribers[u] = struct{}{}
	}
	return cp
}

// Advance moves to the next phase, starting it at now.
func (s Session) Advance(now time.Time) (Session, Phase) {
	next := s.Clone()
	next.Phase = Next(s.Phase, s.Config)
	next.PhaseStart = now
	next.Deadline = now.Add(s.Config.Duration(next.Phase))
	return next, next.Phase
}

// ForceAdvance is Advance triggered by a user instead of the clock. The
// resulting state is identical.
func (s Session) ForceAdvance(now time.Time) (Session, Phase) {
	return s.Advance(now)
}

// Subscribe adds user to the subscriber set. changed is false when the user was
// already subscribed or the session is not running.
func (s Session) Subscribe(user string) (next Session, changed bool) {
	if s.State != Running || user == "" {
		return s, false
	}
	if _, ok := s.subscribers[user]; ok {
		return s, false
	}
	next = s.Clone()
	next.subscribers[user] = struct{}{}
	return next, true
}

// Unsubscribe removes user from the subscriber set.
func (s Session) Unsubscribe(user string) (next Session, changed bool) {
	if s.State != Running {
		return s, false
	}
	if _, ok := s.subscribers[user]; !ok {
		return s, false
	}
	next = s.Clone()
	delete(next.subscribers, user)
	return next, true
}

// Stop flags the session as Stopped and drops its subscribers. Pending timers
// are not touched.
func (s Session) Stop() Session {
	next := s.Clone()
	next.State = Stopped
	next.subscribers = map[string]struct{}{}
	return next
}

func (s Session) IsSubscribed(user string) bool {
	_, ok := s.subscribers[user]
	return ok
}

// Subscribers returns the subscriber ids sorted.
func (s Session) Subscribers() []string {
	out := make([]string, 0, len(s.subscribers))
	for u := range s.subscribers {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Remaining is deadline - now, floored at zero.
func (s Session) Remaining(now time.Time) time.Duration {
	d := s.Deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s Session) Elapsed(now time.Time) time.Duration {
	d := now.Sub(s.PhaseStart)
	if d < 0 {
		return 0
	}
	return d
}

// PhaseDuration is the configured length of the current phase.
func (s Session) PhaseDuration() time.Duration { return s.Config.Duration(s.Phase) }

// NextPhase is the phase that follows the current one.
func (s Session) NextPhase() Phase { return Next(s.Phase, s.Config) }

// LongBreakAt is when the next long break starts, assuming no skips. During a
// long break it refers to the following one.
func (s Session) LongBreakAt() time.Time {
	return s.Deadline.Add(UntilLongBreak(s.Phase, s.Config))
}
