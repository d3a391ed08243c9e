package pomo

import (
	"errors"
	"fmt"
	"time"
)

// PhaseKind tags a Phase.
type PhaseKind int

const (
	Work PhaseKind = iota
	ShortBreak
	LongBreak
)

func (k PhaseKind) String() string {
	switch k {
	case Work:
		return "work"
	case ShortBreak:
		return "short_break"
	case LongBreak:
		return "long_break"
	default:
		return fmt.Sprintf("phase(%d)", int(k))
	}
}

// ParsePhaseKind is the inverse of PhaseKind.String.
func ParsePhaseKind(s string) (PhaseKind, error) {
	switch s {
	case "work":
		return Work, nil
	case "short_break":
		return ShortBreak, nil
	case "long_break":
		return LongBreak, nil
	default:
		return 0, fmt.Errorf("unknown phase kind %q", s)
	}
}

// Phase is one timed segment of a session.
//
// Index counts completed work phases since the session started. A break carries
// the index of the work phase it follows, so the next work phase is Index+1.
type Phase struct {
	Kind  PhaseKind
	Index int
}

func (p Phase) IsBreak() bool { return p.Kind != Work }

func (p Phase) String() string {
	if p.Kind == Work {
		return fmt.Sprintf("work(%d)", p.Index)
	}
	return p.Kind.String()
}

// PhaseConfig is fixed for the lifetime of a session.
type PhaseConfig struct {
	Work       time.Duration `json:"work"`
	ShortBreak time.Duration `json:"short_break"`
	LongBreak  time.Duration `json:"long_break"`
	// Interval is the number of work phases between long breaks.
	Interval int `json:"interval"`
}

const (
	DefaultWork       = 25 * time.Minute
	DefaultShortBreak = 5 * time.Minute
	DefaultLongBreak  = 15 * time.Minute
	DefaultInterval   = 4
)

func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		Work:       DefaultWork,
		ShortBreak: DefaultShortBreak,
		LongBreak:  DefaultLongBreak,
		Interval:   DefaultInterval,
	}
}

// Validate returns the first violated invariant, or nil.
func (c PhaseConfig) Validate() error {
	switch {
	case c.Work <= 0:
		return errors.New("work duration must be positive")
	case c.ShortBreak <= 0:
		return errors.New("short break duration must be positive")
	case c.LongBreak <= 0:
		return errors.New("long break duration must be positive")
	case c.Interval < 1:
		return errors.New("interval must be at least 1")
	}
	return nil
}

// Duration returns the configured length of p.
func (c PhaseConfig) Duration(p Phase) time.Duration {
	switch p.Kind {
	case ShortBreak:
		return c.ShortBreak
	case LongBreak:
		return c.LongBreak
	default:
		return c.Work
	}
}

// FirstPhase is where every session begins.
func FirstPhase() Phase { return Phase{Kind: Work, Index: 0} }

// Next is the single source of truth for phase sequencing.
func Next(p Phase, cfg PhaseConfig) Phase {
	if p.Kind != Work {
		return Phase{Kind: Work, Index: p.Index + 1}
	}
	interval := cfg.Interval
	if interval < 1 {
		interval = 1
	}
	if (p.Index+1)%interval == 0 {
		return Phase{Kind: LongBreak, Index: p.Index}
	}
	return Phase{Kind: ShortBreak, Index: p.Index}
}

// UntilLongBreak sums the durations of the phases that follow p, up to (not
// including) the next long break. It is zero when p is immediately followed by a
// long break.
func UntilLongBreak(p Phase, cfg PhaseConfig) time.Duration {
	var total time.Duration
	cur := Next(p, cfg)
	// A long break is at most 2*Interval phases away.
	for i := 0; i < 2*cfg.Interval+2 && cur.Kind != LongBreak; i++ {
		total += cfg.Duration(cur)
		cur = Next(cur, cfg)
	}
	return total
}
