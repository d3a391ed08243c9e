package pomo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Snapshot is the persisted form of a Session.
type Snapshot struct {
	ID          string         `json:"id"`
	Channel     string         `json:"channel"`
	Config      ConfigSnapshot `json:"config"`
	Phase       string         `json:"phase"`
	PhaseIndex  int            `json:"phase_index"`
	PhaseStart  time.Time      `json:"phase_start"`
	Deadline    time.Time      `json:"deadline"`
	Subscribers []string       `json:"subscribers"`
	State       string         `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ConfigSnapshot stores durations as Go duration strings so records stay readable.
type ConfigSnapshot struct {
	Work       string `json:"work"`
	ShortBreak string `json:"short_break"`
	LongBreak  string `json:"long_break"`
	Interval   int    `json:"interval"`
}

func (s Session) Snapshot() Snapshot {
	return Snapshot{
		ID:      s.ID,
		Channel: s.Channel,
		Config: ConfigSnapshot{
			Work:       s.Config.Work.String(),
			ShortBreak: s.Config.ShortBreak.String(),
			LongBreak:  s.Config.LongBreak.String(),
			Interval:   s.Config.Interval,
		},
		Phase:       s.Phase.Kind.String(),
		PhaseIndex:  s.Phase.Index,
		PhaseStart:  s.PhaseStart.UTC(),
		Deadline:    s.Deadline.UTC(),
		Subscribers: s.Subscribers(),
		State:       s.State.String(),
		CreatedAt:   s.CreatedAt.UTC(),
	}
}

// Restore rebuilds a Session from a snapshot. Every failure wraps ErrRecoveryCorrupt.
func (snap Snapshot) Restore() (Session, error) {
	corrupt := func(format string, args ...any) (Session, error) {
		return Session{}, fmt.Errorf("%w: channel %q: %s", ErrRecoveryCorrupt, snap.Channel, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(snap.Channel) == "" {
		return corrupt("empty channel")
	}
	cfg, err := snap.Config.restore()
	if err != nil {
		return corrupt("config: %v", err)
	}
	kind, err := ParsePhaseKind(snap.Phase)
	if err != nil {
		return corrupt("%v", err)
	}
	if snap.PhaseIndex < 0 {
		return corrupt("negative phase index %d", snap.PhaseIndex)
	}
	if snap.PhaseStart.IsZero() || snap.Deadline.IsZero() {
		return corrupt("missing timestamps")
	}
	phase := Phase{Kind: kind, Index: snap.PhaseIndex}
	if !snap.PhaseStart.Add(cfg.Duration(phase)).Equal(snap.Deadline) {
		return corrupt("deadline %s does not match phase start %s + %s",
			snap.Deadline.Format(time.RFC3339), snap.PhaseStart.Format(time.RFC3339), cfg.Duration(phase))
	}
	var state State
	switch snap.State {
	case "running", "":
		state = Running
	case "stopped":
		state = Stopped
	default:
		return corrupt("unknown state %q", snap.State)
	}

	subs := make(map[string]struct{}, len(snap.Subscribers))
	for _, u := range snap.Subscribers {
		if u != "" {
			subs[u] = struct{}{}
		}
	}
	return Session{
		ID:          snap.ID,
		Channel:     snap.Channel,
		Config:      cfg,
		Phase:       phase,
		PhaseStart:  snap.PhaseStart,
		Deadline:    snap.Deadline,
		State:       state,
		CreatedAt:   snap.CreatedAt,
		subscribers: subs,
	}, nil
}

func (c ConfigSnapshot) restore() (PhaseConfig, error) {
	var cfg PhaseConfig
	var err error
	if cfg.Work, err = time.ParseDuration(c.Work); err != nil {
		return cfg, err
	}
	if cfg.ShortBreak, err = time.ParseDuration(c.ShortBreak); err != nil {
		return cfg, err
	}
	if cfg.LongBreak, err = time.ParseDuration(c.LongBreak); err != nil {
		return cfg, err
	}
	cfg.Interval = c.Interval
	return cfg, cfg.Validate()
}

// EncodeSnapshot and DecodeSnapshot define the record format shared by all
// storage drivers.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func DecodeSnapshot(b []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrRecoveryCorrupt, err)
	}
	return snap, nil
}
