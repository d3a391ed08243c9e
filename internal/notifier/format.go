package notifier

import (
	"fmt"
	"strings"
	"time"

	"pomobot/internal/pomo"
	"pomobot/internal/scheduler"
)

// FormatPhaseEvent renders ev as one plain-text line. Skip and expiry produce
// the same text. subscribers are display names: @handles are mentioned and
// anything else is counted.
func FormatPhaseEvent(ev scheduler.PhaseEvent, subscribers []string, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	switch ev.Kind {
	case scheduler.EventStarted:
		fmt.Fprintf(&b, "Pomodoro started: %s", phaseLine(ev, loc))
	case scheduler.EventStopped:
		b.WriteString("Pomodoro stopped.")
	default:
		if ev.Resumed {
			b.WriteString("Resumed after restart: ")
		}
		b.WriteString(phaseLine(ev, loc))
	}
	if m := mentions(subscribers); m != "" && ev.Kind != scheduler.EventStopped {
		b.WriteString(" ")
		b.WriteString(m)
	}
	return b.String()
}

func phaseLine(ev scheduler.PhaseEvent, loc *time.Location) string {
	var what string
	switch ev.Phase.Kind {
	case pomo.Work:
		what = fmt.Sprintf("work #%d", ev.Phase.Index+1)
	case pomo.ShortBreak:
		what = "short break"
	case pomo.LongBreak:
		what = "long break"
	}
	return fmt.Sprintf("%s for %s (until %s).", what, FormatDuration(ev.Duration), ev.Deadline.In(loc).Format("15:04"))
}

// mentions lists @usernames; subscribers known only by id are counted.
func mentions(subs []string) string {
	var names []string
	others := 0
	for _, s := range subs {
		if strings.HasPrefix(s, "@") {
			names = append(names, s)
		} else if s != "" {
			others++
		}
	}
	if others > 0 {
		names = append(names, fmt.Sprintf("(+%d)", others))
	}
	return strings.Join(names, " ")
}

// FormatDuration prints whole minutes as "25m" and anything else with seconds
// ("1m30s", "45s"). Hours are spelled out ("1h30m").
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dm", m)
	}
	if sec > 0 {
		fmt.Fprintf(&b, "%ds", sec)
	}
	return b.String()
}
