package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pomobot/internal/notifier"
	"pomobot/internal/pomo"
	"pomobot/internal/scheduler"
	"pomobot/internal/transport"
	logx "pomobot/pkg/logx"
)

func (r *Router) builtins() []Command {
	return []Command{
		{
			Name:        "start",
			Aliases:     []string{"pomodoro", "pomo"},
			Description: "start a pomodoro session",
			Usage:       "/start [work] [short] [long] [interval]",
			Handle:      r.cmdStart,
		},
		{
			Name:        "stop",
			Description: "stop the session",
			Usage:       "/stop",
			Handle:      r.cmdStop,
		},
		{
			Name:        "skip",
			Aliases:     []string{"next"},
			Description: "end the current phase now",
			Usage:       "/skip",
			Handle:      r.cmdSkip,
		},
		{
			Name:        "status",
			Aliases:     []string{"s"},
			Description: "show the current phase",
			Usage:       "/status",
			Handle:      r.cmdStatus,
		},
		{
			Name:        "join",
			Description: "get mentioned on phase changes",
			Usage:       "/join",
			Handle:      r.cmdJoin,
		},
		{
			Name:        "leave",
			Description: "stop getting mentioned",
			Usage:       "/leave",
			Handle:      r.cmdLeave,
		},
		{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "list commands",
			Usage:       "/help [command]",
			Handle:      r.cmdHelp,
		},
	}
}

// The start, stop and skip acknowledgements are the phase notifications
// themselves, so those handlers do not reply on success.

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	cfg := r.config()
	pc, err := parseStartArgs(req.Args, cfg.Defaults, cfg.MaxDuration)
	if err != nil {
		return usageErrorf("%v", err)
	}
	sess, err := r.sess.Start(ctx, req.Channel, pc, req.Sender, r.now())
	if err != nil {
		return err
	}
	req.Logger.Debug("session started", logx.String("session", sess.ID))
	return nil
}

func (r *Router) cmdStop(ctx context.Context, req *Request) error {
	if len(req.Args) > 0 {
		return usageErrorf("/stop takes no arguments")
	}
	return r.sess.Stop(ctx, req.Channel)
}

func (r *Router) cmdSkip(ctx context.Context, req *Request) error {
	if len(req.Args) > 0 {
		return usageErrorf("/skip takes no arguments")
	}
	_, err := r.sess.Skip(ctx, req.Channel, r.now())
	return err
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	st, err := r.sess.Status(req.Channel, r.now())
	if err != nil {
		return err
	}
	return r.reply.Reply(ctx, req.Channel, FormatStatus(st, r.config().Location, r.dir))
}

func (r *Router) cmdJoin(ctx context.Context, req *Request) error {
	if req.Sender == "" {
		return usageErrorf("cannot tell who you are")
	}
	changed, err := r.sess.Join(ctx, req.Channel, req.Sender)
	if err != nil {
		return err
	}
	text := "You're in. You'll be mentioned when the phase changes."
	if !changed {
		text = "You're already in this session."
	}
	return r.reply.Reply(ctx, req.Channel, text)
}

func (r *Router) cmdLeave(ctx context.Context, req *Request) error {
	if req.Sender == "" {
		return usageErrorf("cannot tell who you are")
	}
	changed, err := r.sess.Leave(ctx, req.Channel, req.Sender)
	if err != nil {
		return err
	}
	text := "You left the session."
	if !changed {
		text = "You weren't in this session."
	}
	return r.reply.Reply(ctx, req.Channel, text)
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	return r.reply.Reply(ctx, req.Channel, r.helpText(req.Args))
}

func (r *Router) helpText(args []string) string {
	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := r.lookup(name)
		if !ok {
			return fmt.Sprintf("Unknown command %q. Try /help.", args[0])
		}
		lines := []string{"/" + c.Name + ": " + c.Description, "Usage: " + c.Usage}
		if c.Name == "start" {
			d := r.config().Defaults
			lines = append(lines,
				"Durations are minutes (50) or like 1h30m. Use - to keep a default.",
				fmt.Sprintf("Defaults: work %s, short break %s, long break %s, long break every %d.",
					notifier.FormatDuration(d.Work), notifier.FormatDuration(d.ShortBreak),
					notifier.FormatDuration(d.LongBreak), d.Interval),
			)
		}
		if len(c.Aliases) > 0 {
			lines = append(lines, "Also: /"+strings.Join(c.Aliases, ", /"))
		}
		return strings.Join(lines, "\n")
	}

	r.mu.RLock()
	cmds := append([]Command(nil), r.cmds...)
	r.mu.RUnlock()
	lines := []string{"Commands:"}
	for _, c := range cmds {
		lines = append(lines, fmt.Sprintf("%s - %s", c.Usage, c.Description))
	}
	lines = append(lines, "", "/help <command> for details.")
	return strings.Join(lines, "\n")
}

// FormatStatus renders a status view as a few plain-text lines. Subscribers
// are shown by handle when dir knows one.
func FormatStatus(st scheduler.StatusView, loc *time.Location, dir *transport.Directory) string {
	if loc == nil {
		loc = time.UTC
	}
	lines := []string{
		fmt.Sprintf("%s: %s left of %s (until %s).",
			phaseName(st.Phase), notifier.FormatDuration(st.Remaining),
			notifier.FormatDuration(st.Config.Duration(st.Phase)), st.Deadline.In(loc).Format("15:04")),
		fmt.Sprintf("Next: %s (%s).", strings.ToLower(phaseName(st.NextPhase)),
			notifier.FormatDuration(st.Config.Duration(st.NextPhase))),
	}
	if st.Phase.Kind == pomo.LongBreak {
		lines = append(lines, "Following long break at "+st.LongBreakAt.In(loc).Format("15:04")+".")
	} else {
		lines = append(lines, "Long break at "+st.LongBreakAt.In(loc).Format("15:04")+".")
	}
	if len(st.Subscribers) > 0 {
		lines = append(lines, "Subscribers: "+strings.Join(dir.Resolve(st.Subscribers), ", "))
	} else {
		lines = append(lines, "No subscribers. /join to get mentioned.")
	}
	return strings.Join(lines, "\n")
}

func phaseName(p pomo.Phase) string {
	switch p.Kind {
	case pomo.ShortBreak:
		return "Short break"
	case pomo.LongBreak:
		return "Long break"
	default:
		return fmt.Sprintf("Work #%d", p.Index+1)
	}
}
