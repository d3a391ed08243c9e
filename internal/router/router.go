package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"pomobot/internal/pomo"
	rtsup "pomobot/internal/runtime/supervisor"
	"pomobot/internal/scheduler"
	"pomobot/internal/transport"
	logx "pomobot/pkg/logx"

	"github.com/google/uuid"
)

// Sessions is the part of the scheduler the commands drive.
type Sessions interface {
	Start(ctx context.Context, channel string, cfg pomo.PhaseConfig, owner string, now time.Time) (pomo.Session, error)
	Stop(ctx context.Context, channel string) error
	Skip(ctx context.Context, channel string, now time.Time) (pomo.Phase, error)
	Status(channel string, now time.Time) (scheduler.StatusView, error)
	Join(ctx context.Context, channel, user string) (bool, error)
	Leave(ctx context.Context, channel, user string) (bool, error)
}

// Replier sends a plain-text answer to a channel.
type Replier interface {
	Reply(ctx context.Context, channel, text string) error
}

type Config struct {
	// Defaults fill /start arguments that are omitted or "-".
	Defaults pomo.PhaseConfig
	// MaxDuration caps every phase length given to /start.
	MaxDuration time.Duration
	// Timeout bounds one command, store writes included.
	Timeout time.Duration
	// BotUsername filters "/cmd@otherbot" in groups. Empty accepts any suffix.
	BotUsername string
	Workers     int
	QueueSize   int
	Location    *time.Location
}

func (c Config) withDefaults() Config {
	if c.Defaults == (pomo.PhaseConfig{}) {
		c.Defaults = pomo.DefaultPhaseConfig()
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 24 * time.Hour
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Request is one parsed command.
type Request struct {
	Message *transport.Message
	Channel string
	Sender  string
	Command string
	Args    []string
	RID     string
	Logger  logx.Logger
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Option func(*Router)

// WithNow overrides the clock used for command timestamps.
func WithNow(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDirectory shares the user directory that maps subscriber ids to
// handles. Every handled message refreshes its sender's entry.
func WithDirectory(dir *transport.Directory) Option {
	return func(r *Router) {
		if dir != nil {
			r.dir = dir
		}
	}
}

type Router struct {
	sess  Sessions
	reply Replier
	log   logx.Logger
	now   func() time.Time
	dir   *transport.Directory

	mu    sync.RWMutex
	cfg   Config
	cmds  []Command
	index map[string]*Command
}

func New(cfg Config, sess Sessions, reply Replier, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		sess:  sess,
		reply: reply,
		log:   log.With(logx.String("comp", "router")),
		now:   time.Now,
		dir:   transport.NewDirectory(),
		cfg:   cfg.withDefaults(),
	}
	for _, o := range opts {
		if o != nil {
			o(r)
		}
	}
	r.setCommands(r.builtins())
	return r
}

// Apply swaps defaults and limits. Safe during hot reload; Workers and
// QueueSize only take effect on the next Run.
func (r *Router) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Router) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Router) setCommands(cmds []Command) {
	index := make(map[string]*Command, len(cmds)*2)
	for i := range cmds {
		c := &cmds[i]
		index[c.Name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := index[a]; !taken {
					index[a] = c
				}
			}
		}
	}
	r.mu.Lock()
	r.cmds = cmds
	r.index = index
	r.mu.Unlock()
}

func (r *Router) lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.index[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// MenuCommands lists the commands for a platform command menu.
func (r *Router) MenuCommands() []transport.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]transport.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// PublishMenu pushes MenuCommands to a when it supports command menus.
func (r *Router) PublishMenu(ctx context.Context, a transport.Adapter) error {
	up, ok := a.(transport.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, r.MenuCommands())
}

// Handle runs the command in msg synchronously. Messages that are not
// commands are ignored.
func (r *Router) Handle(ctx context.Context, msg *transport.Message) error {
	if msg == nil || msg.ChannelID == "" {
		return nil
	}
	r.dir.Observe(msg.UserID, msg.Username)
	cfg := r.config()
	name, args, ok := parseCommand(msg.Text, cfg.BotUsername)
	if !ok {
		return nil
	}
	cmd, ok := r.lookup(name)
	if !ok {
		// In groups the bot shares the slash namespace with other bots.
		if msg.IsGroup {
			return nil
		}
		return r.reply.Reply(ctx, msg.ChannelID, "Unknown command. Try /help.")
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Message: msg,
		Channel: msg.ChannelID,
		Sender:  msg.Sender(),
		Command: cmd.Name,
		Args:    args,
		RID:     rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("channel", msg.ChannelID),
			logx.String("user", msg.UserID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = cfg.Timeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	err := final(ctx, req)
	if err == nil {
		return nil
	}
	if text := r.errorReply(cmd, err); text != "" {
		// The command context may be spent; the reply only needs the parent.
		if rerr := r.reply.Reply(ctx, req.Channel, text); rerr != nil {
			req.Logger.Warn("error reply not queued", logx.Err(rerr))
		}
	}
	return err
}

// errorReply maps command errors to what the channel is told.
func (r *Router) errorReply(cmd Command, err error) string {
	var ue *usageError
	switch {
	case errors.As(err, &ue):
		return fmt.Sprintf("%s\nUsage: %s", ue.msg, cmd.Usage)
	case errors.Is(err, pomo.ErrAlreadyRunning):
		return "A pomodoro is already running here. Use /status to see it or /stop to end it."
	case errors.Is(err, pomo.ErrNotRunning):
		return "No pomodoro is running here. Start one with /start."
	case errors.Is(err, pomo.ErrStoreUnavailable):
		return "Could not save the session, nothing was changed. Please try again in a moment."
	case errors.Is(err, scheduler.ErrClosed):
		return "The bot is shutting down. Please try again in a moment."
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long. Please try again."
	case errors.Is(err, context.Canceled):
		return ""
	default:
		return "Something went wrong."
	}
}

// userFacing reports errors caused by the request rather than the bot.
func userFacing(err error) bool {
	var ue *usageError
	return errors.As(err, &ue) ||
		errors.Is(err, pomo.ErrAlreadyRunning) ||
		errors.Is(err, pomo.ErrNotRunning)
}

// usageError is a command-line mistake the user can fix.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// Run consumes updates until ctx is done or updates is closed. Each channel
// is pinned to one worker so its commands run in order.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	cfg := r.config()
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))

	queues := make([]chan *transport.Message, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan *transport.Message, cfg.QueueSize)
	}
	for i, q := range queues {
		q := q
		sup.GoRestart(fmt.Sprintf("command.worker.%d", i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case msg, ok := <-q:
					if !ok {
						return nil
					}
					_ = r.Handle(c, msg)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", len(queues)), logx.Int("queue", cfg.QueueSize))

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != transport.UpdateMessage || up.Message == nil {
				continue
			}
			msg := up.Message
			select {
			case queues[shard(msg.ChannelID, len(queues))] <- msg:
			default:
				r.log.Warn("command dropped; queue full", logx.String("channel", msg.ChannelID))
				_ = r.reply.Reply(ctx, msg.ChannelID, "Busy, please try again.")
			}
		}
	}
}

func shard(channel string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(channel))
	return int(h.Sum32() % uint32(n))
}
