package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pomobot/internal/config"
	"pomobot/internal/eventbus"
	"pomobot/internal/notifier"
	"pomobot/internal/router"
	rtsup "pomobot/internal/runtime/supervisor"
	"pomobot/internal/scheduler"
	"pomobot/internal/storage"
	"pomobot/internal/transport"
	"pomobot/internal/transport/telegram"
	logx "pomobot/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type App struct {
	cfgm *config.ConfigManager

	mu  sync.Mutex
	sup *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter transport.Adapter
	sched   *scheduler.Scheduler
	notif   *notifier.Service
	router  *router.Router
	maint   *maintenance

	updates chan transport.Update
	now     func() time.Time
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
	now     func() time.Time
	schedOp []scheduler.Option
}

// WithAdapter replaces the Telegram adapter.
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithClock replaces the wall clock for recovery and scheduling.
func WithClock(now func() time.Time, c scheduler.Clock) Option {
	return func(o *options) {
		o.now = now
		o.schedOp = append(o.schedOp, scheduler.WithClock(c))
	}
}

// New builds every component from the manager's committed config. Nothing
// runs until Start.
func New(ctx context.Context, cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	o := options{now: time.Now}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		updates: make(chan transport.Update, 256),
		now:     o.now,
	}

	if o.adapter != nil {
		a.adapter = o.adapter
	} else {
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		a.adapter = ad
	}

	sc := mapStorageConfig(cfg)
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	a.store = store
	a.log.Info("storage opened", logx.String("driver", sc.Driver))

	users := transport.NewDirectory()
	a.notif = notifier.New(mapNotifierConfig(cfg), a.adapter, log, a.bus, notifier.WithDirectory(users))
	schedOpts := append([]scheduler.Option{scheduler.WithOnFatal(a.onStoreFatal)}, o.schedOp...)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), store, a.notif, log, a.bus, schedOpts...)
	a.router = router.New(mapRouterConfig(cfg, a.botUsername()), a.sched, a.notif, log, router.WithNow(o.now), router.WithDirectory(users))
	a.maint = newMaintenance(store, log)
	return a, nil
}

// Bus exposes domain events (session.*, notifier.*, store.failing).
func (a *App) Bus() eventbus.Bus { return a.bus }

// onStoreFatal runs when a timer-driven advance could not be persisted for
// the whole retry window. Running on would leave memory ahead of the store.
func (a *App) onStoreFatal(channel string, err error) {
	a.log.Error("session store unavailable; shutting down", logx.String("channel", channel), logx.Err(err))
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup != nil {
		sup.Fail(fmt.Errorf("store fatal: %w", err))
	}
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Err()
}

// Start recovers persisted sessions, then opens command intake. Commands are
// never served before recovery finished.
func (a *App) Start(ctx context.Context) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.mu.Lock()
	a.sup = sup
	a.mu.Unlock()
	run := sup.Context()

	a.notif.Start(run)

	rep, err := a.sched.Recover(run, a.now())
	if err != nil {
		return fmt.Errorf("recover sessions: %w", err)
	}
	if len(rep.Failed) > 0 {
		a.log.Warn("some sessions could not be resumed", logx.Strings("channels", rep.Failed))
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	sup.Go0("telegram.menu.update", func(c context.Context) {
		if err := a.router.PublishMenu(c, a.adapter); err != nil {
			a.log.Warn("command menu not updated", logx.Err(err))
		}
	})

	if err := a.maint.Apply(run, a.cfgm.Get().Maintenance); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Int("sessions", len(a.sched.Channels())),
		logx.Int("resumed", len(rep.Advanced)),
		logx.Int("dropped", len(rep.Dropped)),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Type {
			case eventbus.StoreFailing, eventbus.NotifyFailed, eventbus.NotifyDropped, eventbus.SessionDropped:
				a.log.Info("event", logx.String("type", e.Type), logx.String("channel", e.Channel), logx.Any("data", e.Data))
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.String("channel", e.Channel))
			}
		}
	}
}

// reloadLoop applies hot-reloadable sections and warns about the rest.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the latest matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, old, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(old, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rr := config.RestartRequired(sections); len(rr) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(rr, ",")))
	}

	a.logs.Apply(mapLogConfig(cfg))
	a.notif.Apply(mapNotifierConfig(cfg))
	a.router.Apply(mapRouterConfig(cfg, a.botUsername()))
	if err := a.maint.Apply(ctx, cfg.Maintenance); err != nil {
		a.log.Warn("maintenance schedule not applied", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) botUsername() string {
	if b, ok := a.adapter.(interface{ BotUsername() string }); ok {
		return b.BotUsername()
	}
	return ""
}

// Stop shuts components down in dependency order: intake first, the store
// last. Sessions stay persisted and resume on the next Start.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		a.stopStep(ctx, name, max, fn)
	}
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("maintenance", time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("scheduler", time.Second, func(context.Context) error { a.sched.Close(); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 3*time.Second, func(c context.Context) error { return sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// stopStep bounds one shutdown step so a stuck component cannot stall the
// rest. The caller's deadline is never extended.
func (a *App) stopStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

// OpenStore opens the configured store without starting the bot.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (storage.Store, error) {
	return storage.Open(ctx, mapStorageConfig(cfg), log)
}
