package app

import (
	"strings"
	"time"

	"pomobot/internal/config"
	"pomobot/internal/notifier"
	"pomobot/internal/pomo"
	"pomobot/internal/router"
	"pomobot/internal/scheduler"
	"pomobot/internal/storage"
	logx "pomobot/pkg/logx"
)

// The map* helpers expect a config that already passed Validate, so invalid
// durations simply fall back to defaults.

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: config.DurationOr(sc.BusyTimeout, 0),
		Addr:        strings.TrimSpace(sc.Addr),
		Password:    sc.Password,
		DB:          sc.DB,
		Prefix:      sc.Prefix,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	sc := cfg.Scheduler
	return scheduler.Config{
		RetryWindow:   config.DurationOr(sc.RetryWindow, 0),
		RetryBase:     config.DurationOr(sc.RetryBase, 0),
		RetryMaxDelay: config.DurationOr(sc.RetryMaxDelay, 0),
		MaxCatchUp:    sc.MaxCatchUp,
	}
}

func location(cfg *config.Config) *time.Location {
	loc, err := config.LoadLocation(cfg.Pomodoro.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	nc := cfg.Notifier
	retryMax := nc.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return notifier.Config{
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     config.DurationOr(nc.RetryBase, 0),
		RetryMaxDelay: config.DurationOr(nc.RetryMaxDelay, 0),
		Location:      location(cfg),
	}
}

func mapPhaseDefaults(cfg *config.Config) pomo.PhaseConfig {
	p := cfg.Pomodoro
	out := pomo.PhaseConfig{
		Work:       config.DurationOr(p.Work, pomo.DefaultWork),
		ShortBreak: config.DurationOr(p.ShortBreak, pomo.DefaultShortBreak),
		LongBreak:  config.DurationOr(p.LongBreak, pomo.DefaultLongBreak),
		Interval:   p.Interval,
	}
	if out.Interval <= 0 {
		out.Interval = pomo.DefaultInterval
	}
	return out
}

func mapRouterConfig(cfg *config.Config, botUsername string) router.Config {
	return router.Config{
		Defaults:    mapPhaseDefaults(cfg),
		MaxDuration: config.DurationOr(cfg.Pomodoro.MaxDuration, 24*time.Hour),
		Timeout:     config.DurationOr(cfg.Pomodoro.CommandTimeout, 0),
		BotUsername: botUsername,
		Location:    location(cfg),
	}
}
