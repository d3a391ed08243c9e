package config

import (
	"sort"
	"strings"

	logx "pomobot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections plus log
// fields describing the new values. Secrets (token, redis password) are only
// reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)
	trim := strings.TrimSpace

	o, n := oldCfg.Telegram, newCfg.Telegram
	if trim(o.PollTimeout) != trim(n.PollTimeout) || o.Token != n.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", trim(n.PollTimeout)),
			logx.Bool("telegram.token_changed", o.Token != n.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, ns := oldCfg.Storage, newCfg.Storage
	if oldS != ns {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(ns.Driver)),
			logx.Bool("storage.path_set", trim(ns.Path) != ""),
			logx.Bool("storage.password_set", ns.Password != ""),
		)
	}

	if oldCfg.Pomodoro != newCfg.Pomodoro {
		p := newCfg.Pomodoro
		changed = append(changed, "pomodoro")
		attrs = append(attrs,
			logx.String("pomodoro.work", trim(p.Work)),
			logx.String("pomodoro.short_break", trim(p.ShortBreak)),
			logx.String("pomodoro.long_break", trim(p.LongBreak)),
			logx.Int("pomodoro.interval", p.Interval),
			logx.String("pomodoro.timezone", trim(p.Timezone)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.retry_window", trim(newCfg.Scheduler.RetryWindow)),
			logx.Int("scheduler.max_catch_up", newCfg.Scheduler.MaxCatchUp),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		nn := newCfg.Notifier
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.queue_size", nn.QueueSize),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
		)
	}

	if trim(oldCfg.Maintenance.Schedule) != trim(newCfg.Maintenance.Schedule) {
		changed = append(changed, "maintenance")
		attrs = append(attrs, logx.String("maintenance.schedule", trim(newCfg.Maintenance.Schedule)))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "storage", "scheduler":
			out = append(out, s)
		}
	}
	return out
}
