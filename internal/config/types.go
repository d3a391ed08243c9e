package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the on-disk configuration. Durations are Go duration strings
// ("25m", "1h30m") so the file stays readable in both JSON and YAML.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Pomodoro    PomodoroConfig    `json:"pomodoro"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Notifier    NotifierConfig    `json:"notifier"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects where session snapshots live.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pomobot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	// redis
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// PomodoroConfig holds the defaults /start falls back to.
type PomodoroConfig struct {
	Work        string `json:"work,omitempty"`
	ShortBreak  string `json:"short_break,omitempty"`
	LongBreak   string `json:"long_break,omitempty"`
	Interval    int    `json:"interval,omitempty"`
	MaxDuration string `json:"max_duration,omitempty"`
	// Timezone is used when printing clock times ("until 09:25").
	Timezone       string `json:"timezone,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

// SchedulerConfig tunes retries of timer-driven store writes and recovery.
type SchedulerConfig struct {
	RetryWindow   string `json:"retry_window,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	MaxCatchUp    int    `json:"max_catch_up,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
type NotifierConfig struct {
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// MaintenanceConfig schedules store compaction. Schedule is a standard cron
// expression or a descriptor such as "@every 1h"; "off" disables it.
type MaintenanceConfig struct {
	Schedule string `json:"schedule,omitempty"`
}

const DefaultMaintenanceSchedule = "@every 1h"

var knownDrivers = map[string]bool{"memory": true, "file": true, "sqlite": true, "redis": true}

// Validate checks every field that the runtime would otherwise reject late.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout)
	add(err)

	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch {
	case driver == "":
		add(errors.New("storage.driver is required"))
	case !knownDrivers[driver]:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	case (driver == "file" || driver == "sqlite") && strings.TrimSpace(c.Storage.Path) == "":
		add(fmt.Errorf("storage.path is required for driver %q", driver))
	case driver == "redis" && strings.TrimSpace(c.Storage.Addr) == "":
		add(errors.New("storage.addr is required for driver \"redis\""))
	}
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	add(err)

	p := c.Pomodoro
	maxDur, err := ParseDurationField("pomodoro.max_duration", p.MaxDuration)
	add(err)
	for _, f := range []struct{ path, raw string }{
		{"pomodoro.work", p.Work},
		{"pomodoro.short_break", p.ShortBreak},
		{"pomodoro.long_break", p.LongBreak},
	} {
		d, err := ParseDurationField(f.path, f.raw)
		add(err)
		if err == nil && maxDur > 0 && d > maxDur {
			add(fmt.Errorf("%s: %s exceeds pomodoro.max_duration %s", f.path, d, maxDur))
		}
	}
	if p.Interval < 0 {
		add(errors.New("pomodoro.interval must be >= 1"))
	}
	if _, err := LoadLocation(p.Timezone); err != nil {
		add(fmt.Errorf("pomodoro.timezone: %w", err))
	}
	_, err = ParseDurationField("pomodoro.command_timeout", p.CommandTimeout)
	add(err)

	for _, f := range []struct{ path, raw string }{
		{"scheduler.retry_window", c.Scheduler.RetryWindow},
		{"scheduler.retry_base", c.Scheduler.RetryBase},
		{"scheduler.retry_max_delay", c.Scheduler.RetryMaxDelay},
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}
	if c.Scheduler.MaxCatchUp < 0 {
		add(errors.New("scheduler.max_catch_up must be >= 0"))
	}
	if c.Notifier.Workers < 0 || c.Notifier.QueueSize < 0 || c.Notifier.RatePerSec < 0 || c.Notifier.RetryMax < 0 {
		add(errors.New("notifier: counts must be >= 0"))
	}

	if _, err := c.Maintenance.ParseSchedule(); err != nil {
		add(err)
	}
	return errors.Join(errs...)
}

// ParseSchedule returns nil when maintenance is disabled.
func (m MaintenanceConfig) ParseSchedule() (cron.Schedule, error) {
	expr := strings.TrimSpace(m.Schedule)
	if strings.EqualFold(expr, "off") {
		return nil, nil
	}
	if expr == "" {
		expr = DefaultMaintenanceSchedule
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("maintenance.schedule: %w", err)
	}
	return s, nil
}

// LoadLocation resolves a timezone name. Empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
