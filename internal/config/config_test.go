package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "file-token", "poll_timeout": "10s"},
  "logging": {"level": "info", "console": true},
  "storage": {"driver": "sqlite", "path": "./data/pomobot.db", "busy_timeout": "5s"},
  "pomodoro": {"work": "25m", "short_break": "5m", "long_break": "15m", "interval": 4, "max_duration": "24h", "timezone": "UTC"},
  "scheduler": {"retry_window": "2m"},
  "notifier": {"workers": 2, "rate_per_sec": 20},
  "maintenance": {"schedule": "@every 30m"}
}`

const sampleYAML = `
telegram:
  token: file-token
logging:
  level: debug
storage:
  driver: file
  path: ./data/pomobot
pomodoro:
  work: 50m
  interval: 2
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func noEnv(string) string { return "" }

func TestParseFormats(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body string
		check            func(t *testing.T, c *Config)
	}{
		{"json", "config.json", sampleJSON, func(t *testing.T, c *Config) {
			if c.Storage.Driver != "sqlite" || c.Pomodoro.Interval != 4 || c.Maintenance.Schedule != "@every 30m" {
				t.Fatalf("unexpected config: %+v", c)
			}
		}},
		{"yaml", "config.yaml", sampleYAML, func(t *testing.T, c *Config) {
			if c.Storage.Driver != "file" || c.Pomodoro.Work != "50m" || c.Logging.Level != "debug" {
				t.Fatalf("unexpected config: %+v", c)
			}
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager(writeFile(t, tc.file, tc.body))
			m.SetEnv(noEnv)
			c, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tc.check(t, c)
			if m.Get() != c {
				t.Fatalf("Load did not commit")
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body, want string
	}{
		{"unknown field", "c.json", `{"storage":{"driver":"memory"},"plugins":{}}`, "unknown field"},
		{"unknown yaml field", "c.yml", "storage:\n  driver: memory\n  colour: red\n", "unknown field"},
		{"trailing data", "c.json", `{"storage":{"driver":"memory"}} {}`, "trailing data"},
		{"no driver", "c.json", `{}`, "storage.driver is required"},
		{"bad driver", "c.json", `{"storage":{"driver":"etcd"}}`, "unknown driver"},
		{"sqlite without path", "c.json", `{"storage":{"driver":"sqlite"}}`, "storage.path is required"},
		{"redis without addr", "c.json", `{"storage":{"driver":"redis"}}`, "storage.addr is required"},
		{"bad duration", "c.json", `{"storage":{"driver":"memory"},"pomodoro":{"work":"soon"}}`, "pomodoro.work"},
		{"over max", "c.json", `{"storage":{"driver":"memory"},"pomodoro":{"work":"3h","max_duration":"2h"}}`, "exceeds pomodoro.max_duration"},
		{"bad timezone", "c.json", `{"storage":{"driver":"memory"},"pomodoro":{"timezone":"Mars/Olympus"}}`, "pomodoro.timezone"},
		{"bad cron", "c.json", `{"storage":{"driver":"memory"},"maintenance":{"schedule":"every now and then"}}`, "maintenance.schedule"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewConfigManager(writeFile(t, tc.file, tc.body))
			m.SetEnv(noEnv)
			_, err := m.Parse()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.json", sampleJSON))
	env := map[string]string{
		EnvTelegramToken: "env-token",
		EnvStoragePath:   "/var/lib/pomobot/state.db",
	}
	m.SetEnv(func(k string) string { return env[k] })
	c, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Telegram.Token != "env-token" || c.Storage.Path != "/var/lib/pomobot/state.db" {
		t.Fatalf("overrides not applied: %+v %+v", c.Telegram, c.Storage)
	}
}

func TestMaintenanceSchedule(t *testing.T) {
	t.Parallel()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := MaintenanceConfig{}.ParseSchedule()
	if err != nil || s == nil {
		t.Fatalf("default schedule: %v", err)
	}
	if got := s.Next(from); !got.Equal(from.Add(time.Hour)) {
		t.Fatalf("default next = %v", got)
	}
	s, err = MaintenanceConfig{Schedule: "off"}.ParseSchedule()
	if err != nil || s != nil {
		t.Fatalf("off: %v %v", s, err)
	}
	s, err = MaintenanceConfig{Schedule: "CRON_TZ=UTC 30 3 * * *"}.ParseSchedule()
	if err != nil {
		t.Fatalf("cron: %v", err)
	}
	if got := s.Next(from); !got.Equal(from.Add(3*time.Hour + 30*time.Minute)) {
		t.Fatalf("cron next = %v", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Storage: StorageConfig{Driver: "memory"}, Telegram: TelegramConfig{Token: "a"}}
	cur := &Config{Storage: StorageConfig{Driver: "memory"}, Telegram: TelegramConfig{Token: "secret-b"}}
	cur.Logging.Level = "debug"
	cur.Notifier.RatePerSec = 5

	changed, attrs := SummarizeConfigChange(old, cur)
	want := []string{"logging", "notifier", "telegram"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatalf("no attrs")
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("RestartRequired = %v", got)
	}
	if changed, _ := SummarizeConfigChange(cur, cur); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestWatchPublishesValidReloads(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", sampleJSON)
	m := NewConfigManager(path)
	m.SetEnv(noEnv)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"storage":{"driver":"nope"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	select {
	case c := <-sub:
		t.Fatalf("invalid config published: %+v", c)
	default:
	}

	updated := strings.Replace(sampleJSON, `"level": "info"`, `"level": "debug"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case c := <-sub:
		if c.Logging.Level != "debug" {
			t.Fatalf("published level = %q", c.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("reload not committed")
	}
	cancel()
	<-done
}
