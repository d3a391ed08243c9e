package router

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"pomobot/internal/pomo"
)

func TestTokenize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"/start", []string{"/start"}},
		{"  /start   50  10 ", []string{"/start", "50", "10"}},
		{`/start "1h 30m"`, []string{"/start", "1h 30m"}},
		{`/start '' 5`, []string{"/start", "", "5"}},
		{`/a b\ c`, []string{"/a", "b c"}},
		{"/a\tb\nc", []string{"/a", "b", "c"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			if got := tokenize(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("tokenize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		text, bot string
		name      string
		args      []string
		ok        bool
	}{
		{text: "hello", ok: false},
		{text: "/", ok: false},
		{text: "/Start 50", name: "start", args: []string{"50"}, ok: true},
		{text: "/status@PomoBot", bot: "pomobot", name: "status", args: []string{}, ok: true},
		{text: "/status@pomobot", bot: "@PomoBot", name: "status", args: []string{}, ok: true},
		{text: "/status@otherbot", bot: "pomobot", ok: false},
		{text: "/status@otherbot", name: "status", args: []string{}, ok: true},
	}
	for _, tc := range cases {
		name, args, ok := parseCommand(tc.text, tc.bot)
		if ok != tc.ok {
			t.Fatalf("parseCommand(%q, %q) ok = %v", tc.text, tc.bot, ok)
		}
		if !ok {
			continue
		}
		if name != tc.name || !reflect.DeepEqual(args, tc.args) {
			t.Fatalf("parseCommand(%q) = %q %q, want %q %q", tc.text, name, args, tc.name, tc.args)
		}
	}
}

func TestParseStartArgs(t *testing.T) {
	t.Parallel()
	def := pomo.DefaultPhaseConfig()
	cases := []struct {
		name    string
		args    []string
		want    pomo.PhaseConfig
		wantErr bool
	}{
		{name: "defaults", args: nil, want: def},
		{name: "minutes", args: []string{"50", "10", "30", "2"},
			want: pomo.PhaseConfig{Work: 50 * time.Minute, ShortBreak: 10 * time.Minute, LongBreak: 30 * time.Minute, Interval: 2}},
		{name: "go durations", args: []string{"1h30m", "90s"},
			want: pomo.PhaseConfig{Work: 90 * time.Minute, ShortBreak: 90 * time.Second, LongBreak: def.LongBreak, Interval: def.Interval}},
		{name: "dash keeps default", args: []string{"-", "-", "-", "6"},
			want: pomo.PhaseConfig{Work: def.Work, ShortBreak: def.ShortBreak, LongBreak: def.LongBreak, Interval: 6}},
		{name: "zero", args: []string{"0"}, wantErr: true},
		{name: "negative", args: []string{"-5m"}, wantErr: true},
		{name: "garbage", args: []string{"soon"}, wantErr: true},
		{name: "over max", args: []string{"25h"}, wantErr: true},
		{name: "interval zero", args: []string{"-", "-", "-", "0"}, wantErr: true},
		{name: "interval text", args: []string{"-", "-", "-", "x"}, wantErr: true},
		{name: "too many", args: []string{"1", "2", "3", "4", "5"}, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseStartArgs(tc.args, def, 24*time.Hour)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				if got != def {
					t.Fatalf("failed parse must return defaults, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseStartArgs: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseStartArgsTooManyIsUsage(t *testing.T) {
	t.Parallel()
	_, err := parseStartArgs([]string{"1", "2", "3", "4", "5"}, pomo.DefaultPhaseConfig(), time.Hour)
	if !errors.Is(err, errUsage) {
		t.Fatalf("err = %v, want errUsage", err)
	}
}
