package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pomobot/internal/pomo"
)

// tokenize splits a command line into tokens. Single or double quotes group
// words and a backslash escapes the next byte.
//
//	/start 50 "10m" '20m'
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
		// quoted empty strings still count as a token
		touched bool
	)
	flush := func() {
		if buf.Len() > 0 || touched {
			out = append(out, buf.String())
			buf.Reset()
		}
		touched = false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
			touched = true
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseCommand extracts the lower-cased command word and its arguments. A
// "@botname" suffix is stripped; when botName is set, commands addressed to
// another bot are ignored.
func parseCommand(text, botName string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		target := word[i+1:]
		word = word[:i]
		if botName != "" && !strings.EqualFold(target, strings.TrimPrefix(botName, "@")) {
			return "", nil, false
		}
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", nil, false
	}
	return word, parts[1:], true
}

var errUsage = errors.New("usage")

// parseStartArgs reads "[work] [short] [long] [interval]" on top of def.
// Durations are whole minutes ("50") or Go durations ("1h30m"); "-" keeps the
// default. Every duration must be in (0, max].
func parseStartArgs(args []string, def pomo.PhaseConfig, max time.Duration) (pomo.PhaseConfig, error) {
	if len(args) > 4 {
		return def, fmt.Errorf("%w: too many arguments", errUsage)
	}
	cfg := def
	durs := []struct {
		name string
		dst  *time.Duration
	}{
		{"work", &cfg.Work},
		{"short break", &cfg.ShortBreak},
		{"long break", &cfg.LongBreak},
	}
	for i, a := range args {
		if a == "-" {
			continue
		}
		if i == 3 {
			n, err := strconv.Atoi(a)
			if err != nil {
				return def, fmt.Errorf("interval %q is not a number", a)
			}
			if n < 1 {
				return def, fmt.Errorf("interval must be at least 1")
			}
			cfg.Interval = n
			continue
		}
		d, err := parseMinutes(a)
		if err != nil {
			return def, fmt.Errorf("%s: %v", durs[i].name, err)
		}
		if max > 0 && d > max {
			return def, fmt.Errorf("%s: %s is longer than %s", durs[i].name, d, max)
		}
		*durs[i].dst = d
	}
	if err := cfg.Validate(); err != nil {
		return def, err
	}
	return cfg, nil
}

// parseMinutes accepts a bare number of minutes or a Go duration string.
func parseMinutes(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	var d time.Duration
	if n, err := strconv.Atoi(s); err == nil {
		d = time.Duration(n) * time.Minute
	} else {
		pd, perr := time.ParseDuration(s)
		if perr != nil {
			return 0, fmt.Errorf("%q is not a duration", s)
		}
		d = pd
	}
	if d <= 0 {
		return 0, fmt.Errorf("%q must be positive", s)
	}
	return d, nil
}
