package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pomobot/internal/app"
	"pomobot/internal/config"
	"pomobot/internal/pomo"
	logx "pomobot/pkg/logx"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	t.Parallel()
	out, err := execute(t, "version", "--env-file", "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "pomobot ") {
		t.Fatalf("out = %q", out)
	}
}

func TestMissingExplicitEnvFile(t *testing.T) {
	t.Parallel()
	_, err := execute(t, "version", "--env-file", filepath.Join(t.TempDir(), "nope.env"))
	if err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestSessionsListing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("storage:\n  driver: sqlite\n  path: %s\n", filepath.Join(dir, "pomobot.db"))
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx := context.Background()
	store, err := app.OpenStore(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	sess := pomo.NewSession("-100", pomo.DefaultPhaseConfig(), start)
	sess, _ = sess.Subscribe("424242")
	if err := store.Put(ctx, sess.Snapshot()); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = store.Close()

	out, err := execute(t, "sessions", "--config", cfgPath, "--env-file", "")
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	for _, want := range []string{"CHANNEL", "-100", "running", "work(0)", "2024-05-01T08:25:00Z", "424242"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
