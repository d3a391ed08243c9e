package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pomobot/internal/pomo"
	logx "pomobot/pkg/logx"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func sampleSnapshot(channel string) pomo.Snapshot {
	s := pomo.NewSession(channel, pomo.DefaultPhaseConfig(), t0)
	s, _ = s.Subscribe("u1")
	return s.Snapshot()
}

func openDriver(t *testing.T, driver string, dir string) Store {
	t.Helper()
	cfg := Config{Driver: driver}
	switch driver {
	case "file":
		cfg.Path = filepath.Join(dir, "bot.db")
	case "sqlite":
		cfg.Path = filepath.Join(dir, "bot.sqlite")
	case "redis":
		addr := os.Getenv("POMOBOT_TEST_REDIS_ADDR")
		if addr == "" {
			t.Skip("POMOBOT_TEST_REDIS_ADDR not set")
		}
		cfg.Addr = addr
		cfg.Prefix = "pomobot-test:" + strings.ReplaceAll(t.Name(), "/", "_") + ":"
	}
	st, err := Open(context.Background(), cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	return st
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite", "redis"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver, t.TempDir())
			t.Cleanup(func() { _ = st.Close() })

			if err := st.Put(ctx, sampleSnapshot("c1")); err != nil {
				t.Fatalf("Put c1: %v", err)
			}
			if err := st.Put(ctx, sampleSnapshot("c2")); err != nil {
				t.Fatalf("Put c2: %v", err)
			}
			updated := sampleSnapshot("c1")
			updated.Subscribers = []string{"u1", "u9"}
			if err := st.Put(ctx, updated); err != nil {
				t.Fatalf("Put c1 again: %v", err)
			}
			if err := st.Delete(ctx, "c2"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := st.Delete(ctx, "missing"); err != nil {
				t.Fatalf("Delete of missing channel: %v", err)
			}

			entries, err := st.LoadAll(ctx)
			if err != nil {
				t.Fatalf("LoadAll: %v", err)
			}
			if len(entries) != 1 || entries[0].Channel != "c1" || entries[0].Err != nil {
				t.Fatalf("entries = %+v", entries)
			}
			if got := entries[0].Snapshot.Subscribers; len(got) != 2 || got[1] != "u9" {
				t.Fatalf("subscribers = %v, want last write", got)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openDriver(t, "file", dir)
	for _, ch := range []string{"a", "b", "c"} {
		if err := st.Put(ctx, sampleSnapshot(ch)); err != nil {
			t.Fatalf("Put %s: %v", ch, err)
		}
	}
	if err := st.(Compactor).Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := st.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = openDriver(t, "file", dir)
	t.Cleanup(func() { _ = st.Close() })
	entries, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(entries) != 2 || entries[0].Channel != "a" || entries[1].Channel != "c" {
		t.Fatalf("entries after reopen = %+v", entries)
	}
}

func TestFileStoreToleratesTornJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openDriver(t, "file", dir)
	if err := st.Put(ctx, sampleSnapshot("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = st.Close()

	journal := filepath.Join(dir, "bot.sessions.journal.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	_, _ = f.WriteString(`{"op":"put","channel":"b","da`)
	_ = f.Close()

	st = openDriver(t, "file", dir)
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Put(ctx, sampleSnapshot("c")); err != nil {
		t.Fatalf("Put after torn write: %v", err)
	}
	_ = st.Close()

	st = openDriver(t, "file", dir)
	t.Cleanup(func() { _ = st.Close() })
	entries, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(entries) != 2 || entries[0].Channel != "a" || entries[1].Channel != "c" {
		t.Fatalf("entries = %+v", entries)
	}
}

// failSyncs makes the next n fsyncs of fs fail.
func failSyncs(fs *fileStore, n int) {
	fs.sync = func(f *os.File) error {
		if n > 0 {
			n--
			return errors.New("fsync: input/output error")
		}
		return f.Sync()
	}
}

func channels(t *testing.T, st Store) []string {
	t.Helper()
	entries, err := st.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Channel)
	}
	return out
}

func TestFileStoreFailedSyncIsNotReplayed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openDriver(t, "file", dir)
	if err := st.Put(ctx, sampleSnapshot("a")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	failSyncs(st.(*fileStore), 1)
	if err := st.Put(ctx, sampleSnapshot("b")); !errors.Is(err, pomo.ErrStoreUnavailable) {
		t.Fatalf("Put b = %v, want ErrStoreUnavailable", err)
	}
	if err := st.Put(ctx, sampleSnapshot("c")); err != nil {
		t.Fatalf("Put c after rollback: %v", err)
	}
	if got := strings.Join(channels(t, st), ","); got != "a,c" {
		t.Fatalf("live channels = %s", got)
	}
	_ = st.Close()

	st = openDriver(t, "file", dir)
	t.Cleanup(func() { _ = st.Close() })
	if got := strings.Join(channels(t, st), ","); got != "a,c" {
		t.Fatalf("channels after reopen = %s, want a,c", got)
	}
}

func TestFileStoreRefusesWritesAfterFailedRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	st := openDriver(t, "file", dir)
	if err := st.Put(ctx, sampleSnapshot("a")); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	fs := st.(*fileStore)
	failSyncs(fs, 2)
	if err := st.Put(ctx, sampleSnapshot("b")); !errors.Is(err, pomo.ErrStoreUnavailable) {
		t.Fatalf("Put b = %v, want ErrStoreUnavailable", err)
	}
	if err := st.Delete(ctx, "a"); !errors.Is(err, pomo.ErrStoreUnavailable) {
		t.Fatalf("Delete after failed rollback = %v, want ErrStoreUnavailable", err)
	}

	if err := st.(Compactor).Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := st.Put(ctx, sampleSnapshot("c")); err != nil {
		t.Fatalf("Put c after compaction: %v", err)
	}
	_ = st.Close()

	st = openDriver(t, "file", dir)
	t.Cleanup(func() { _ = st.Close() })
	if got := strings.Join(channels(t, st), ","); got != "a,c" {
		t.Fatalf("channels after reopen = %s, want a,c", got)
	}
}

func TestCorruptRecordsAreFlagged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := NewMemory()
	if err := mem.Put(ctx, sampleSnapshot("ok")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mem.PutRaw("garbage", []byte("{nope"))
	mem.PutRaw("moved", mustEncode(t, sampleSnapshot("elsewhere")))

	entries, err := mem.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	byChannel := map[string]Entry{}
	for _, e := range entries {
		byChannel[e.Channel] = e
	}
	if byChannel["ok"].Err != nil {
		t.Fatalf("ok entry flagged: %v", byChannel["ok"].Err)
	}
	for _, ch := range []string{"garbage", "moved"} {
		if !errors.Is(byChannel[ch].Err, pomo.ErrRecoveryCorrupt) {
			t.Fatalf("%s: err = %v, want ErrRecoveryCorrupt", ch, byChannel[ch].Err)
		}
	}
}

func TestSQLiteFlagsCorruptRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openDriver(t, "sqlite", t.TempDir())
	t.Cleanup(func() { _ = st.Close() })

	if err := st.(*sqliteStore).putRaw(ctx, "bad", []byte("not json")); err != nil {
		t.Fatalf("putRaw: %v", err)
	}
	entries, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(entries) != 1 || !errors.Is(entries[0].Err, pomo.ErrRecoveryCorrupt) {
		t.Fatalf("entries = %+v", entries)
	}
	if err := st.(Compactor).Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := openDriver(t, "sqlite", dir)
	_ = a.Close()
	b := openDriver(t, "sqlite", dir)
	t.Cleanup(func() { _ = b.Close() })

	var n int
	if err := b.(*sqliteStore).db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("schema_migrations rows = %d, want 1", n)
	}
}

func TestClosedStoreReportsUnavailable(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openDriver(t, driver, t.TempDir())
			_ = st.Close()
			err := st.Put(context.Background(), sampleSnapshot("c1"))
			if !errors.Is(err, pomo.ErrStoreUnavailable) {
				t.Fatalf("Put after Close = %v, want ErrStoreUnavailable", err)
			}
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func mustEncode(t *testing.T, s pomo.Snapshot) []byte {
	t.Helper()
	b, err := pomo.EncodeSnapshot(s)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	return b
}
