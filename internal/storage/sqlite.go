package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pomobot/internal/pomo"
	logx "pomobot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		// FULL: a committed Put survives power loss, not only a process crash.
		"PRAGMA synchronous = FULL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// migrate applies every embedded migration not yet recorded in schema_migrations.
func (s *sqliteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return err
	}

	applied := map[string]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return err
		}
		applied[name] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		if applied[name] {
			continue
		}
		body, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return err
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(filename) VALUES (?)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: record: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Info("migration applied", logx.String("file", name))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, snap pomo.Snapshot) error {
	b, err := pomo.EncodeSnapshot(snap)
	if err != nil {
		return unavailable("encode", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions(channel, data, updated_at) VALUES(?,?,?)
		 ON CONFLICT(channel) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`,
		snap.Channel, b, time.Now().UnixMilli(),
	)
	return unavailable("put", err)
}

func (s *sqliteStore) Delete(ctx context.Context, channel string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE channel = ?`, channel)
	return unavailable("delete", err)
}

func (s *sqliteStore) LoadAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel, data FROM sessions ORDER BY channel`)
	if err != nil {
		return nil, unavailable("load", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			channel string
			data    []byte
		)
		if err := rows.Scan(&channel, &data); err != nil {
			return nil, unavailable("load", err)
		}
		out = append(out, decodeEntry(channel, data))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("load", err)
	}
	return out, nil
}

// Compact checkpoints the WAL back into the main database file.
func (s *sqliteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

// putRaw writes arbitrary bytes for a channel. Tests use it to plant corrupt rows.
func (s *sqliteStore) putRaw(ctx context.Context, channel string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(channel, data, updated_at) VALUES(?,?,?)
		 ON CONFLICT(channel) DO UPDATE SET data=excluded.data`,
		channel, data, time.Now().UnixMilli(),
	)
	return err
}
