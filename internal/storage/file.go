package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pomobot/internal/pomo"
	logx "pomobot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.sessions.snapshot.json  (compacted state: channel -> record)
//   - <prefix>.sessions.journal.jsonl  (append-only put/delete journal, fsynced per write)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalPath  string
	journal      *os.File
	records      map[string]json.RawMessage
	sync         func(*os.File) error

	// broken is set when a failed append could not be rolled back; the
	// journal tail is then unknown and every later write fails.
	broken error

	writes       int
	compactEvery int
}

type journalRecord struct {
	Op      string          `json:"op"` // "put" | "delete"
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".sessions.snapshot.json",
		journalPath:  prefix + ".sessions.journal.jsonl",
		records:      map[string]json.RawMessage{},
		sync:         (*os.File).Sync,
		compactEvery: 500,
	}

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		// An unreadable snapshot loses every channel in it; keep going with the journal.
		log.Error("session snapshot unreadable", logx.String("path", s.snapshotPath), logx.Err(err))
	}
	if err := s.replayJournal(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateTornLine(jf); err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Put(ctx context.Context, snap pomo.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return unavailable("put", err)
	}
	b, err := pomo.EncodeSnapshot(snap)
	if err != nil {
		return unavailable("encode", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "put", Channel: snap.Channel, Data: b}); err != nil {
		return unavailable("put", err)
	}
	s.records[snap.Channel] = b
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) Delete(ctx context.Context, channel string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "delete", Channel: channel}); err != nil {
		return unavailable("delete", err)
	}
	delete(s.records, channel)
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) LoadAll(ctx context.Context) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, unavailable("load", ErrClosed)
	}
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, decodeEntry(k, s.records[k]))
	}
	return out, nil
}

// Compact folds the journal into the snapshot file.
func (s *fileStore) Compact(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

// appendLocked writes one journal line and fsyncs it. A failed append is
// truncated away so it cannot be replayed after a restart.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if s.broken != nil {
		return s.broken
	}
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	st, err := s.journal.Stat()
	if err != nil {
		return err
	}
	_, err = s.journal.Write(line)
	if err == nil {
		err = s.sync(s.journal)
	}
	if err != nil {
		s.rollbackLocked(st.Size(), err)
		return err
	}
	return nil
}

func (s *fileStore) rollbackLocked(size int64, cause error) {
	err := s.journal.Truncate(size)
	if err == nil {
		err = s.sync(s.journal)
	}
	if err != nil {
		s.broken = fmt.Errorf("session journal tail unknown after failed write: %w", cause)
		s.log.Error("session journal rollback failed", logx.String("path", s.journalPath), logx.Err(err))
	}
}

func (s *fileStore) maybeCompactLocked() {
	s.writes++
	if s.compactEvery <= 0 || s.writes%s.compactEvery != 0 {
		return
	}
	// Best-effort: the journal stays authoritative if this fails.
	if err := s.compactLocked(); err != nil {
		s.log.Warn("session journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	syncDir(filepath.Dir(s.snapshotPath))

	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	if _, err := s.journal.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	s.broken = nil
	s.log.Debug("session journal compacted", logx.Int("records", len(s.records)))
	return nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]json.RawMessage
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		s.records[k] = v
	}
	return nil
}

func (s *fileStore) replayJournal() error {
	f, err := os.Open(s.journalPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r journalRecord
		if err := json.Unmarshal(line, &r); err != nil || r.Channel == "" {
			s.log.Warn("skipping unreadable journal line", logx.String("path", s.journalPath), logx.Int("line", lineNo))
			continue
		}
		switch r.Op {
		case "put":
			s.records[r.Channel] = append(json.RawMessage(nil), r.Data...)
		case "delete":
			delete(s.records, r.Channel)
		default:
			s.log.Warn("unknown journal op", logx.String("op", r.Op), logx.Int("line", lineNo))
		}
	}
	return sc.Err()
}

// terminateTornLine appends a newline when a crash left a partial last line, so
// the next record starts on its own line.
func terminateTornLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := f.Write([]byte{'\n'}); err != nil {
		return err
	}
	return f.Sync()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
