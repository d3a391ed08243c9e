package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pomobot/internal/pomo"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local map (tests, dry runs)
//   - "file": JSONL journal + compacted snapshot
//   - "sqlite": SQLite database file
//   - "redis": one Redis hash keyed by channel
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// redis only
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store persists one session snapshot per channel.
//
// Put and Delete must not return before the change is durable for the driver.
// Every driver error is wrapped in pomo.ErrStoreUnavailable.
type Store interface {
	Put(ctx context.Context, snap pomo.Snapshot) error
	Delete(ctx context.Context, channel string) error
	// LoadAll returns every stored record. A record that cannot be decoded is
	// returned with Err set instead of failing the whole load.
	LoadAll(ctx context.Context) ([]Entry, error)
	Close() error
}

// Compactor is implemented by drivers that benefit from periodic housekeeping.
type Compactor interface {
	Compact(ctx context.Context) error
}

type Entry struct {
	Channel  string
	Snapshot pomo.Snapshot
	Err      error
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", pomo.ErrStoreUnavailable, op, err)
}

// decodeEntry turns a raw record into an Entry, flagging corrupt data.
func decodeEntry(channel string, data []byte) Entry {
	snap, err := pomo.DecodeSnapshot(data)
	if err != nil {
		return Entry{Channel: channel, Err: err}
	}
	if snap.Channel != channel {
		return Entry{Channel: channel, Snapshot: snap, Err: fmt.Errorf("%w: record key %q holds channel %q", pomo.ErrRecoveryCorrupt, channel, snap.Channel)}
	}
	return Entry{Channel: channel, Snapshot: snap}
}
