package storage

import (
	"context"
	"sort"
	"sync"

	"pomobot/internal/pomo"
)

// Memory keeps encoded records in a map. Records go through the same codec as
// the durable drivers so round-trip behaviour is identical.
type Memory struct {
	mu      sync.Mutex
	records map[string][]byte
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{records: map[string][]byte{}}
}

func (m *Memory) Put(ctx context.Context, snap pomo.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return unavailable("put", err)
	}
	b, err := pomo.EncodeSnapshot(snap)
	if err != nil {
		return unavailable("encode", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return unavailable("put", ErrClosed)
	}
	m.records[snap.Channel] = b
	return nil
}

func (m *Memory) Delete(ctx context.Context, channel string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return unavailable("delete", ErrClosed)
	}
	delete(m.records, channel)
	return nil
}

func (m *Memory) LoadAll(ctx context.Context) ([]Entry, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, unavailable("load", ErrClosed)
	}
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, decodeEntry(k, m.records[k]))
	}
	return out, nil
}

// PutRaw stores arbitrary bytes under channel. Used to simulate corruption.
func (m *Memory) PutRaw(channel string, data []byte) {
	m.mu.Lock()
	m.records[channel] = append([]byte(nil), data...)
	m.mu.Unlock()
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
