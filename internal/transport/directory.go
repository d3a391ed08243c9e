package transport

import (
	"strings"
	"sync"
)

// Directory maps stable user ids to the latest @handle seen for them.
// Subscriptions are keyed by id; handles are only for display. A nil
// Directory knows no handles.
type Directory struct {
	mu      sync.RWMutex
	handles map[string]string
}

func NewDirectory() *Directory {
	return &Directory{handles: map[string]string{}}
}

// Observe records the current handle of userID. An empty username forgets
// the previous one.
func (d *Directory) Observe(userID, username string) {
	if d == nil || userID == "" {
		return
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	d.mu.Lock()
	if username == "" {
		delete(d.handles, userID)
	} else {
		d.handles[userID] = "@" + username
	}
	d.mu.Unlock()
}

// Handle returns "@name" for userID, or "" when unknown.
func (d *Directory) Handle(userID string) string {
	if d == nil {
		return ""
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handles[userID]
}

// Resolve maps ids to handles, keeping ids that have none.
func (d *Directory) Resolve(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if h := d.Handle(id); h != "" {
			out[i] = h
		} else {
			out[i] = id
		}
	}
	return out
}
