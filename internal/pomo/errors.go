package pomo

import "errors"

var (
	// ErrAlreadyRunning is returned when starting a session on a channel that has one.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNotRunning is returned for per-channel operations on a channel without a live session.
	ErrNotRunning = errors.New("no session running")
	// ErrStoreUnavailable means a state change could not be persisted and was not applied.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrRecoveryCorrupt marks a stored snapshot that cannot be restored.
	ErrRecoveryCorrupt = errors.New("session snapshot corrupt")
)
