// Package scheduler owns the live Pomodoro sessions of every channel.
//
// Each channel has its own entry with its own mutex; the channel map lock is
// only held for lookup/insert/remove. A state change is persisted before it is
// committed in memory, and subscribers are notified after the commit while the
// entry lock is still held, so per-channel notifications follow the same order
// as the persisted changes.
//
// Phase timers capture a generation counter and the phase start they were
// armed for; a timer that wakes up after a skip, stop or re-arm discards itself.
package scheduler
