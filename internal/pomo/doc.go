// Package pomo holds the pomodoro domain: phase sequencing (the phase clock),
// the per-channel Session state machine, and its persisted Snapshot form.
//
// Everything here is pure. Timers, persistence and notification live in
// internal/scheduler.
package pomo
