// Package storage persists session snapshots so the scheduler can rebuild its
// live state after a restart.
//
// It currently supports memory, file (journal + snapshot), sqlite and redis
// backends. All of them store the JSON record produced by pomo.EncodeSnapshot.
package storage
