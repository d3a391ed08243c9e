package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pomobot/internal/config"
	"pomobot/internal/storage"
	logx "pomobot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// maintenance runs storage compaction on a cron schedule. Drivers that do not
// implement storage.Compactor have nothing to do.
type maintenance struct {
	log   logx.Logger
	store storage.Store

	mu   sync.Mutex
	c    *cron.Cron
	expr string
	runs int
}

func newMaintenance(store storage.Store, log logx.Logger) *maintenance {
	return &maintenance{store: store, log: log.With(logx.String("comp", "maintenance"))}
}

// Apply (re)schedules compaction. An unchanged schedule is a no-op.
func (m *maintenance) Apply(ctx context.Context, mc config.MaintenanceConfig) error {
	comp, ok := m.store.(storage.Compactor)
	if !ok {
		return nil
	}
	sched, err := mc.ParseSchedule()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil && m.expr == mc.Schedule {
		return nil
	}
	m.stopLocked(ctx)
	m.expr = mc.Schedule
	if sched == nil {
		m.log.Info("store maintenance disabled")
		return nil
	}

	cl := cronLogger{log: m.log}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	c.Schedule(sched, cron.FuncJob(func() {
		if err := m.compact(ctx, comp); err != nil {
			m.log.Warn("store compaction failed", logx.Err(err))
		}
	}))
	c.Start()
	m.c = c
	next := sched.Next(time.Now())
	m.log.Info("store maintenance scheduled", logx.String("schedule", mc.Schedule), logx.Time("next", next))
	return nil
}

func (m *maintenance) compact(ctx context.Context, comp storage.Compactor) error {
	if ctx.Err() != nil {
		return nil
	}
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := comp.Compact(cctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.runs++
	m.mu.Unlock()
	m.log.Debug("store compacted", logx.Duration("took", time.Since(start)))
	return nil
}

func (m *maintenance) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(ctx)
}

func (m *maintenance) stopLocked(ctx context.Context) {
	if m.c == nil {
		return
	}
	done := m.c.Stop()
	m.c = nil
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
