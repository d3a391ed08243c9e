package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pomobot/internal/eventbus"
	"pomobot/internal/pomo"
	logx "pomobot/pkg/logx"
)

// armLocked (re)arms the phase timer for e.sess. Caller holds e.mu.
func (s *Scheduler) armLocked(e *entry) {
	s.disarmLocked(e)
	e.failingSince = time.Time{}
	e.attempt = 0

	gen := e.gen
	start := e.sess.PhaseStart
	d := e.sess.Deadline.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	e.timer = s.clock.AfterFunc(d, func() { s.fire(e, gen, start) })
}

// disarmLocked stops the timer and invalidates any callback already in flight.
func (s *Scheduler) disarmLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

// fire runs when a phase deadline passes (or a persist retry is due).
func (s *Scheduler) fire(e *entry, gen uint64, start time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil || e.gen != gen || !e.sess.PhaseStart.Equal(start) {
		return
	}
	if s.isClosed() {
		return
	}

	prev := e.sess.Phase
	// The next phase starts at commit time, retries included. Stored
	// deadlines are replayed only by recovery.
	next, phase := e.sess.Advance(s.clock.Now())

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.StoreTimeout)
	err := s.store.Put(ctx, next.Snapshot())
	cancel()
	if err != nil {
		s.retryLocked(e, gen, start, err)
		return
	}

	e.sess = &next
	s.armLocked(e)
	s.log.Debug("phase expired", logx.String("channel", e.channel), logx.String("from", prev.String()), logx.String("to", phase.String()))
	s.emitLocked(e, eventbus.PhaseChanged, PhaseEvent{
		Kind:     EventPhaseChanged,
		Phase:    phase,
		Previous: prev,
		Trigger:  TriggerExpiry,
	})
}

// retryLocked schedules another persist attempt for the same phase, or
// escalates once RetryWindow has been spent. The session is left unchanged.
func (s *Scheduler) retryLocked(e *entry, gen uint64, start time.Time, err error) {
	now := s.clock.Now()
	if e.failingSince.IsZero() {
		e.failingSince = now
	}
	e.attempt++
	failingFor := now.Sub(e.failingSince)

	if failingFor >= s.cfg.RetryWindow {
		s.log.Error("phase advance could not be persisted; giving up",
			logx.String("channel", e.channel),
			logx.Int("attempts", e.attempt),
			logx.Duration("failing_for", failingFor),
			logx.Err(err),
		)
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		if s.onFatal != nil {
			s.onFatal(e.channel, fmt.Errorf("channel %s: %w", e.channel, storeErr(err)))
		}
		return
	}

	delay := s.backoffDelay(e.attempt)
	s.log.Warn("phase advance not persisted; retrying",
		logx.String("channel", e.channel),
		logx.Int("attempt", e.attempt),
		logx.Duration("retry_in", delay),
		logx.Err(err),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.StoreFailing, Channel: e.channel, Data: err.Error()})
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(e, gen, start) })
}

// backoffDelay is exponential from RetryBase, capped at RetryMaxDelay, with
// +/- RetryJitter applied.
func (s *Scheduler) backoffDelay(attempt int) time.Duration {
	d := s.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > s.cfg.RetryMaxDelay {
			d = s.cfg.RetryMaxDelay
			break
		}
	}
	if j := s.cfg.RetryJitter; j > 0 {
		s.rngMu.Lock()
		r := (s.rng.Float64()*2 - 1) * j
		s.rngMu.Unlock()
		d = time.Duration(float64(d) * (1 + r))
	}
	if d < 0 {
		d = 0
	}
	return d
}

// storeErr makes sure a store failure matches pomo.ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil || errors.Is(err, pomo.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", pomo.ErrStoreUnavailable, err)
}
