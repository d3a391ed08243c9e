package scheduler

import (
	"context"
	"fmt"
	"time"

	"pomobot/internal/eventbus"
	"pomobot/internal/pomo"
	logx "pomobot/pkg/logx"
)

// Recover rebuilds live sessions from the store. Call it once, before serving
// commands.
//
// A session whose deadline already passed is replayed phase by phase from its
// stored deadline until the current phase ends after now. Only the final state
// is persisted and one resumed PhaseChanged event is emitted for it. Corrupt
// records are dropped and deleted; per-channel failures never abort recovery.
func (s *Scheduler) Recover(ctx context.Context, now time.Time) (RecoveryReport, error) {
	var rep RecoveryReport
	if s.isClosed() {
		return rep, ErrClosed
	}
	recs, err := s.store.LoadAll(ctx)
	if err != nil {
		return rep, storeErr(err)
	}
	rep.Loaded = len(recs)

	for _, rec := range recs {
		log := s.log.With(logx.String("channel", rec.Channel))
		if rec.Err != nil {
			s.drop(ctx, &rep, rec.Channel, rec.Err)
			continue
		}
		sess, err := rec.Snapshot.Restore()
		if err != nil {
			s.drop(ctx, &rep, rec.Channel, err)
			continue
		}
		if sess.State == pomo.Stopped {
			rep.Stopped++
			if err := s.store.Delete(ctx, rec.Channel); err != nil {
				log.Warn("stopped session not cleared", logx.Err(err))
			}
			continue
		}

		prev := sess.Phase
		caught, steps, err := catchUp(sess, now, s.cfg.MaxCatchUp)
		if err != nil {
			s.drop(ctx, &rep, rec.Channel, err)
			continue
		}
		if steps > 0 {
			if err := s.store.Put(ctx, caught.Snapshot()); err != nil {
				// The stored record is still a valid ancestor; the next
				// recovery replays the same phases.
				log.Error("caught-up session not persisted", logx.Err(err))
				rep.Failed = append(rep.Failed, rec.Channel)
				continue
			}
		}

		e, ok := s.install(caught)
		if !ok {
			log.Warn("channel already live; stored session ignored")
			continue
		}

		if steps == 0 {
			rep.Rearmed = append(rep.Rearmed, rec.Channel)
			log.Debug("session re-armed", logx.String("phase", caught.Phase.String()), logx.Time("deadline", caught.Deadline))
		} else {
			rep.Advanced = append(rep.Advanced, rec.Channel)
			log.Info("session resumed",
				logx.String("from", prev.String()),
				logx.String("phase", caught.Phase.String()),
				logx.Int("caught_up", steps),
				logx.Time("deadline", caught.Deadline),
			)
			s.emitLocked(e, eventbus.PhaseChanged, PhaseEvent{
				Kind:     EventPhaseChanged,
				Phase:    caught.Phase,
				Previous: prev,
				Trigger:  TriggerRecovery,
				Resumed:  true,
				CaughtUp: steps,
			})
		}
		e.mu.Unlock()
	}

	s.log.Info("recovery done",
		logx.Int("loaded", rep.Loaded),
		logx.Int("rearmed", len(rep.Rearmed)),
		logx.Int("advanced", len(rep.Advanced)),
		logx.Int("stopped", rep.Stopped),
		logx.Int("dropped", len(rep.Dropped)),
		logx.Int("failed", len(rep.Failed)),
	)
	return rep, nil
}

// install inserts a live entry for sess and arms it. On success the entry is
// returned locked.
func (s *Scheduler) install(sess pomo.Session) (*entry, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false
	}
	if _, ok := s.entries[sess.Channel]; ok {
		s.mu.Unlock()
		return nil, false
	}
	e := &entry{channel: sess.Channel}
	e.mu.Lock()
	s.entries[sess.Channel] = e
	s.mu.Unlock()

	e.sess = &sess
	s.armLocked(e)
	return e, true
}

func (s *Scheduler) drop(ctx context.Context, rep *RecoveryReport, channel string, cause error) {
	rep.Dropped = append(rep.Dropped, channel)
	s.log.Error("dropping unrecoverable session", logx.String("channel", channel), logx.Err(cause))
	s.bus.Publish(eventbus.Event{Type: eventbus.SessionDropped, Channel: channel, Data: cause.Error()})
	if err := s.store.Delete(ctx, channel); err != nil {
		s.log.Warn("corrupt session record not deleted", logx.String("channel", channel), logx.Err(err))
	}
}

// catchUp advances sess from its stored deadline until the current phase ends
// after now. Each replayed phase starts exactly at the previous deadline.
func catchUp(sess pomo.Session, now time.Time, maxSteps int) (pomo.Session, int, error) {
	steps := 0
	for !sess.Deadline.After(now) {
		if steps >= maxSteps {
			return sess, steps, fmt.Errorf("%w: catch-up exceeded %d phases (deadline %s)",
				pomo.ErrRecoveryCorrupt, maxSteps, sess.Deadline.Format(time.RFC3339))
		}
		sess, _ = sess.Advance(sess.Deadline)
		steps++
	}
	return sess, steps, nil
}
