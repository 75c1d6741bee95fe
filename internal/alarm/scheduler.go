package alarm

import (
	"fmt"
	"time"

	"github.com/jmhodges/clock"

	appLog "shiftwatch/internal/log"
	"shiftwatch/internal/model"
	"shiftwatch/internal/store"
)

// Scheduler converts an event list plus a lead time into the installed
// alarm set. The set is always recomputed wholesale (clear-all then
// recreate) instead of diffed against the previous one; leftover-timer
// reconciliation bugs are not worth the brief zero-alarm window, which is
// recoverable on the next schedule update or sweep anyway.
type Scheduler struct {
	engine *Engine
	store  *store.Store
	clk    clock.Clock
}

func NewScheduler(engine *Engine, st *store.Store, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{engine: engine, store: st, clk: clk}
}

// Plan derives the alarm set for the given events and lead time. For each
// event with a resolved start, fireAt = start - leadMinutes; alarms whose
// fire time is not strictly in the future are silently skipped. Pure
// function of its inputs.
func Plan(events []model.Event, leadMinutes int, now time.Time) []model.Alarm {
	alarms := make([]model.Alarm, 0, len(events))
	for i, ev := range events {
		if !ev.Start.Resolved() {
			continue
		}
		fireAt := ev.Start.At.Add(-time.Duration(leadMinutes) * time.Minute)
		if !fireAt.After(now) {
			continue
		}
		alarms = append(alarms, model.Alarm{
			Name:   model.AlarmName(ev.Name, i),
			FireAt: fireAt,
		})
	}
	return alarms
}

// Apply installs the alarm set for events, replacing whatever was
// previously installed, and persists the alarm-resolution cache so a fired
// alarm can later be mapped back to its event. Returns the number of
// alarms installed.
//
// Apply is idempotent: re-invoking it with identical inputs yields an
// identical alarm set.
func (s *Scheduler) Apply(events []model.Event, leadMinutes int) (int, error) {
	cleared := s.engine.ClearAll()

	alarms := Plan(events, leadMinutes, s.clk.Now())
	installed := 0
	for _, a := range alarms {
		if err := s.engine.Schedule(a); err != nil {
			return installed, fmt.Errorf("alarm: schedule %q: %w", a.Name, err)
		}
		installed++
	}

	if err := s.store.SaveAlarmState(events, leadMinutes, installed); err != nil {
		return installed, err
	}

	appLog.Info("alarms replaced",
		"cleared", cleared,
		"installed", installed,
		"lead_minutes", leadMinutes,
		"events", len(events),
	)
	return installed, nil
}

// Restore re-derives alarms from the persisted alarm cache, typically after
// a process restart. Past-due alarms are dropped by Plan as usual, so only
// still-future reminders come back.
func (s *Scheduler) Restore() (int, error) {
	events, lead, ok, err := s.store.AlarmState()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return s.Apply(events, lead)
}
