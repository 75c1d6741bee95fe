package notify

import (
	"context"
	"sync"

	"github.com/jmhodges/clock"

	"shiftwatch/internal/alarm"
	appLog "shiftwatch/internal/log"
	"shiftwatch/internal/model"
	"shiftwatch/internal/store"
)

// Dispatcher reacts to fired alarms: it maps each alarm identity back to
// its event through the persisted alarm cache and fans the alert out to
// every registered notifier. A fired alarm whose identity no longer
// resolves (the schedule was replaced underneath it) is an expected race
// and is dropped silently.
type Dispatcher struct {
	engine    *alarm.Engine
	store     *store.Store
	clk       clock.Clock
	notifiers []Notifier
	wg        sync.WaitGroup
}

func NewDispatcher(engine *alarm.Engine, st *store.Store, clk clock.Clock, notifiers ...Notifier) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		engine:    engine,
		store:     st,
		clk:       clk,
		notifiers: notifiers,
	}
}

// Run consumes fired alarms until ctx is cancelled or the engine's channel
// closes. It returns immediately; consumption happens on a background
// goroutine. Call Wait to block until drained.
func (d *Dispatcher) Run(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case a, ok := <-d.engine.C():
				if !ok {
					return
				}
				d.Dispatch(ctx, a)
			}
		}
	}()
}

// Wait blocks until the consumer goroutine exits.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch handles a single fired alarm.
func (d *Dispatcher) Dispatch(ctx context.Context, a model.Alarm) {
	appLog.Debug("alarm fired", "name", a.Name)

	settings, err := d.store.Settings()
	if err != nil {
		appLog.Error("dispatch: read settings", err, "alarm", a.Name)
		return
	}
	if !settings.NotificationsEnabled {
		appLog.Debug("notifications disabled, dropping alarm", "name", a.Name)
		return
	}

	ev, ok := d.resolveEvent(a)
	if !ok {
		// Stale identity after a schedule replacement; not an error.
		appLog.Debug("fired alarm no longer resolves to an event", "name", a.Name)
		return
	}

	minutesUntil := roundMinutes(ev.Start.At.Sub(d.clk.Now()).Minutes())

	contextLine := ev.Description
	if contextLine == "" {
		contextLine = "Shift schedule reminder"
	}

	n := Notification{
		ID:       a.Name,
		Title:    "Upcoming Schedule Event",
		Message:  reminderMessage(ev.Name, minutesUntil),
		Context:  contextLine,
		Priority: 2,
	}

	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			appLog.Error("notifier failed", err, "alarm", a.Name)
		}
	}
}

// resolveEvent maps an alarm identity back to the event it was derived
// from via the persisted alarm cache.
func (d *Dispatcher) resolveEvent(a model.Alarm) (model.Event, bool) {
	idx, ok := model.AlarmIndex(a.Name)
	if !ok {
		return model.Event{}, false
	}

	events, _, ok, err := d.store.AlarmState()
	if err != nil {
		appLog.Error("dispatch: read alarm cache", err, "alarm", a.Name)
		return model.Event{}, false
	}
	if !ok || idx >= len(events) {
		return model.Event{}, false
	}

	ev := events[idx]
	if model.AlarmName(ev.Name, idx) != a.Name {
		// Same index, different event: the schedule was replaced.
		return model.Event{}, false
	}
	if !ev.Start.Resolved() {
		return model.Event{}, false
	}
	return ev, true
}

// Sweep cancels pending alarms whose fire time already passed without
// firing, which happens when the host clock jumps (suspend/resume). Meant
// to be run periodically; best-effort, since schedule replacement clears
// all alarms anyway.
func (d *Dispatcher) Sweep() int {
	removed := d.engine.CancelPast(d.clk.Now())
	if removed > 0 {
		appLog.Info("swept stale alarms", "removed", removed)
	}
	return removed
}
