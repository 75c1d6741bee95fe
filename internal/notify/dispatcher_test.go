package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"shiftwatch/internal/alarm"
	"shiftwatch/internal/model"
	"shiftwatch/internal/store"
)

type captureNotifier struct {
	sent []Notification
}

func (c *captureNotifier) Notify(_ context.Context, n Notification) error {
	c.sent = append(c.sent, n)
	return nil
}

var dispatchNow = time.Date(2025, 9, 16, 8, 55, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store, *captureNotifier, clock.FakeClock) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "shiftwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fc := clock.NewFake()
	fc.Set(dispatchNow)

	engine := alarm.NewEngine(fc, 8)
	sink := &captureNotifier{}
	return NewDispatcher(engine, st, fc, sink), st, sink, fc
}

func seedAlarmCache(t *testing.T, st *store.Store, events []model.Event) {
	t.Helper()
	if err := st.SaveAlarmState(events, 5, len(events)); err != nil {
		t.Fatalf("seed alarm cache: %v", err)
	}
}

func TestDispatchImminentEvent(t *testing.T) {
	d, st, sink, _ := newTestDispatcher(t)
	seedAlarmCache(t, st, []model.Event{
		{
			Name:        "Phone Support",
			Kind:        model.KindActivity,
			Start:       model.ResolvedAt(dispatchNow.Add(5 * time.Minute)),
			Description: "Activity: Phone Support at 9:00",
		},
	})

	d.Dispatch(context.Background(), model.Alarm{Name: "Phone Support_0", FireAt: dispatchNow})

	if len(sink.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.sent))
	}
	n := sink.sent[0]
	if n.ID != "Phone Support_0" {
		t.Fatalf("notification id should match alarm identity: %q", n.ID)
	}
	if n.Message != `"Phone Support" starts in 5 minutes` {
		t.Fatalf("unexpected message: %q", n.Message)
	}
	if n.Context != "Activity: Phone Support at 9:00" {
		t.Fatalf("unexpected context line: %q", n.Context)
	}
	if n.Priority != 2 {
		t.Fatalf("unexpected priority: %d", n.Priority)
	}
}

func TestDispatchEventAlreadyUnderway(t *testing.T) {
	d, st, sink, _ := newTestDispatcher(t)
	seedAlarmCache(t, st, []model.Event{
		{Name: "Standup", Kind: model.KindActivity, Start: model.ResolvedAt(dispatchNow.Add(-2 * time.Minute))},
	})

	d.Dispatch(context.Background(), model.Alarm{Name: "Standup_0", FireAt: dispatchNow})

	if len(sink.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.sent))
	}
	if sink.sent[0].Message != `"Standup" is starting now` {
		t.Fatalf("unexpected message: %q", sink.sent[0].Message)
	}
}

func TestDispatchStaleIdentityIsSilentNoop(t *testing.T) {
	d, st, sink, _ := newTestDispatcher(t)
	seedAlarmCache(t, st, []model.Event{
		{Name: "Only Event", Kind: model.KindActivity, Start: model.ResolvedAt(dispatchNow.Add(time.Hour))},
	})

	// Index beyond the cached schedule: the schedule shrank since the
	// alarm was installed.
	d.Dispatch(context.Background(), model.Alarm{Name: "Gone Event_7", FireAt: dispatchNow})

	if len(sink.sent) != 0 {
		t.Fatalf("expected no notification for stale identity, got %+v", sink.sent)
	}
}

func TestDispatchReplacedEventAtSameIndexIsSilentNoop(t *testing.T) {
	d, st, sink, _ := newTestDispatcher(t)
	seedAlarmCache(t, st, []model.Event{
		{Name: "New Event", Kind: model.KindActivity, Start: model.ResolvedAt(dispatchNow.Add(time.Hour))},
	})

	// Index 0 exists, but the cached event there is no longer the one the
	// alarm was installed for.
	d.Dispatch(context.Background(), model.Alarm{Name: "Old Event_0", FireAt: dispatchNow})

	if len(sink.sent) != 0 {
		t.Fatalf("expected no notification for replaced event, got %+v", sink.sent)
	}
}

func TestDispatchNoCacheIsSilentNoop(t *testing.T) {
	d, _, sink, _ := newTestDispatcher(t)

	d.Dispatch(context.Background(), model.Alarm{Name: "Anything_0", FireAt: dispatchNow})

	if len(sink.sent) != 0 {
		t.Fatalf("expected no notification without alarm cache, got %+v", sink.sent)
	}
}

func TestDispatchHonorsNotificationsToggle(t *testing.T) {
	d, st, sink, _ := newTestDispatcher(t)
	seedAlarmCache(t, st, []model.Event{
		{Name: "Phone Support", Kind: model.KindActivity, Start: model.ResolvedAt(dispatchNow.Add(5 * time.Minute))},
	})

	muted := model.Settings{AlertLeadMinutes: 5, NotificationsEnabled: false, AutoRefreshEnabled: true}
	if err := st.SaveSettings(muted); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	d.Dispatch(context.Background(), model.Alarm{Name: "Phone Support_0", FireAt: dispatchNow})

	if len(sink.sent) != 0 {
		t.Fatalf("expected no notification while muted, got %+v", sink.sent)
	}
}

func TestReminderMessageFormats(t *testing.T) {
	if got := reminderMessage("X", 12); got != `"X" starts in 12 minutes` {
		t.Fatalf("unexpected: %q", got)
	}
	if got := reminderMessage("X", 0); got != `"X" is starting now` {
		t.Fatalf("unexpected: %q", got)
	}
	if got := reminderMessage("X", -3); got != `"X" is starting now` {
		t.Fatalf("unexpected: %q", got)
	}
}
