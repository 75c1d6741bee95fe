package alarm

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"shiftwatch/internal/model"
	"shiftwatch/internal/store"
)

var planNow = time.Date(2025, 9, 16, 8, 0, 0, 0, time.UTC)

func TestPlanFireTimeIsStartMinusLead(t *testing.T) {
	start := planNow.Add(2 * time.Hour)
	events := []model.Event{
		{Name: "Phone Support", Kind: model.KindActivity, Start: model.ResolvedAt(start)},
	}

	for _, lead := range []int{1, 5, 60} {
		alarms := Plan(events, lead, planNow)
		if len(alarms) != 1 {
			t.Fatalf("lead %d: expected 1 alarm, got %d", lead, len(alarms))
		}
		want := start.Add(-time.Duration(lead) * time.Minute)
		if !alarms[0].FireAt.Equal(want) {
			t.Fatalf("lead %d: fireAt %v, want %v", lead, alarms[0].FireAt, want)
		}
	}
}

func TestPlanSkipsUnresolvedAndPastDue(t *testing.T) {
	events := []model.Event{
		{Name: "No Time", Kind: model.KindActivity, Start: model.Unresolved()},
		{Name: "Already Started", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(-time.Hour))},
		// Starts in 5 minutes: with a 5-minute lead, fireAt == now, which
		// is not strictly in the future.
		{Name: "Window Elapsed", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(5 * time.Minute))},
		{Name: "Upcoming", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(time.Hour))},
	}

	alarms := Plan(events, 5, planNow)
	if len(alarms) != 1 {
		t.Fatalf("expected 1 alarm, got %d: %+v", len(alarms), alarms)
	}
	if alarms[0].Name != "Upcoming_3" {
		t.Fatalf("unexpected alarm identity: %q", alarms[0].Name)
	}
}

func TestPlanIdentityEncodesScheduleIndex(t *testing.T) {
	events := []model.Event{
		{Name: "A", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(time.Hour))},
		{Name: "B", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(2 * time.Hour))},
	}
	alarms := Plan(events, 5, planNow)
	if alarms[0].Name != "A_0" || alarms[1].Name != "B_1" {
		t.Fatalf("unexpected identities: %+v", alarms)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "shiftwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	fc := clock.NewFake()
	fc.Set(planNow)

	engine := NewEngine(fc, 8)
	sched := NewScheduler(engine, st, fc)

	events := []model.Event{
		{Name: "Phone Support", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(time.Hour))},
		{Name: "Email Queue", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(3 * time.Hour))},
	}

	n1, err := sched.Apply(events, 5)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first := engine.Pending()

	n2, err := sched.Apply(events, 5)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	second := engine.Pending()

	if n1 != 2 || n2 != 2 {
		t.Fatalf("expected 2 alarms each time, got %d and %d", n1, n2)
	}
	if len(first) != len(second) {
		t.Fatalf("alarm set size changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("alarm %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestApplyReplacesPreviousAlarmSet(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "shiftwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	fc := clock.NewFake()
	fc.Set(planNow)

	engine := NewEngine(fc, 8)
	sched := NewScheduler(engine, st, fc)

	old := []model.Event{
		{Name: "Old Task", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(time.Hour))},
	}
	if _, err := sched.Apply(old, 5); err != nil {
		t.Fatalf("apply old: %v", err)
	}

	fresh := []model.Event{
		{Name: "New Task", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(2 * time.Hour))},
	}
	if _, err := sched.Apply(fresh, 5); err != nil {
		t.Fatalf("apply fresh: %v", err)
	}

	pending := engine.Pending()
	if len(pending) != 1 || pending[0].Name != "New Task_0" {
		t.Fatalf("old alarms survived replacement: %+v", pending)
	}

	// The alarm cache follows the replacement too.
	cached, lead, ok, err := st.AlarmState()
	if err != nil || !ok {
		t.Fatalf("alarm state: ok=%v err=%v", ok, err)
	}
	if lead != 5 || len(cached) != 1 || cached[0].Name != "New Task" {
		t.Fatalf("unexpected alarm cache: lead=%d events=%+v", lead, cached)
	}
}

func TestRestoreReinstallsOnlyFutureAlarms(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "shiftwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	events := []model.Event{
		{Name: "Done", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(-time.Hour))},
		{Name: "Soon", Kind: model.KindActivity, Start: model.ResolvedAt(planNow.Add(time.Hour))},
	}
	if err := st.SaveAlarmState(events, 5, 2); err != nil {
		t.Fatalf("seed alarm state: %v", err)
	}

	fc := clock.NewFake()
	fc.Set(planNow)
	engine := NewEngine(fc, 8)
	sched := NewScheduler(engine, st, fc)

	n, err := sched.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 restored alarm, got %d", n)
	}
	pending := engine.Pending()
	if len(pending) != 1 || pending[0].Name != "Soon_1" {
		t.Fatalf("unexpected restored set: %+v", pending)
	}
}

func TestRestoreWithoutCacheIsNoop(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "shiftwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	engine := NewEngine(nil, 1)
	sched := NewScheduler(engine, st, nil)

	n, err := sched.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 alarms, got %d", n)
	}
}
