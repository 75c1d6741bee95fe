package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"shiftwatch/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "shiftwatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsDefaultOnFirstRun(t *testing.T) {
	s := openTestStore(t)

	set, err := s.Settings()
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if set != model.DefaultSettings() {
		t.Fatalf("expected defaults, got %+v", set)
	}
}

func TestSaveSettingsRejectsInvalidLead(t *testing.T) {
	s := openTestStore(t)

	bad := model.Settings{AlertLeadMinutes: 0, NotificationsEnabled: true, AutoRefreshEnabled: true}
	if err := s.SaveSettings(bad); err == nil {
		t.Fatal("expected validation error")
	}

	// Nothing was partially written.
	set, err := s.Settings()
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if set != model.DefaultSettings() {
		t.Fatalf("settings changed after rejected save: %+v", set)
	}
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := model.Settings{AlertLeadMinutes: 15, NotificationsEnabled: false, AutoRefreshEnabled: true}
	if err := s.SaveSettings(want); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	got, err := s.Settings()
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, _, ok, err := s.Schedule(); err != nil || ok {
		t.Fatalf("expected no schedule yet, ok=%v err=%v", ok, err)
	}

	extractedAt := time.Date(2025, 9, 16, 8, 0, 0, 0, time.UTC)
	sched := model.Schedule{
		Events: []model.Event{
			{
				Name:  "Phone Support",
				Kind:  model.KindActivity,
				Start: model.ResolvedAt(time.Date(2025, 9, 16, 9, 0, 0, 0, time.UTC)),
			},
		},
		TimezoneLabel: "America/Chicago (CDT)",
		SourceDate:    time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC),
		ExtractedAt:   extractedAt,
	}

	seq, err := s.NextExtractionSeq()
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}
	if err := s.SaveSchedule(seq, sched); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	got, at, ok, err := s.Schedule()
	if err != nil || !ok {
		t.Fatalf("read schedule: ok=%v err=%v", ok, err)
	}
	if len(got.Events) != 1 || got.Events[0].Name != "Phone Support" {
		t.Fatalf("unexpected schedule: %+v", got)
	}
	if !got.Events[0].Start.Resolved() {
		t.Fatalf("start time state lost: %+v", got.Events[0].Start)
	}
	if !at.Equal(extractedAt) {
		t.Fatalf("unexpected extraction timestamp: %v", at)
	}
}

func TestSaveScheduleRejectsStaleSequence(t *testing.T) {
	s := openTestStore(t)

	// Two concurrent passes claim sequence numbers; the slower (older) one
	// finishes last and must not overwrite the fresher result.
	slow, err := s.NextExtractionSeq()
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}
	fast, err := s.NextExtractionSeq()
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}

	fresh := model.Schedule{TimezoneLabel: "fresh", ExtractedAt: time.Now()}
	if err := s.SaveSchedule(fast, fresh); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	stale := model.Schedule{TimezoneLabel: "stale", ExtractedAt: time.Now()}
	if err := s.SaveSchedule(slow, stale); !errors.Is(err, ErrStaleExtraction) {
		t.Fatalf("expected ErrStaleExtraction, got %v", err)
	}

	got, _, _, err := s.Schedule()
	if err != nil {
		t.Fatalf("read schedule: %v", err)
	}
	if got.TimezoneLabel != "fresh" {
		t.Fatalf("stale pass overwrote fresh schedule: %q", got.TimezoneLabel)
	}
}

func TestAlarmStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, _, ok, err := s.AlarmState(); err != nil || ok {
		t.Fatalf("expected no alarm state yet, ok=%v err=%v", ok, err)
	}

	events := []model.Event{
		{Name: "Phone Support", Kind: model.KindActivity, Start: model.ResolvedAt(time.Date(2025, 9, 16, 9, 0, 0, 0, time.UTC))},
		{Name: "Email Queue", Kind: model.KindActivity, Start: model.Unresolved()},
	}
	if err := s.SaveAlarmState(events, 10, 1); err != nil {
		t.Fatalf("save alarm state: %v", err)
	}

	got, lead, ok, err := s.AlarmState()
	if err != nil || !ok {
		t.Fatalf("read alarm state: ok=%v err=%v", ok, err)
	}
	if lead != 10 {
		t.Fatalf("unexpected lead: %d", lead)
	}
	if len(got) != 2 || got[0].Name != "Phone Support" || got[1].Start.Resolved() {
		t.Fatalf("unexpected alarm events: %+v", got)
	}
}
