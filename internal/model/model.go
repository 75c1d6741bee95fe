package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTimezoneLabel is used when no timezone text can be found on the
// source page.
const DefaultTimezoneLabel = "America/Mexico_City (CST)"

var ErrInvalidEventKind = errors.New("model: invalid event kind")

// EventKind describes where a schedule entry came from.
type EventKind string

const (
	KindActivity      EventKind = "activity"
	KindTimeMarker    EventKind = "time-marker"
	KindShiftBoundary EventKind = "shift-boundary"
)

func (k EventKind) IsValid() bool {
	switch k {
	case KindActivity, KindTimeMarker, KindShiftBoundary:
		return true
	default:
		return false
	}
}

// TimeState is the resolution state of an event's start time. Extraction
// never fails outright; an entry either carries a resolved timestamp, was
// attempted but could not be placed on the timeline, or was never attempted.
type TimeState string

const (
	TimeResolved     TimeState = "resolved"
	TimeUnresolved   TimeState = "unresolved"
	TimeNotAttempted TimeState = "not-attempted"
)

// EventTime is an explicit three-state start time. At is only meaningful
// when State == TimeResolved.
type EventTime struct {
	State TimeState `json:"state"`
	At    time.Time `json:"at,omitempty"`
}

func ResolvedAt(t time.Time) EventTime {
	return EventTime{State: TimeResolved, At: t}
}

func Unresolved() EventTime {
	return EventTime{State: TimeUnresolved}
}

func NotAttempted() EventTime {
	return EventTime{State: TimeNotAttempted}
}

// Resolved reports whether the event has a usable start timestamp.
func (t EventTime) Resolved() bool {
	return t.State == TimeResolved && !t.At.IsZero()
}

// Event is one inferred schedule entry.
type Event struct {
	Name        string    `json:"name"`
	Kind        EventKind `json:"kind"`
	Start       EventTime `json:"start"`
	Duration    string    `json:"duration"`
	Description string    `json:"description"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("model: event name is required")
	}
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEventKind, e.Kind)
	}
	return nil
}

// Schedule is the full output of one extraction pass. Instances are never
// mutated after creation; each pass produces a fresh Schedule that replaces
// the previous one wholesale.
type Schedule struct {
	// Events is sorted ascending by start time, with unresolved entries
	// trailing in their original relative order.
	Events []Event `json:"events"`

	TimezoneLabel string    `json:"timezone"`
	SourceDate    time.Time `json:"source_date"`
	ExtractedAt   time.Time `json:"extracted_at"`
}

// Settings are the user-controlled knobs, persisted across restarts and
// mutated only by an explicit save.
type Settings struct {
	AlertLeadMinutes     int  `json:"alert_lead_minutes"`
	NotificationsEnabled bool `json:"notifications_enabled"`
	AutoRefreshEnabled   bool `json:"auto_refresh_enabled"`
}

func DefaultSettings() Settings {
	return Settings{
		AlertLeadMinutes:     5,
		NotificationsEnabled: true,
		AutoRefreshEnabled:   true,
	}
}

func (s Settings) Validate() error {
	if s.AlertLeadMinutes < 1 || s.AlertLeadMinutes > 60 {
		return errors.New("model: alert lead time must be between 1 and 60 minutes")
	}
	return nil
}

// Alarm is one pending one-shot timer derived from a schedule entry.
// Name doubles as the alarm identity: "<event name>_<index>", where index
// is the event's position in the schedule it was derived from. The suffix
// lets a fired alarm be mapped back to its event without extra bookkeeping.
type Alarm struct {
	Name   string    `json:"name"`
	FireAt time.Time `json:"scheduledTime"`
}

// AlarmName builds the deterministic identity for the event at the given
// schedule index.
func AlarmName(eventName string, index int) string {
	return eventName + "_" + strconv.Itoa(index)
}

// AlarmIndex recovers the schedule index from an alarm identity. It returns
// false for names that carry no index suffix.
func AlarmIndex(name string) (int, bool) {
	i := strings.LastIndex(name, "_")
	if i < 0 || i == len(name)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// AlarmDisplayName strips the index suffix for display purposes.
func AlarmDisplayName(name string) string {
	if _, ok := AlarmIndex(name); !ok {
		return name
	}
	return name[:strings.LastIndex(name, "_")]
}
