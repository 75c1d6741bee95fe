package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"shiftwatch/internal/model"
)

const prodID = "-//shiftwatch//schedule export//EN"

// defaultActivityDuration is assumed for activity blocks; the page only
// exposes start positions, not spans, so exported events need some width
// to be usable in a calendar.
const defaultActivityDuration = time.Hour

// Export renders the schedule as an iCalendar payload so the reconstructed
// shift can be imported into a real calendar. Events without a resolved
// start time are skipped; markers and shift boundaries are exported as
// zero-length events.
func Export(sched model.Schedule) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)
	if sched.TimezoneLabel != "" {
		cal.SetXWRTimezone(sched.TimezoneLabel)
	}

	for i, ev := range sched.Events {
		if !ev.Start.Resolved() {
			continue
		}

		uid := fmt.Sprintf("%s@shiftwatch", model.AlarmName(ev.Name, i))
		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(sched.ExtractedAt)
		ve.SetStartAt(ev.Start.At)
		if ev.Kind == model.KindActivity {
			ve.SetEndAt(ev.Start.At.Add(defaultActivityDuration))
		} else {
			ve.SetEndAt(ev.Start.At)
		}
		ve.SetSummary(ev.Name)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
	}

	return cal.Serialize()
}
