package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	appLog "shiftwatch/internal/log"
	"shiftwatch/internal/model"
	"shiftwatch/internal/scrape"
)

// fillerLabels never produce an event; they are visual padding on the
// timeline, not activities.
var fillerLabels = map[string]struct{}{
	"Break": {},
	"Lunch": {},
}

var badgeHourRe = regexp.MustCompile(`^\d{1,2}$`)

// BuildSchedule turns a raw page snapshot into a normalized schedule.
// now must already be in the display location; it supplies both the
// extraction timestamp and the fallback source date.
//
// The transform is pure and never fails: every missing bucket degrades to a
// fallback value or an empty contribution, so the result is always a valid
// (possibly empty) schedule.
func BuildSchedule(snap scrape.Snapshot, now time.Time) model.Schedule {
	tz := firstNonEmpty(snap.TimezoneLabels)
	if tz == "" {
		tz = model.DefaultTimezoneLabel
		appLog.Warn("timezone label not found, using default")
	}

	date := ResolveDate(firstNonEmpty(snap.DateLabels), now)

	anchors := AnchorsFromMarkers(snap.HourMarkers)
	if len(anchors) == 0 {
		appLog.Warn("no hour markers found; block events will be unresolved")
	}

	events := make([]model.Event, 0,
		len(snap.EventBlocks)+len(snap.TimeBadges)+2*len(snap.TooltipTexts))
	events = append(events, blockEvents(snap.EventBlocks, anchors, date)...)
	events = append(events, badgeEvents(snap.TimeBadges, date)...)
	events = append(events, shiftEvents(snap.TooltipTexts, date)...)

	SortEvents(events)

	return model.Schedule{
		Events:        events,
		TimezoneLabel: tz,
		SourceDate:    date,
		ExtractedAt:   now,
	}
}

// blockEvents resolves timeline text blocks into activity events by nearest
// hour-anchor proximity. Blocks that cannot be placed keep an unresolved
// start and sort to the end of the schedule.
func blockEvents(blocks []scrape.PositionedText, anchors []Anchor, date time.Time) []model.Event {
	events := make([]model.Event, 0, len(blocks))
	for _, b := range blocks {
		name := strings.TrimSpace(b.Text)
		if len(name) <= 1 {
			continue
		}
		if _, filler := fillerLabels[name]; filler {
			continue
		}

		start := model.Unresolved()
		desc := fmt.Sprintf("Activity: %s (time estimated from position)", name)
		if hour, ok := NearestHour(anchors, b.Left); ok {
			start = model.ResolvedAt(CombineDateHour(date, hour))
			desc = fmt.Sprintf("Activity: %s at %d:00", name, hour)
		}

		events = append(events, model.Event{
			Name:        name,
			Kind:        model.KindActivity,
			Start:       start,
			Duration:    "Unknown",
			Description: desc,
		})
	}
	return events
}

// badgeEvents turns explicit "H AM/PM" badges into time-marker events. A
// badge contributes only when both a bare hour span and a meridiem span are
// present.
func badgeEvents(badges [][]string, date time.Time) []model.Event {
	events := make([]model.Event, 0, len(badges))
	for _, spans := range badges {
		hour := -1
		period := ""
		for _, s := range spans {
			s = strings.TrimSpace(s)
			if badgeHourRe.MatchString(s) {
				if n, err := strconv.Atoi(s); err == nil {
					hour = n
				}
			} else if s == "AM" || s == "PM" {
				period = s
			}
		}
		if hour < 0 || period == "" {
			continue
		}

		at := CombineDateHour(date, MeridiemHour(hour, period))
		events = append(events, model.Event{
			Name:        fmt.Sprintf("%d:00 %s", hour, period),
			Kind:        model.KindTimeMarker,
			Start:       model.ResolvedAt(at),
			Duration:    "N/A",
			Description: fmt.Sprintf("Time marker: %d:00 %s", hour, period),
		})
	}
	return events
}

// shiftEvents emits a Start of Shift / End of Shift pair for every tooltip
// carrying a "H:MMAM/PM - H:MMAM/PM" range.
func shiftEvents(tooltips []string, date time.Time) []model.Event {
	events := make([]model.Event, 0)
	for _, text := range tooltips {
		start, end, ok := ParseShiftRange(text)
		if !ok {
			continue
		}

		events = append(events,
			model.Event{
				Name:        "Start of Shift",
				Kind:        model.KindShiftBoundary,
				Start:       model.ResolvedAt(CombineDateClock(date, start)),
				Duration:    "N/A",
				Description: fmt.Sprintf("Shift: %s", strings.TrimSpace(text)),
			},
			model.Event{
				Name:        "End of Shift",
				Kind:        model.KindShiftBoundary,
				Start:       model.ResolvedAt(CombineDateClock(date, end)),
				Duration:    "N/A",
				Description: fmt.Sprintf("Shift: %s", strings.TrimSpace(text)),
			},
		)
	}
	return events
}

// SortEvents orders events ascending by resolved start time; unresolved
// entries trail all resolved ones, keeping their original relative order.
func SortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		ri, rj := events[i].Start.Resolved(), events[j].Start.Resolved()
		if ri != rj {
			return ri
		}
		if !ri {
			return false
		}
		return events[i].Start.At.Before(events[j].Start.At)
	})
}

func firstNonEmpty(items []string) string {
	for _, s := range items {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}
