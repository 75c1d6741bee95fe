package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"shiftwatch/internal/scrape"
)

// The resolver maps the page's visual timeline back to clock times. The
// page exposes no machine-readable timestamps; the only signals are the
// pixel offsets of the hour-axis cells and a handful of loose text shapes.

// Anchor pairs a horizontal pixel offset with a known hour-of-day.
type Anchor struct {
	Left float64
	Hour int
}

// AnchorsFromMarkers builds the anchor set from the hour-axis cells. Hours
// are sequential from 0 in document order.
func AnchorsFromMarkers(markers []scrape.PositionedText) []Anchor {
	anchors := make([]Anchor, 0, len(markers))
	for i, m := range markers {
		anchors = append(anchors, Anchor{Left: m.Left, Hour: i})
	}
	return anchors
}

// NearestHour returns the hour of the anchor closest to the query offset.
// Only a strictly smaller distance displaces the current best, so an exact
// tie is won by the earlier anchor. Returns false when no anchors exist.
func NearestHour(anchors []Anchor, left float64) (int, bool) {
	best := 0
	bestDist := math.Inf(1)
	found := false
	for _, a := range anchors {
		d := math.Abs(left - a.Left)
		if d < bestDist {
			bestDist = d
			best = a.Hour
			found = true
		}
	}
	return best, found
}

// Clock is a 24-hour wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

var clockRe = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(AM|PM)`)

// ParseClock extracts the first "H:MM AM/PM" token from s and converts it
// to 24-hour form.
func ParseClock(s string) (Clock, bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour < 1 || hour > 12 || minute > 59 {
		return Clock{}, false
	}
	return Clock{Hour: MeridiemHour(hour, m[3]), Minute: minute}, true
}

// MeridiemHour converts a 12-hour clock hour plus AM/PM into 24-hour form:
// PM hours other than 12 add 12, AM hour 12 becomes 0.
func MeridiemHour(hour int, period string) int {
	switch strings.ToUpper(period) {
	case "PM":
		if hour != 12 {
			return hour + 12
		}
		return 12
	case "AM":
		if hour == 12 {
			return 0
		}
		return hour
	default:
		return hour
	}
}

var shiftRangeRe = regexp.MustCompile(`(?i)(\d{1,2}:\d{2}(?:AM|PM))\s*[-\x{2013}\x{2014}]\s*(\d{1,2}:\d{2}(?:AM|PM))`)

// ParseShiftRange extracts a "H:MMAM/PM - H:MMAM/PM" range, accepting
// hyphen, en and em dashes as the separator.
func ParseShiftRange(s string) (start, end Clock, ok bool) {
	m := shiftRangeRe.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, Clock{}, false
	}
	start, sok := ParseClock(m[1])
	end, eok := ParseClock(m[2])
	if !sok || !eok {
		return Clock{}, Clock{}, false
	}
	return start, end, true
}

var (
	longDateRe  = regexp.MustCompile(`\w+,\s*(\w+)\s*(\d{1,2}),\s*(\d{4})`)
	shortDateRe = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)
)

// rolloverWindow is how far in the past a short "M/D" date may land before
// it is assumed to belong to the next year.
const rolloverWindow = 30 * 24 * time.Hour

// ResolveDate turns a date label into a calendar date (midnight in ref's
// location). Two textual shapes are accepted:
//
//   - long form: "Tue, Sep 16, 2025" (month may be abbreviated or full)
//   - short form: "9/16", with the year inferred from ref; if the result is
//     more than 30 days in the past it rolls forward one year, so schedules
//     spanning a year boundary resolve correctly.
//
// Any label that matches neither shape falls back to ref's own date. This
// function never fails.
func ResolveDate(label string, ref time.Time) time.Time {
	loc := ref.Location()

	if m := longDateRe.FindStringSubmatch(label); m != nil {
		if month, ok := parseMonthName(m[1]); ok {
			day, _ := strconv.Atoi(m[2])
			year, _ := strconv.Atoi(m[3])
			return time.Date(year, month, day, 0, 0, 0, 0, loc)
		}
	}

	if m := shortDateRe.FindStringSubmatch(label); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			d := time.Date(ref.Year(), time.Month(month), day, 0, 0, 0, 0, loc)
			if d.Before(ref) && ref.Sub(d) > rolloverWindow {
				d = d.AddDate(1, 0, 0)
			}
			return d
		}
	}

	return time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)
}

func parseMonthName(name string) (time.Month, bool) {
	for _, layout := range []string{"Jan", "January"} {
		if t, err := time.Parse(layout, name); err == nil {
			return t.Month(), true
		}
	}
	return 0, false
}

// CombineDateHour anchors an inferred hour on the given calendar date,
// zeroing minutes and seconds.
func CombineDateHour(date time.Time, hour int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), hour, 0, 0, 0, date.Location())
}

// CombineDateClock anchors a parsed clock time on the given calendar date.
func CombineDateClock(date time.Time, c Clock) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, 0, 0, date.Location())
}
