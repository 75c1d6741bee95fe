package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	appLog "shiftwatch/internal/log"
)

// Default capture parameters. The viewport is wide enough that the whole
// hour axis of the schedule timeline fits without horizontal scrolling;
// pixel offsets of hour markers are only meaningful within one viewport.
const (
	DefaultWidth      = 1920
	DefaultHeight     = 1080
	DefaultTimeoutSec = 30
	DefaultSettle     = 2 * time.Second
)

// PositionedText is a text fragment with its horizontal offset on the page.
type PositionedText struct {
	Text string  `json:"text"`
	Left float64 `json:"left"`
}

// Snapshot is the raw, schema-less harvest of one page load. Every bucket
// is optional: the page is an external, uncontrolled layout, and extraction
// degrades per-bucket instead of failing when selectors stop matching.
type Snapshot struct {
	// TimezoneLabels are candidate timezone texts, best first.
	TimezoneLabels []string `json:"timezone_labels"`

	// DateLabels are candidate date texts ("Tue, Sep 16, 2025" or "9/16").
	DateLabels []string `json:"date_labels"`

	// HourMarkers are the hour-axis cells in document order; index position
	// equals hour-of-day.
	HourMarkers []PositionedText `json:"hour_markers"`

	// EventBlocks are the text spans found inside timeline event blocks.
	EventBlocks []PositionedText `json:"event_blocks"`

	// TimeBadges are the span texts of each explicit time badge, one inner
	// slice per badge (typically a digit span plus an AM/PM span).
	TimeBadges [][]string `json:"time_badges"`

	// TooltipTexts are tooltip contents, which may carry shift ranges like
	// "9:00AM - 5:00PM".
	TooltipTexts []string `json:"tooltip_texts"`
}

// Options defines parameters for a Chromium-based page snapshot.
type Options struct {
	// URL of the schedule page.
	URL string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Settle is an extra delay after load before collecting, to let
	// dynamic content finish rendering. If zero, DefaultSettle is used.
	Settle time.Duration

	// Timeout bounds the entire capture operation. If zero, a sane default
	// (DefaultTimeoutSec) is used.
	Timeout time.Duration
}

// collectorJS runs inside the page and gathers text plus bounding geometry
// for every element class the extractor knows how to interpret. Selectors
// are a best-effort match for the current page markup plus loose
// [class*=...] fallbacks for when the hashed class names rotate.
const collectorJS = `(() => {
	const texts = (sel) => Array.from(document.querySelectorAll(sel))
		.map((el) => el.textContent.trim())
		.filter((t) => t.length > 0);
	const positioned = (sel) => Array.from(document.querySelectorAll(sel))
		.map((el) => {
			const r = el.getBoundingClientRect();
			return { text: el.textContent.trim(), left: r.left };
		});

	const blocks = [];
	for (const block of document.querySelectorAll('.events-timeline-block, [class*="events-timeline"]')) {
		for (const span of block.querySelectorAll('span')) {
			const r = span.getBoundingClientRect();
			blocks.push({ text: span.textContent.trim(), left: r.left });
		}
	}

	const badges = Array.from(document.querySelectorAll('button[class*="_container_ltufp"], ._container_ltufp'))
		.map((btn) => Array.from(btn.querySelectorAll('span')).map((s) => s.textContent.trim()));

	return {
		timezone_labels: texts('._timezoneLong_FfWSu, [class*="timezone"], [class*="TimeZone"]'),
		date_labels: texts('._container_FInZ0._standardRow_JBvQE ._label_xYwxd, ._labelBackground_DSj1x, [class*="DatePicker"]'),
		hour_markers: positioned('.hours-timeline-cell, [class*="hours-timeline"]'),
		event_blocks: blocks,
		time_badges: badges,
		tooltip_texts: texts('[class*="Tooltip"], [data-testid*="Tooltip"]'),
	};
})()`

// CapturePage launches a headless Chromium instance via chromedp, navigates
// to opts.URL, waits for the body plus the settle delay, and evaluates the
// collector script to harvest a Snapshot.
//
// A missing element never fails the capture; the corresponding bucket just
// comes back empty and the extractor degrades accordingly.
func CapturePage(parentCtx context.Context, opts Options) (Snapshot, error) {
	var snap Snapshot

	if opts.URL == "" {
		return snap, fmt.Errorf("scrape: URL is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	// Create a new chromedp context.
	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	// Apply timeout to the entire capture sequence.
	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
		// Let dynamic content render before harvesting geometry.
		chromedp.Sleep(opts.Settle),
		chromedp.Evaluate(collectorJS, &snap),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return Snapshot{}, fmt.Errorf("scrape: chromedp run failed: %w", err)
	}

	appLog.Debug("page snapshot collected",
		"hour_markers", len(snap.HourMarkers),
		"event_blocks", len(snap.EventBlocks),
		"time_badges", len(snap.TimeBadges),
		"tooltips", len(snap.TooltipTexts),
	)

	return snap, nil
}
