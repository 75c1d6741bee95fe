package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"shiftwatch/internal/alarm"
	"shiftwatch/internal/config"
	"shiftwatch/internal/extract"
	appLog "shiftwatch/internal/log"
	"shiftwatch/internal/scrape"
	"shiftwatch/internal/store"
)

// pipeline runs one extraction pass end to end: capture the page, infer
// the schedule, persist it, recompute alarms.
type pipeline struct {
	cfg       *config.Config
	store     *store.Store
	scheduler *alarm.Scheduler
	clk       clock.Clock
	loc       *time.Location
}

func newPipeline(cfg *config.Config, st *store.Store, sched *alarm.Scheduler, clk clock.Clock, loc *time.Location) *pipeline {
	return &pipeline{cfg: cfg, store: st, scheduler: sched, clk: clk, loc: loc}
}

// runOnce executes a single pass. The sequence number is claimed before
// the (slow) page capture so that a pass overtaken by a fresher one cannot
// overwrite its result.
func (p *pipeline) runOnce(ctx context.Context) error {
	seq, err := p.store.NextExtractionSeq()
	if err != nil {
		return err
	}
	appLog.Info("extraction pass starting", "seq", seq, "url", p.cfg.SourceURL)

	snap, err := scrape.CapturePage(ctx, scrape.Options{
		URL:     p.cfg.SourceURL,
		Settle:  time.Duration(p.cfg.SettleSeconds) * time.Second,
		Timeout: time.Duration(p.cfg.CaptureTimeoutSeconds) * time.Second,
	})
	if err != nil {
		appLog.Error("page capture failed", err, "seq", seq)
		return err
	}

	now := p.clk.Now().In(p.loc)
	sched := extract.BuildSchedule(snap, now)

	if err := p.store.SaveSchedule(seq, sched); err != nil {
		if errors.Is(err, store.ErrStaleExtraction) {
			appLog.Info("extraction pass superseded, dropping result", "seq", seq)
			return nil
		}
		return err
	}

	settings, err := p.store.Settings()
	if err != nil {
		return err
	}
	installed, err := p.scheduler.Apply(sched.Events, settings.AlertLeadMinutes)
	if err != nil {
		return err
	}

	appLog.Info("extraction pass complete",
		"seq", seq,
		"events", len(sched.Events),
		"alarms_set", installed,
		"source_date", sched.SourceDate.Format("2006-01-02"),
		"timezone", sched.TimezoneLabel,
	)
	return nil
}

// debouncer coalesces bursts of refresh triggers into a single run a fixed
// quiet period after the last trigger, so animated page re-renders and
// repeated button presses don't cause redundant passes.
type debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	quiet time.Duration
	run   func()
}

func newDebouncer(quiet time.Duration, run func()) *debouncer {
	return &debouncer{quiet: quiet, run: run}
}

// Trigger (re)arms the quiet-period timer.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.quiet, d.run)
}

// Stop cancels any pending run.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
