package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"

	"shiftwatch/internal/alarm"
	"shiftwatch/internal/config"
	appLog "shiftwatch/internal/log"
	"shiftwatch/internal/notify"
	"shiftwatch/internal/store"
	"shiftwatch/internal/web"
)

// sweepInterval is how often past-due pending alarms are garbage-collected.
const sweepInterval = 60 * time.Minute

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dump       bool
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("shiftwatch starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"source_url", conf.SourceURL,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"db_path", conf.DBPath,
		"telegram", conf.Telegram != nil,
		"once", flags.once,
	)

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
		loc = time.Local
	}

	st, err := store.Open(conf.DBPath)
	if err != nil {
		appLog.Error("failed to open store", err, "db_path", conf.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	clk := clock.New()
	engine := alarm.NewEngine(clk, 16)
	scheduler := alarm.NewScheduler(engine, st, clk)
	pipe := newPipeline(conf, st, scheduler, clk, loc)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		if err := runSingleShot(ctx, pipe, st, flags.dump); err != nil {
			appLog.Error("single-shot pass failed", err)
			os.Exit(1)
		}
		return
	}

	engine.Start()
	defer engine.Stop()

	notifiers := buildNotifiers(conf)
	dispatcher := notify.NewDispatcher(engine, st, clk, notifiers...)
	dispatcher.Run(ctx)

	// Re-populate alarms from the persisted cache, so reminders survive a
	// process restart.
	if restored, err := scheduler.Restore(); err != nil {
		appLog.Error("failed to restore alarms", err)
	} else if restored > 0 {
		appLog.Info("alarms restored from previous run", "restored", restored)
	}

	refresh := newDebouncer(time.Duration(conf.DebounceSeconds)*time.Second, func() {
		if err := pipe.runOnce(ctx); err != nil {
			appLog.Error("extraction pass failed", err)
		}
	})
	defer refresh.Stop()

	// Periodic jobs: auto-refresh per config cron (gated on the stored
	// toggle), stale-alarm sweep on a fixed interval.
	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		settings, err := st.Settings()
		if err != nil {
			appLog.Error("cron refresh: read settings", err)
			return
		}
		if !settings.AutoRefreshEnabled {
			appLog.Debug("auto-refresh disabled, skipping cron pass")
			return
		}
		refresh.Trigger()
	}); err != nil {
		appLog.Error("invalid refresh cron expression", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", sweepInterval), func() {
		dispatcher.Sweep()
	}); err != nil {
		appLog.Error("failed to register sweep job", err)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	// First pass shortly after startup.
	refresh.Trigger()

	server := web.NewServer(conf, st, scheduler, engine, refresh.Trigger)
	if err := web.StartServer(ctx, server); err != nil {
		appLog.Error("HTTP server failed", err)
		cancel()
	}

	<-ctx.Done()
	appLog.Info("shiftwatch exiting")
}

// runSingleShot performs one extraction pass and optionally dumps the
// resulting schedule as JSON on stdout.
func runSingleShot(ctx context.Context, pipe *pipeline, st *store.Store, dump bool) error {
	if err := pipe.runOnce(ctx); err != nil {
		return err
	}
	if !dump {
		return nil
	}
	sched, _, ok, err := st.Schedule()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no schedule persisted after pass")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sched)
}

func buildNotifiers(conf *config.Config) []notify.Notifier {
	notifiers := []notify.Notifier{notify.LogNotifier{}}

	if conf.Telegram != nil && conf.Telegram.Token != "" && conf.Telegram.ChatID != 0 {
		tn, err := notify.NewTelegramNotifier(conf.Telegram.Token, conf.Telegram.ChatID)
		if err != nil {
			appLog.Error("telegram notifier unavailable", err)
		} else {
			appLog.Info("telegram notifier enabled", "chat_id", conf.Telegram.ChatID)
			notifiers = append(notifiers, tn)
		}
	}
	return notifiers
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/shiftwatch/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one extraction pass and exit")
	flag.BoolVar(&cfg.dump, "dump", false, "With -once, print the extracted schedule as JSON")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
