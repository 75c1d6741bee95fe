package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"shiftwatch/internal/model"
)

// ErrStaleExtraction is returned when a pass tries to persist a schedule
// whose sequence number is older than the one already stored. A slow pass
// must never overwrite the result of a fresher one.
var ErrStaleExtraction = errors.New("store: stale extraction sequence")

// Store is the single durable record shared by all components: the current
// schedule, the alarm-resolution cache and the user settings. Every access
// goes through it; no component holds an in-memory copy across reactions.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at dbPath and
// bootstraps the schema. Settings are seeded with defaults on first run.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS schedule_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			seq INTEGER NOT NULL,
			payload TEXT NOT NULL,
			extracted_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alarm_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			payload TEXT NOT NULL,
			lead_minutes INTEGER NOT NULL,
			alarms_set INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			alert_lead_minutes INTEGER NOT NULL,
			notifications_enabled INTEGER NOT NULL,
			auto_refresh_enabled INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS extraction_seq (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			value INTEGER NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: create schema: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.seedDefaults(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) seedDefaults() error {
	def := model.DefaultSettings()
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO settings (id, alert_lead_minutes, notifications_enabled, auto_refresh_enabled)
		VALUES (1, ?, ?, ?)`,
		def.AlertLeadMinutes, boolInt(def.NotificationsEnabled), boolInt(def.AutoRefreshEnabled))
	if err != nil {
		return fmt.Errorf("store: seed settings: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR IGNORE INTO extraction_seq (id, value) VALUES (1, 0)`)
	if err != nil {
		return fmt.Errorf("store: seed extraction seq: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NextExtractionSeq claims the next extraction sequence number. A pass
// claims its number before scraping; SaveSchedule later rejects the write
// if a higher-numbered pass has already completed.
func (s *Store) NextExtractionSeq() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRow(`SELECT value FROM extraction_seq WHERE id = 1`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("store: read extraction seq: %w", err)
	}
	seq++
	if _, err := tx.Exec(`UPDATE extraction_seq SET value = ? WHERE id = 1`, seq); err != nil {
		return 0, fmt.Errorf("store: bump extraction seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return seq, nil
}

// SaveSchedule persists the schedule produced by the pass holding seq,
// fully replacing the previous record. Returns ErrStaleExtraction when a
// fresher pass has already saved.
func (s *Store) SaveSchedule(seq int64, sched model.Schedule) error {
	payload, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("store: marshal schedule: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRow(`SELECT seq FROM schedule_state WHERE id = 1`).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first save
	case err != nil:
		return fmt.Errorf("store: read schedule seq: %w", err)
	case seq < current:
		return ErrStaleExtraction
	}

	_, err = tx.Exec(`
		INSERT INTO schedule_state (id, seq, payload, extracted_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET seq = excluded.seq, payload = excluded.payload, extracted_at = excluded.extracted_at`,
		seq, string(payload), sched.ExtractedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: save schedule: %w", err)
	}
	return tx.Commit()
}

// Schedule returns the current schedule and its extraction timestamp.
// ok is false when no extraction has been persisted yet.
func (s *Store) Schedule() (sched model.Schedule, extractedAt time.Time, ok bool, err error) {
	var payload string
	var ts int64
	err = s.db.QueryRow(`SELECT payload, extracted_at FROM schedule_state WHERE id = 1`).Scan(&payload, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, time.Time{}, false, nil
	}
	if err != nil {
		return model.Schedule{}, time.Time{}, false, fmt.Errorf("store: read schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &sched); err != nil {
		return model.Schedule{}, time.Time{}, false, fmt.Errorf("store: unmarshal schedule: %w", err)
	}
	return sched, time.Unix(ts, 0), true, nil
}

// SaveAlarmState persists the alarm-resolution cache: the exact event list
// alarms were derived from, the lead minutes used, and how many alarms were
// installed. The dispatcher reads this to map a fired alarm back to its
// event by index.
func (s *Store) SaveAlarmState(events []model.Event, leadMinutes, alarmsSet int) error {
	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("store: marshal alarm events: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO alarm_state (id, payload, lead_minutes, alarms_set, updated_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, lead_minutes = excluded.lead_minutes,
			alarms_set = excluded.alarms_set, updated_at = excluded.updated_at`,
		string(payload), leadMinutes, alarmsSet, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: save alarm state: %w", err)
	}
	return nil
}

// AlarmState returns the alarm-resolution cache. ok is false when no alarms
// have ever been installed.
func (s *Store) AlarmState() (events []model.Event, leadMinutes int, ok bool, err error) {
	var payload string
	err = s.db.QueryRow(`SELECT payload, lead_minutes FROM alarm_state WHERE id = 1`).Scan(&payload, &leadMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("store: read alarm state: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &events); err != nil {
		return nil, 0, false, fmt.Errorf("store: unmarshal alarm events: %w", err)
	}
	return events, leadMinutes, true, nil
}

// Settings returns the persisted user settings.
func (s *Store) Settings() (model.Settings, error) {
	var set model.Settings
	var notif, auto int
	err := s.db.QueryRow(`
		SELECT alert_lead_minutes, notifications_enabled, auto_refresh_enabled
		FROM settings WHERE id = 1`).Scan(&set.AlertLeadMinutes, &notif, &auto)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.Settings{}, fmt.Errorf("store: read settings: %w", err)
	}
	set.NotificationsEnabled = notif != 0
	set.AutoRefreshEnabled = auto != 0
	return set, nil
}

// SaveSettings validates and persists user settings; nothing is written
// when validation fails.
func (s *Store) SaveSettings(set model.Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO settings (id, alert_lead_minutes, notifications_enabled, auto_refresh_enabled) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET alert_lead_minutes = excluded.alert_lead_minutes,
			notifications_enabled = excluded.notifications_enabled,
			auto_refresh_enabled = excluded.auto_refresh_enabled`,
		set.AlertLeadMinutes, boolInt(set.NotificationsEnabled), boolInt(set.AutoRefreshEnabled))
	if err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
