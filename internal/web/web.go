package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"shiftwatch/internal/alarm"
	"shiftwatch/internal/config"
	"shiftwatch/internal/extract"
	icsexport "shiftwatch/internal/ics"
	appLog "shiftwatch/internal/log"
	"shiftwatch/internal/model"
	"shiftwatch/internal/store"
)

// Server is the control surface: it exposes the persisted schedule and
// alarm state, accepts settings edits, and triggers re-extraction and
// alarm recomputation on demand. It holds no inference logic of its own.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	scheduler *alarm.Scheduler
	engine    *alarm.Engine
	refresh   func()
	mux       *http.ServeMux
}

// NewServer constructs a new Server. refresh is the (debounced) trigger
// for an extraction pass.
func NewServer(cfg *config.Config, st *store.Store, sched *alarm.Scheduler, engine *alarm.Engine, refresh func()) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		engine:    engine,
		refresh:   refresh,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health is always exposed without auth.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="shiftwatch", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/schedule", s.handleSchedule)
	s.mux.HandleFunc("/api/schedule.ics", s.handleScheduleICS)
	s.mux.HandleFunc("/api/alarms", s.handleAlarms)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// scheduleResponse is the JSON shape for GET /api/schedule.
type scheduleResponse struct {
	Schedule       *model.Schedule `json:"schedule,omitempty"`
	LastExtraction *time.Time      `json:"last_extraction,omitempty"`
	Status         string          `json:"status"`
}

// scheduleUpdateRequest carries an externally supplied schedule straight
// into alarm recomputation, mirroring the schedule-update message the
// extractor sends internally.
type scheduleUpdateRequest struct {
	Schedule  []model.Event `json:"schedule"`
	Timezone  string        `json:"timezone"`
	AlertTime int           `json:"alertTime"`
}

// scheduleUpdateResponse is the reply for POST /api/schedule.
type scheduleUpdateResponse struct {
	Status    string `json:"status"`
	AlarmsSet int    `json:"alarmsSet"`
	Message   string `json:"message"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleScheduleGet(w, r)
	case http.MethodPost:
		s.handleScheduleUpdate(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleScheduleGet(w http.ResponseWriter, _ *http.Request) {
	sched, extractedAt, ok, err := s.store.Schedule()
	if err != nil {
		appLog.Error("api schedule: read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read schedule")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, scheduleResponse{Status: "warning"})
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse{
		Schedule:       &sched,
		LastExtraction: &extractedAt,
		Status:         "success",
	})
}

func (s *Server) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	var req scheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lead := req.AlertTime
	if lead == 0 {
		settings, err := s.store.Settings()
		if err != nil {
			appLog.Error("api schedule update: read settings", err)
			writeError(w, http.StatusInternalServerError, "failed to read settings")
			return
		}
		lead = settings.AlertLeadMinutes
	}
	if lead < 1 || lead > 60 {
		writeError(w, http.StatusBadRequest, "alert time must be between 1 and 60 minutes")
		return
	}

	events := req.Schedule
	extract.SortEvents(events)

	set, err := s.scheduler.Apply(events, lead)
	if err != nil {
		appLog.Error("api schedule update: apply failed", err)
		writeError(w, http.StatusInternalServerError, "failed to install alarms")
		return
	}

	writeJSON(w, http.StatusOK, scheduleUpdateResponse{
		Status:    "success",
		AlarmsSet: set,
		Message:   formatAlarmsSet(set),
	})
}

func (s *Server) handleScheduleICS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sched, _, ok, err := s.store.Schedule()
	if err != nil {
		appLog.Error("api schedule.ics: read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read schedule")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no schedule extracted yet")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="shiftwatch.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(icsexport.Export(sched)))
}

// alarmView is one pending alarm as listed by the API: the raw identity
// plus the event name with the index suffix stripped.
type alarmView struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	FireAt      time.Time `json:"scheduledTime"`
}

// alarmsResponse is the JSON shape for GET /api/alarms.
type alarmsResponse struct {
	ActiveAlarms int         `json:"activeAlarms"`
	Alarms       []alarmView `json:"alarms"`
}

func (s *Server) handleAlarms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pending := s.engine.Pending()
		views := make([]alarmView, 0, len(pending))
		for _, a := range pending {
			views = append(views, alarmView{
				Name:        a.Name,
				DisplayName: model.AlarmDisplayName(a.Name),
				FireAt:      a.FireAt,
			})
		}
		writeJSON(w, http.StatusOK, alarmsResponse{
			ActiveAlarms: len(pending),
			Alarms:       views,
		})
	case http.MethodDelete:
		cleared := s.engine.ClearAll()
		appLog.Info("all alarms cleared via API", "cleared", cleared)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"cleared": cleared,
			"message": "All alarms cleared",
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not available")
		return
	}

	s.refresh()
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "Schedule refresh initiated",
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.store.Settings()
		if err != nil {
			appLog.Error("api settings: read failed", err)
			writeError(w, http.StatusInternalServerError, "failed to read settings")
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		s.handleSettingsSave(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSettingsSave(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Please enter a valid alert time (1-60 minutes)")
		return
	}
	if err := s.store.SaveSettings(settings); err != nil {
		appLog.Error("api settings: save failed", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	// Recompute alarms with the new lead time if any were ever installed.
	events, _, ok, err := s.store.AlarmState()
	if err != nil {
		appLog.Error("api settings: read alarm cache", err)
	} else if ok {
		if _, err := s.scheduler.Apply(events, settings.AlertLeadMinutes); err != nil {
			appLog.Error("api settings: alarm recompute failed", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Settings saved successfully!",
	})
}

// StartServer runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func StartServer(ctx context.Context, s *Server) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func formatAlarmsSet(n int) string {
	if n == 1 {
		return "1 alarm set successfully."
	}
	return strconv.Itoa(n) + " alarms set successfully."
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
