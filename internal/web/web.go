// Package web serves the planner's JSON API, a server-rendered day
// timeline and Prometheus metrics.
package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dayplanner/internal/config"
	appLog "dayplanner/internal/log"
	"dayplanner/internal/model"
	"dayplanner/internal/planner"
	"dayplanner/internal/reminder"
	"dayplanner/internal/store"
	"dayplanner/internal/timecoord"
)

// Planner is the application surface the handlers drive.
type Planner interface {
	Today() model.Date
	Day(ctx context.Context, date model.Date) (planner.DayView, error)
	Drop(ctx context.Context, eventID string, date model.Date, deltaY float64) (planner.DropResult, error)
	Reminders(ctx context.Context) ([]model.ReminderRecord, error)
	Reconcile(ctx context.Context) (reminder.Summary, error)
	HandleAction(ctx context.Context, actionID string, payload model.ReminderPayload) error
	Settings(ctx context.Context) (model.NotificationSettings, error)
	SetSettings(ctx context.Context, s model.NotificationSettings) (reminder.Summary, error)
}

//go:embed templates/*.tmpl
var templateFS embed.FS

var dayTemplate = template.Must(template.New("day.html.tmpl").Funcs(template.FuncMap{
	"px": func(v float64) template.CSS { return template.CSS(strconv.FormatFloat(v, 'f', 2, 64) + "px") },
	"pct": func(n, total int) template.CSS {
		if total <= 0 {
			total = 1
		}
		return template.CSS(strconv.FormatFloat(100*float64(n)/float64(total), 'f', 4, 64) + "%")
	},
	"hm": func(t timecoord.TimeOfDay) string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) },
}).ParseFS(templateFS, "templates/day.html.tmpl"))

// Server provides HTTP APIs over a Planner.
type Server struct {
	cfg     *config.Config
	planner Planner
	mux     *http.ServeMux
}

// NewServer registers every route. gatherer may be nil, in which case
// /metrics is not served.
func NewServer(cfg *config.Config, p Planner, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:     cfg,
		planner: p,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes(gatherer)
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
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="dayplanner", charset="UTF-8"`)
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

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/day", http.StatusFound)
	})
	s.mux.HandleFunc("GET /day", s.handleDayPage)
	s.mux.HandleFunc("GET /api/day", s.handleDay)
	s.mux.HandleFunc("POST /api/events/{id}/drop", s.handleDrop)
	s.mux.HandleFunc("GET /api/reminders", s.handleReminders)
	s.mux.HandleFunc("POST /api/reminders/action", s.handleAction)
	s.mux.HandleFunc("POST /api/reschedule", s.handleReschedule)
	s.mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/settings", s.handlePutSettings)

	if gatherer != nil && (s.cfg == nil || s.cfg.Metrics) {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) dateParam(r *http.Request) (model.Date, error) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return s.planner.Today(), nil
	}
	return model.ParseDate(v)
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.planner.Day(r.Context(), date)
	if err != nil {
		appLog.Error("api day failed", err, "date", date)
		writeError(w, http.StatusInternalServerError, "failed to build day view")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type hourLine struct {
	Top   float64
	Label string
}

func (s *Server) handleDayPage(w http.ResponseWriter, r *http.Request) {
	date, err := s.dateParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	view, err := s.planner.Day(r.Context(), date)
	if err != nil {
		appLog.Error("day page failed", err, "date", date)
		http.Error(w, "failed to build day view", http.StatusInternalServerError)
		return
	}

	hours := make([]hourLine, 0, 24)
	step := view.Height / 24
	for i := range 24 {
		t := timecoord.FromDayOffset(i * 60)
		hours = append(hours, hourLine{Top: float64(i) * step, Label: fmt.Sprintf("%02d:00", t.Hour)})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct {
		View  planner.DayView
		Hours []hourLine
	}{view, hours}
	if err := dayTemplate.Execute(w, data); err != nil {
		appLog.Error("day template failed", err)
	}
}

type dropRequest struct {
	Date   string  `json:"date"`
	DeltaY float64 `json:"delta_y"`
}

type dropResponse struct {
	Result planner.DropResult `json:"result"`
	Error  string             `json:"error,omitempty"`
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req dropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	date := s.planner.Today()
	if req.Date != "" {
		d, err := model.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		date = d
	}

	res, err := s.planner.Drop(r.Context(), id, date, req.DeltaY)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, dropResponse{Result: res})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, planner.ErrNotOnDay):
		writeError(w, http.StatusBadRequest, err.Error())
	case res.Kind != "":
		// The store rejected the commit; the card is back at res.Top.
		appLog.Warn("drop rejected", "event_id", id, "err", err)
		writeJSON(w, http.StatusConflict, dropResponse{Result: res, Error: err.Error()})
	default:
		appLog.Error("drop failed", err, "event_id", id)
		writeError(w, http.StatusInternalServerError, "failed to reschedule event")
	}
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	recs, err := s.planner.Reminders(r.Context())
	if err != nil {
		appLog.Error("list reminders failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}
	if recs == nil {
		recs = []model.ReminderRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type summaryResponse struct {
	Cancelled  int    `json:"cancelled"`
	Registered int    `json:"registered"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Duration   string `json:"duration"`
}

func toSummary(s reminder.Summary) summaryResponse {
	return summaryResponse{
		Cancelled:  s.Cancelled,
		Registered: s.Registered,
		Skipped:    s.Skipped,
		Failed:     s.Failed,
		Duration:   s.Duration.String(),
	}
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	sum, err := s.planner.Reconcile(r.Context())
	if err != nil {
		appLog.Error("reschedule failed", err)
		writeError(w, http.StatusInternalServerError, "failed to reschedule reminders")
		return
	}
	writeJSON(w, http.StatusOK, toSummary(sum))
}

type actionRequest struct {
	Action  string                `json:"action"`
	Payload model.ReminderPayload `json:"payload"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	err := s.planner.HandleAction(r.Context(), req.Action, req.Payload)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, reminder.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		appLog.Error("reminder action failed", err, "action", req.Action)
		writeError(w, http.StatusInternalServerError, "failed to apply action")
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.planner.Settings(r.Context())
	if err != nil {
		appLog.Error("read settings failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.NotificationSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if settings.MinutesBefore < 0 {
		writeError(w, http.StatusBadRequest, "minutes_before must not be negative")
		return
	}
	sum, err := s.planner.SetSettings(r.Context(), settings)
	if err != nil {
		appLog.Error("save settings failed", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, toSummary(sum))
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
