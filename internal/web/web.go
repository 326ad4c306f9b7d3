package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sleepcal/internal/config"
	"sleepcal/internal/healthstore"
	"sleepcal/internal/ics"
	appLog "sleepcal/internal/log"
	"sleepcal/internal/metrics"
	"sleepcal/internal/schedule"
	"sleepcal/internal/settings"
	"sleepcal/internal/syncer"
)

// Passer runs and exposes sync passes.
type Passer interface {
	RunPass(ctx context.Context) (syncer.Outcome, error)
	Current() *syncer.Result
}

// CalendarLister lists the calendars rules may reference.
type CalendarLister interface {
	Calendars() []ics.CalendarInfo
}

// SampleLister reads back mirrored sleep samples.
type SampleLister interface {
	Samples(ctx context.Context, from, to time.Time) ([]healthstore.StoredSample, error)
}

type Deps struct {
	Config    *config.Config
	Syncer    Passer
	Calendars CalendarLister
	Settings  settings.Repository
	// Samples is optional; /api/samples answers 404 without it.
	Samples SampleLister
	// OnSettingsSaved runs after a successful PUT /api/settings.
	OnSettingsSaved func(settings.Settings) error
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server provides the HTTP API.
type Server struct {
	deps   Deps
	router chi.Router
}

func NewServer(d Deps) *Server {
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Server{deps: d, router: chi.NewRouter()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on cfg.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.deps.Config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.deps.Config.Listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(requestLogger)
	if s.basicAuthEnabled() {
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/sleep.ics", s.handleFeed)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schedule", s.handleSchedule)
		r.Post("/sync", s.handleSync)
		r.Get("/calendars", s.handleCalendars)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/samples", s.handleSamples)
	})
}

func (s *Server) basicAuthEnabled() bool {
	cfg := s.deps.Config
	if cfg == nil || cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	return cfg.BasicAuth.Username != "" && cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects every route except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.deps.Config.BasicAuth.Username
	password := s.deps.Config.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="sleepcal", charset="UTF-8"`)
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

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(), "request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSchedule returns the last published schedule. ?adjusted=1 keeps
// only nights with an adjustment.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Syncer.Current()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no schedule computed yet")
		return
	}
	if adjusted, _ := strconv.ParseBool(r.URL.Query().Get("adjusted")); adjusted {
		filtered := *res
		filtered.Nights = res.Adjusted()
		res = &filtered
	}
	writeJSON(w, http.StatusOK, res)
}

type syncResponse struct {
	Skipped   bool           `json:"skipped"`
	Result    *syncer.Result `json:"result,omitempty"`
	SinkError string         `json:"sink_error,omitempty"`
}

// handleSync runs a pass synchronously. The pass is detached from the
// request so a disconnecting client does not abort it halfway.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Minute)
	defer cancel()

	out, err := s.deps.Syncer.RunPass(ctx)
	switch {
	case errors.Is(err, syncer.ErrPassInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp := syncResponse{Skipped: out.Skipped, Result: out.Result}
	if out.SinkErr != nil {
		resp.SinkError = out.SinkErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Calendars.Calendars())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Settings.Load(r.Context())
	if err != nil {
		appLog.Error("load settings failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var st settings.Settings
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := s.deps.Settings.Save(r.Context(), st); err != nil {
		if errors.Is(err, settings.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		appLog.Error("save settings failed", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	saved, err := s.deps.Settings.Load(r.Context())
	if err != nil {
		appLog.Error("reload settings failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	if s.deps.OnSettingsSaved != nil {
		if err := s.deps.OnSettingsSaved(saved); err != nil {
			appLog.Error("apply settings failed", err)
		}
	}
	appLog.Info("settings updated", "mode", saved.Mode, "rules", len(saved.Rules), "filters", len(saved.Filters))
	writeJSON(w, http.StatusOK, saved)
}

// handleFeed serves the last published schedule as an iCalendar feed.
func (s *Server) handleFeed(w http.ResponseWriter, _ *http.Request) {
	res := s.deps.Syncer.Current()
	if res == nil {
		writeError(w, http.StatusServiceUnavailable, "no schedule computed yet")
		return
	}
	samples, _, _, _ := schedule.Samples(res.Nights)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ics.RenderSleepFeed(samples, res.SyncedAt))
}

// handleSamples lists stored sleep samples. from/to are YYYY-MM-DD in the
// server zone and default to one week back and a month ahead.
func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if s.deps.Samples == nil {
		writeError(w, http.StatusNotFound, "sample store not configured")
		return
	}

	today := schedule.StartOfDay(s.deps.Now())
	from, err := parseDateDefault(r.URL.Query().Get("from"), today.AddDate(0, 0, -7), today.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := parseDateDefault(r.URL.Query().Get("to"), today.AddDate(0, 0, 31), today.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "to must be after from")
		return
	}

	samples, err := s.deps.Samples.Samples(r.Context(), from, to)
	if err != nil {
		appLog.Error("list samples failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list samples")
		return
	}
	writeJSON(w, http.StatusOK, samples)
}

func parseDateDefault(v string, def time.Time, loc *time.Location) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	return time.ParseInLocation("2006-01-02", v, loc)
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
