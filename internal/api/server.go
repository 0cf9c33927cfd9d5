package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wafshield/internal/api/web"
	"wafshield/internal/artifacts"
	"wafshield/internal/config"
	"wafshield/internal/engine"
	"wafshield/internal/metrics"
	"wafshield/internal/model"
	"wafshield/internal/render"
	"wafshield/internal/session"
)

const sessionHeader = "X-Session-ID"

type Scanner interface {
	session.Scorer
	Status() artifacts.Result
}

type Server struct {
	cfg      *config.Manager
	engine   Scanner
	sessions *session.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	version  string
	page     *template.Template
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	Artifacts  artifactsStatus `json:"artifacts"`
	Detection  detectionStatus `json:"detection"`
	Sessions   int             `json:"sessions"`
	System     render.Status   `json:"system"`
}

type artifactsStatus struct {
	Source string `json:"source"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

type detectionStatus struct {
	VolumeThreshold int64   `json:"volume_threshold"`
	RuleConfidence  float64 `json:"rule_confidence"`
}

type pageData struct {
	Version string
	Page    render.Page
}

func NewServer(cfg *config.Manager, eng Scanner, sessions *session.Store, metricsReg *metrics.Metrics, logger *slog.Logger, version string) (*Server, error) {
	if cfg == nil || eng == nil || sessions == nil {
		return nil, errors.New("api: config, engine and session store are required")
	}
	page, err := template.ParseFS(web.FS, "index.html")
	if err != nil {
		return nil, fmt.Errorf("parse page template: %w", err)
	}
	sessions.OnChange(metricsReg.SetSessions)
	return &Server{
		cfg:      cfg,
		engine:   eng,
		sessions: sessions,
		metrics:  metricsReg,
		logger:   logger,
		version:  version,
		page:     page,
	}, nil
}

func (s *Server) Handler() http.Handler {
	cfg := s.cfg.Get()
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/scan", s.handleFormScan)
	mux.HandleFunc("/reset", s.handleFormReset)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/session/scan", s.handleSessionScan)
	mux.HandleFunc("/api/session/reset", s.handleSessionReset)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, s.metrics.Handler())
	}
	staticFS, err := fs.Sub(web.FS, ".")
	if err == nil {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	}
	return mux
}

func Start(ctx context.Context, srv *Server) *http.Server {
	current := srv.cfg.Get().API
	if !current.Enabled {
		if srv.logger != nil {
			srv.logger.Info("api disabled")
		}
		return nil
	}
	if srv.logger != nil {
		srv.logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if srv.logger != nil {
				srv.logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) available() bool {
	return s.engine.Status().State != artifacts.StateAbsent
}

// session resolves the caller's session from the header or cookie and
// creates one when neither names a live session.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *session.State {
	id := strings.TrimSpace(r.Header.Get(sessionHeader))
	cookieName := s.cfg.Get().Session.CookieName
	if id == "" {
		if c, err := r.Cookie(cookieName); err == nil {
			id = c.Value
		}
	}
	st, created := s.sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     cookieName,
			Value:    st.ID(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set(sessionHeader, st.ID())
	return st
}

func (s *Server) pageFor(st *session.State) render.Page {
	return render.FromSnapshot(st.Snapshot(), s.available())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := s.session(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, pageData{Version: s.version, Page: s.pageFor(st)}); err != nil && s.logger != nil {
		s.logger.Error("render page", "err", err)
	}
}

func (s *Server) handleFormScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := s.session(w, r)
	if err := r.ParseForm(); err != nil {
		st.SetError("Error: " + err.Error())
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	sample, err := sampleFromForm(r, st.Snapshot().Inputs)
	if err != nil {
		st.SetError("Error: " + err.Error())
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := st.SetAndScan(r.Context(), sample, s.engine); err != nil {
		s.logScanError(st, err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleFormReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.session(w, r).Reset()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.pageFor(s.session(w, r)))
}

func (s *Server) handleSessionScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := s.session(w, r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var scanErr error
	if len(strings.TrimSpace(string(body))) == 0 {
		scanErr = st.Scan(r.Context(), s.engine)
	} else {
		in := st.Snapshot().Inputs
		if err := json.Unmarshal(body, &in); err != nil {
			st.SetError("Error: " + err.Error())
			writeJSON(w, http.StatusBadRequest, s.pageFor(st))
			return
		}
		scanErr = st.SetAndScan(r.Context(), in, s.engine)
	}
	if scanErr != nil {
		s.logScanError(st, scanErr)
	}
	writeJSON(w, scanStatus(scanErr), s.pageFor(st))
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := s.session(w, r)
	st.Reset()
	writeJSON(w, http.StatusOK, s.pageFor(st))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	res := s.engine.Status()
	art := artifactsStatus{Source: cfg.Artifacts.Source, State: res.State.String()}
	if res.Err != nil {
		art.Error = res.Err.Error()
	}
	rule := engine.RuleFromConfig(cfg.Detection)
	writeJSON(w, http.StatusOK, statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Artifacts:  art,
		Detection: detectionStatus{
			VolumeThreshold: rule.VolumeThreshold,
			RuleConfidence:  rule.Confidence,
		},
		Sessions: s.sessions.Len(),
		System:   render.SystemStatus(s.available()),
	})
}

func (s *Server) logScanError(st *session.State, err error) {
	if s.logger == nil {
		return
	}
	if errors.Is(err, engine.ErrUnavailable) {
		s.logger.Debug("scan skipped, scoring unavailable", "session", st.ID())
		return
	}
	s.logger.Warn("scan failed", "session", st.ID(), "err", err)
}

func scanStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, engine.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrInvalidSample):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sampleFromForm reads the four numeric fields; absent fields keep their current value.
func sampleFromForm(r *http.Request, current model.TrafficSample) (model.TrafficSample, error) {
	out := current
	fields := []struct {
		key string
		dst *int64
	}{
		{"bytes_in", &out.BytesIn},
		{"bytes_out", &out.BytesOut},
		{"dst_port", &out.DstPort},
		{"time_taken", &out.TimeTaken},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(r.PostForm.Get(f.key))
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return current, fmt.Errorf("%s must be a whole number", f.key)
		}
		if n < 0 {
			return current, fmt.Errorf("%s must be >= 0", f.key)
		}
		*f.dst = n
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
