// Package web provides the HTTP status page and control API of the thermostat daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/smart-thermostat/internal/control"
	"github.com/sweeney/smart-thermostat/internal/status"
	"github.com/sweeney/smart-thermostat/internal/thermostat"
)

// Dispatcher hands requests to the run loop and waits for the result.
type Dispatcher interface {
	Submit(ctx context.Context, req thermostat.Request) error
}

// Server serves the status page, metrics and control API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	dispatch   Dispatcher
	accessLog  io.WriteCloser
}

// New creates a Server reading state from tracker and sending changes to d.
// A nil gatherer disables /metrics.
func New(addr string, tracker *status.Tracker, d Dispatcher, g prometheus.Gatherer) *Server {
	s := &Server{
		tracker:   tracker,
		dispatch:  d,
		accessLog: log.StandardLogger().WriterLevel(log.DebugLevel),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if g != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/target", s.handleTarget).Methods(http.MethodPost)
	api.HandleFunc("/mode", s.handleMode).Methods(http.MethodPost)
	api.HandleFunc("/controllers/{name}/pid", s.handleGains).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handlers.LoggingHandler(s.accessLog, r),
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.accessLog.Close()
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.tracker.Snapshot()); err != nil {
		log.WithError(err).Warn("web: render index")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mqtt_connected": snap.MQTTConnected,
	})
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target *float64 `json:"target"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Target == nil {
		writeError(w, http.StatusBadRequest, errors.New("target is required"))
		return
	}
	s.submit(w, r, thermostat.Request{Kind: thermostat.RequestTarget, Value: *body.Target})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"hvac_mode"`
	}
	if !decode(w, r, &body) {
		return
	}
	m, err := control.ParseHVACMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.submit(w, r, thermostat.Request{Kind: thermostat.RequestHVACMode, Mode: m})
}

func (s *Server) handleGains(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kp *float64 `json:"kp"`
		Ki *float64 `json:"ki"`
		Kd *float64 `json:"kd"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.Kp == nil || body.Ki == nil || body.Kd == nil {
		writeError(w, http.StatusBadRequest, errors.New("kp, ki and kd are required"))
		return
	}
	s.submit(w, r, thermostat.Request{
		Kind:       thermostat.RequestGains,
		Controller: mux.Vars(r)["name"],
		Gains:      &control.Gains{Kp: *body.Kp, Ki: *body.Ki, Kd: *body.Kd},
	})
}

// submit forwards req to the run loop and answers with the resulting status.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, req thermostat.Request) {
	if err := s.dispatch.Submit(r.Context(), req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, thermostat.ErrUnknownController), errors.Is(err, thermostat.ErrUnknownActuator):
		return http.StatusNotFound
	case errors.Is(err, thermostat.ErrNotPID):
		return http.StatusConflict
	case errors.Is(err, thermostat.ErrInvalidTemperature),
		errors.Is(err, control.ErrUnsupportedHVACMode),
		errors.Is(err, control.ErrNilGains),
		errors.Is(err, control.ErrInvalidGains):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
