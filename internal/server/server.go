package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tierroute/tierroute/internal/backends"
	"github.com/tierroute/tierroute/internal/routing"
	"github.com/tierroute/tierroute/internal/state"
	"github.com/tierroute/tierroute/internal/tier"
)

// Server exposes the routing operations over HTTP. Read endpoints
// never mutate persisted state.
type Server struct {
	router     *routing.Router
	prober     *routing.Prober
	discoverer backends.Discoverer
	metrics    *state.MetricsStore
	cooldowns  *state.CooldownRegistry
	lock       *state.LockState
	creds      []string
	httpServer *http.Server
	config     *Config
	logger     *logrus.Logger
}

// Config holds server configuration.
type Config struct {
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	InvokeTimeout time.Duration // 0 leaves remote calls unbounded
}

// NewServer creates a server over the routing components.
func NewServer(router *routing.Router, prober *routing.Prober, discoverer backends.Discoverer,
	metrics *state.MetricsStore, cooldowns *state.CooldownRegistry, lock *state.LockState,
	creds []string, config *Config, logger *logrus.Logger) *Server {
	return &Server{
		router:     router,
		prober:     prober,
		discoverer: discoverer,
		metrics:    metrics,
		cooldowns:  cooldowns,
		lock:       lock,
		creds:      creds,
		config:     config,
		logger:     logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.Routes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting router server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping router server")
	return s.httpServer.Shutdown(ctx)
}

// Routes configures all HTTP routes.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/route", s.handleRoute).Methods("POST")
	api.HandleFunc("/probe", s.handleProbe).Methods("POST")
	api.HandleFunc("/tiers", s.handleTiers).Methods("GET")
	api.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	api.HandleFunc("/cooldowns", s.handleCooldowns).Methods("GET")
	api.HandleFunc("/lock", s.handleGetLock).Methods("GET")
	api.HandleFunc("/lock", s.handleSetLock).Methods("PUT")
	api.HandleFunc("/lock", s.handleUnlock).Methods("DELETE")

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	return r
}

type routeRequest struct {
	Prompt string `json:"prompt"`
}

type routeResponse struct {
	Model     string  `json:"model"`
	Latency   float64 `json:"latency"`
	MaxTokens int     `json:"max_tokens"`
	Response  string  `json:"response"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "request body must be JSON with a non-empty prompt")
		return
	}

	ctx := r.Context()
	if s.config.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.InvokeTimeout)
		defer cancel()
	}

	result, err := s.router.Route(ctx, req.Prompt)
	if err != nil {
		switch {
		case errors.Is(err, routing.ErrNoCredentials):
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
		case errors.Is(err, routing.ErrNoBackendAvailable):
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.WithError(err).Error("Routing failed")
			s.writeError(w, http.StatusInternalServerError, "routing failed")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, routeResponse{
		Model:     result.Backend,
		Latency:   result.Latency.Seconds(),
		MaxTokens: result.MaxTokens,
		Response:  result.Text,
	})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if len(s.creds) == 0 {
		s.writeError(w, http.StatusServiceUnavailable, routing.ErrNoCredentials.Error())
		return
	}

	ids, err := s.discoverer.ListBackends(r.Context(), s.creds[0])
	if err != nil {
		s.logger.WithError(err).Error("Backend discovery failed")
		s.writeError(w, http.StatusBadGateway, "backend discovery failed")
		return
	}

	if err := s.prober.ProbeAll(r.Context(), ids); err != nil {
		s.logger.WithError(err).Error("Probe run failed")
		s.writeError(w, http.StatusInternalServerError, "probe run failed")
		return
	}

	s.handleTiers(w, r)
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	stats, err := s.metrics.Snapshot()
	if err != nil {
		s.logger.WithError(err).Error("Loading metrics failed")
		s.writeError(w, http.StatusInternalServerError, "loading metrics failed")
		return
	}
	s.writeJSON(w, http.StatusOK, tier.Assign(stats))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.metrics.Load()
	if err != nil {
		s.logger.WithError(err).Error("Loading metrics failed")
		s.writeError(w, http.StatusInternalServerError, "loading metrics failed")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCooldowns(w http.ResponseWriter, r *http.Request) {
	cooldowns, err := s.cooldowns.Load()
	if err != nil {
		s.logger.WithError(err).Error("Loading cooldowns failed")
		s.writeError(w, http.StatusInternalServerError, "loading cooldowns failed")
		return
	}
	s.writeJSON(w, http.StatusOK, cooldowns)
}

type lockBody struct {
	Backend string `json:"backend"`
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	locked, ok, err := s.lock.Get()
	if err != nil {
		s.logger.WithError(err).Error("Loading lock failed")
		s.writeError(w, http.StatusInternalServerError, "loading lock failed")
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"lock": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"lock": locked})
}

func (s *Server) handleSetLock(w http.ResponseWriter, r *http.Request) {
	var body lockBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Backend == "" {
		s.writeError(w, http.StatusBadRequest, "request body must be JSON with a non-empty backend")
		return
	}

	if err := s.lock.Set(body.Backend); err != nil {
		s.logger.WithError(err).Error("Setting lock failed")
		s.writeError(w, http.StatusInternalServerError, "setting lock failed")
		return
	}

	s.logger.WithField("backend", body.Backend).Info("Routing locked")
	s.writeJSON(w, http.StatusOK, map[string]string{"lock": body.Backend})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.lock.Clear(); err != nil {
		s.logger.WithError(err).Error("Clearing lock failed")
		s.writeError(w, http.StatusInternalServerError, "clearing lock failed")
		return
	}

	s.logger.Info("Routing unlocked")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"lock": nil})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("Request handled")
	})
}
