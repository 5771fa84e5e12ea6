// Package webui implements the admin operations surface: a single
// /healthz JSON endpoint exposing per-worker last-tick timestamps, for
// external uptime monitoring. Grounded on the shape of the teacher's
// webui.Server (mux + http.Server lifecycle, CORS/auth middleware), but
// trimmed to this one endpoint — the teacher's dashboard/SPA is out of
// scope.
package webui

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// WorkerStatus reports the last time a named worker completed a tick.
type WorkerStatus struct {
	Name     string    `json:"name"`
	LastTick time.Time `json:"last_tick"`
	Healthy  bool      `json:"healthy"`
}

// healthResponse is the /healthz payload.
type healthResponse struct {
	Status  string         `json:"status"`
	Workers []WorkerStatus `json:"workers"`
}

// Server serves the health endpoint.
type Server struct {
	cfg    Config
	logger *slog.Logger
	server *http.Server

	mu         sync.Mutex
	lastTick   map[string]time.Time
	maxSilence map[string]time.Duration
}

// Config configures the health server.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`

	// AdminUser/AdminPasswordHash gate /healthz with HTTP Basic Auth when
	// both are non-empty. AdminPasswordHash is a bcrypt hash.
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// New constructs a health Server.
func New(cfg Config, logger *slog.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8090"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		logger:     logger.With("component", "webui"),
		lastTick:   make(map[string]time.Time),
		maxSilence: make(map[string]time.Duration),
	}
}

// RegisterWorker declares a worker name and the maximum silence before it
// is reported unhealthy (e.g. 2x its own tick interval).
func (s *Server) RegisterWorker(name string, maxSilence time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSilence[name] = maxSilence
}

// Touch records that the named worker completed a tick just now. Safe to
// call from any worker goroutine.
func (s *Server) Touch(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTick[name] = time.Now()
}

// Start begins serving /healthz. A no-op if the config disables the
// endpoint.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("webui disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.withAuth(s.handleHealthz))

	s.server = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	s.logger.Info("webui starting", "address", s.cfg.Address)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("webui server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
	s.logger.Info("webui stopped")
}

// withAuth enforces HTTP Basic Auth against the bcrypt-hashed admin
// password when one is configured; a no-op wrapper otherwise.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.AdminUser == "" || s.cfg.AdminPasswordHash == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		validUser := ok && subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.AdminUser)) == 1
		if !validUser || bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="companion admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	workers := make([]WorkerStatus, 0, len(s.maxSilence))
	allHealthy := true
	for name, max := range s.maxSilence {
		last := s.lastTick[name]
		healthy := !last.IsZero() && (max <= 0 || time.Since(last) <= max)
		if last.IsZero() && max <= 0 {
			// A worker with no silence bound and no tick yet is still starting up.
			healthy = true
		}
		if !healthy {
			allHealthy = false
		}
		workers = append(workers, WorkerStatus{Name: name, LastTick: last, Healthy: healthy})
	}
	s.mu.Unlock()

	status := "ok"
	code := http.StatusOK
	if !allHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(healthResponse{Status: status, Workers: workers})
}
