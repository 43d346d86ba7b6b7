// Package api serves the user administration REST API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"useradmin/internal/keystore"
	"useradmin/internal/logging"
	"useradmin/internal/metrics"
	"useradmin/internal/ratelimit"
	"useradmin/internal/user"
)

var log = logging.For("api")

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	maxBodyBytes           = 32 << 20
)

type Config struct {
	Listen          string
	CORSOrigins     []string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// WriteRateLimit is the per client IP limit on mutating requests per
	// second. Zero disables it.
	WriteRateLimit float64
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Users    *user.Service
	Keys     *keystore.KeyStore
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

type Server struct {
	cfg     Config
	deps    Deps
	handler http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	stopped    chan struct{}
	addr       string
}

func New(cfg Config, deps Deps) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, deps: deps}
	s.handler = s.buildHandler()
	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("GET /users", s.handleListUsers)
	mux.HandleFunc("GET /users/stats", s.handleStats)
	mux.HandleFunc("GET /users/chart", s.handleChart)
	mux.HandleFunc("GET /users/export", s.handleExport)
	mux.HandleFunc("POST /users/verify", s.handleVerify)
	mux.HandleFunc("POST /users/verify-export", s.handleVerifyExport)
	mux.HandleFunc("POST /users/import", s.handleImport)
	mux.HandleFunc("GET /users/{id}", s.handleGetUser)
	mux.HandleFunc("GET /users/{id}/verify", s.handleVerifyUser)
	mux.HandleFunc("PUT /users/{id}", s.handleUpdateUser)
	mux.HandleFunc("DELETE /users/{id}", s.handleDeleteUser)

	mux.HandleFunc("GET /crypto/public-key", s.handlePublicKey)
	mux.HandleFunc("GET /crypto/public-key-info", s.handlePublicKeyInfo)
	mux.HandleFunc("GET /crypto/keys", s.handleKeyHistory)
	mux.HandleFunc("POST /crypto/rotate", s.handleRotate)

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// buildHandler wraps the mux, innermost first. Instrumentation must see the
// matched route and recovery must sit outside the timeout handler, which
// re-raises handler panics. CORS runs before everything.
func (s *Server) buildHandler() http.Handler {
	var h http.Handler = s.routes()
	h = s.instrument(h)
	h = http.TimeoutHandler(h, s.cfg.RequestTimeout, `{"success":false,"error":"request timed out"}`)
	h = recoverPanics(h)
	if s.cfg.WriteRateLimit > 0 {
		h = s.limitWrites(ratelimit.New(s.cfg.WriteRateLimit), h)
	}
	h = requestID(h)
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(h)
}

// Start binds the listener, so port conflicts fail here, and serves in the
// background until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	stopped := make(chan struct{})
	s.httpServer = srv
	s.stopped = stopped
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "err", err)
		}
	}()
	log.Info("listening", "addr", s.addr)

	go func() {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.Stop(shutdownCtx); err != nil {
			log.Error("shutdown failed", "err", err)
		}
	}()
	return nil
}

// Addr is the bound listen address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop gracefully shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, stopped := s.httpServer, s.stopped
	s.httpServer, s.stopped = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	close(stopped)
	log.Debug("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
