// Package server is the status HTTP listener: liveness, readiness, Prometheus
// metrics and a JSON view of the last reconcile pass.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schedscaler/internal/reconcile"
	logx "schedscaler/pkg/logx"
)

type Config struct {
	Address string
	// Pprof mounts net/http/pprof under /debug.
	Pprof bool
	// StaleAfter marks the service unready when the last committed pass is
	// older than this. Zero disables the check.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = ":8080"
	}
	return c
}

// StatusSource is implemented by *reconcile.Loop.
type StatusSource interface {
	LastReport() (reconcile.Report, bool)
	PreviousTick() time.Time
}

type Server struct {
	cfg      Config
	src      StatusSource
	gatherer prometheus.Gatherer
	log      logx.Logger
	now      func() time.Time

	mu   sync.Mutex
	addr string
}

// New builds the server. A nil gatherer serves the default Prometheus registry.
func New(cfg Config, src StatusSource, gatherer prometheus.Gatherer, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:      cfg.withDefaults(),
		src:      src,
		gatherer: gatherer,
		log:      log.With(logx.String("comp", "status")),
		now:      time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// Run listens on Address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("status server listening", logx.String("addr", s.Addr()), logx.Bool("pprof", s.cfg.Pprof))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("status server shutdown error", logx.Err(err))
	}
	s.mu.Lock()
	s.addr = ""
	s.mu.Unlock()
	s.log.Info("status server stopped")
	return nil
}

// Addr reports the actual listen address while running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz is OK once a pass has committed and, with StaleAfter set, the last
// commit is recent enough.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	prev := s.src.PreviousTick()
	switch {
	case prev.IsZero():
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "waiting for first pass"})
	case s.cfg.StaleAfter > 0 && s.now().Sub(prev) > s.cfg.StaleAfter:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":        "stale",
			"previous_tick": prev.UTC().Format(time.RFC3339),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"status":        "ready",
			"previous_tick": prev.UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	rep, ok := s.src.LastReport()
	if !ok {
		writeJSON(w, http.StatusOK, statusView{PreviousTick: timePtr(s.src.PreviousTick())})
		return
	}
	writeJSON(w, http.StatusOK, newStatusView(rep, s.src.PreviousTick()))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
