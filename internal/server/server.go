// Package server is the development server used by the watch command. It
// serves the build output, injects the live-reload client into HTML pages
// and exposes the reload websocket, a status page, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"

	"github.com/conneroisu/sitepipe/internal/build"
	"github.com/conneroisu/sitepipe/internal/logging"
	"github.com/conneroisu/sitepipe/internal/metrics"
	"github.com/conneroisu/sitepipe/internal/notify"
	"github.com/conneroisu/sitepipe/internal/version"
	"github.com/conneroisu/sitepipe/internal/websocket"
)

// Route prefix for everything the server adds on top of the site.
const internalPrefix = "/__sitepipe"

// Options configures a Server.
type Options struct {
	Host string
	Port int
	// Fs and Root locate the directory being served.
	Fs   afero.Fs
	Root string

	Hub      *websocket.Hub
	Logger   logging.Logger
	Metrics  *metrics.PrometheusRecorder
	Stats    *build.BuildMetrics
	Activity *notify.Recorder
	// Tasks lists task names in execution order for the status page.
	Tasks []string
}

// Server serves the site with live reload.
type Server struct {
	opts       Options
	site       afero.Fs
	files      http.Handler
	router     *chi.Mux
	logger     logging.Logger
	httpServer *http.Server
	serverMu   sync.Mutex
	started    time.Time
}

// New creates a server. Nothing listens until Start.
func New(opts Options) *Server {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Hub == nil {
		opts.Hub = websocket.NewHub()
	}
	if opts.Stats == nil {
		opts.Stats = build.NewBuildMetrics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}

	site := afero.NewBasePathFs(opts.Fs, opts.Root)
	s := &Server{
		opts:    opts,
		site:    site,
		files:   http.FileServer(afero.NewHttpFs(site).Dir("/")),
		router:  chi.NewRouter(),
		logger:  logger.WithComponent("server"),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.NoCache)

	s.router.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	s.router.Route(internalPrefix, func(r chi.Router) {
		r.Get("/ws", s.opts.Hub.HandleWebSocket)
		r.Get("/livereload.js", s.handleScript)
		r.Get("/status", s.handleStatusPage)
		r.Get("/api/status", s.handleStatusJSON)
	})

	s.router.Get("/*", s.handleStatic)
	s.router.Head("/*", s.handleStatic)
}

// requestLogger logs each request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// URL is the address browsers should open.
func (s *Server) URL() string {
	host := s.opts.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.opts.Port))
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.httpServer
	s.serverMu.Unlock()

	s.logger.Info(ctx, "Dev server listening", "url", s.URL(), "root", s.opts.Root)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown closes websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	hubErr := s.opts.Hub.Shutdown(ctx)

	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()

	var srvErr error
	if srv != nil {
		srvErr = srv.Shutdown(ctx)
	}
	return errors.Join(hubErr, srvErr)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"version":   version.GetShortVersion(),
		"clients":   s.opts.Hub.ClientCount(),
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
