// Package api serves the reconciled view to subscribers over HTTP.
//
// JSON endpoints expose the current view, accept outbound requests through
// the session's gate and proxy the archive. A websocket endpoint pushes every
// newly published view. Nothing here mutates session state directly; every
// write goes through the session's command queue.
package api

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Suhridx/pump-dashboard/archive"
	"github.com/Suhridx/pump-dashboard/auth"
	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/gate"
	"github.com/Suhridx/pump-dashboard/health"
	"github.com/Suhridx/pump-dashboard/metric"
	"github.com/Suhridx/pump-dashboard/view"
)

const maxRequestBody = 64 << 10

// Session is the part of session.Manager the API drives.
type Session interface {
	View() *view.View
	Send(ctx context.Context, payload []byte) (gate.Request, error)
	ClearLog(ctx context.Context) error
	ClearLevels(ctx context.Context) error
	Ready(ctx context.Context, id auth.Identity) error
	Revoke(ctx context.Context) error
	Health() health.Link
}

// Archive is the read side of archive.Client.
type Archive interface {
	ListFolders(ctx context.Context) ([]archive.Folder, error)
	Fetch(ctx context.Context, folder, file string) archive.Document
}

// Backfiller runs one on-demand backfill.
type Backfiller interface {
	Run(ctx context.Context) (archive.Result, error)
}

// Config holds the listener settings.
type Config struct {
	Addr            string
	AllowedOrigins  []string
	MaxClients      int
	ShutdownTimeout time.Duration
	// TLS serves HTTPS and wss:// when set.
	TLS *tls.Config
}

// Server is the subscriber-facing HTTP server.
type Server struct {
	cfg      Config
	session  Session
	hub      *Hub
	archive  Archive
	backfill Backfiller
	monitor  *health.Monitor
	registry *metric.MetricsRegistry
	metrics  *apiMetrics
	logger   *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server) error

// WithArchive enables the archive endpoints. b may be nil.
func WithArchive(a Archive, b Backfiller) Option {
	return func(s *Server) error {
		s.archive = a
		s.backfill = b
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithMetrics registers request and subscriber metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) error {
		s.registry = registry
		return nil
	}
}

// WithMonitor reports through an existing health monitor. The server
// registers its own "session" probe on it.
func WithMonitor(m *health.Monitor) Option {
	return func(s *Server) error {
		if m != nil {
			s.monitor = m
		}
		return nil
	}
}

// NewServer builds the server. pub is the publisher the session writes to.
func NewServer(cfg Config, sess Session, pub *view.Publisher, opts ...Option) (*Server, error) {
	if sess == nil || pub == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: session and publisher are required", errors.ErrMissingConfig),
			"Server", "NewServer", "check dependencies")
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 64
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{
		cfg:     cfg,
		session: sess,
		monitor: health.NewMonitor(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	m, err := newAPIMetrics(s.registry)
	if err != nil {
		return nil, err
	}
	s.metrics = m
	s.hub = newHub(pub, cfg.MaxClients, cfg.AllowedOrigins, s.logger, m)
	s.monitor.Register("session", func() health.Status {
		return health.FromLink("session", sess.Health())
	})
	return s, nil
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.hub.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Route("/view", func(r chi.Router) {
			r.Get("/", s.handleView)
			r.Get("/domains/{domain}", s.handleDomain)
			r.Get("/log", s.handleLog)
			r.Get("/levels", s.handleLevels)
		})
		r.Post("/requests", s.handleRequest)
		r.Post("/streams/{stream}/clear", s.handleClear)
		r.Post("/session/ready", s.handleReady)
		r.Post("/session/revoke", s.handleRevoke)

		r.Route("/archive", func(r chi.Router) {
			r.Use(s.requireArchive)
			r.Get("/folders", s.handleFolders)
			r.Get("/files", s.handleFile)
			r.Post("/backfill", s.handleBackfill)
		})
	})
	return r
}

// observe logs each request and records its metrics under the matched
// route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		s.metrics.request(route, status, d)

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "HTTP request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", d,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && len(s.cfg.AllowedOrigins) > 0 {
			for _, allowed := range s.cfg.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.Header().Add("Vary", "Origin")
					break
				}
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireArchive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.archive == nil {
			writeError(w, http.StatusServiceUnavailable, "archive is not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start api server")
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on %s", s.cfg.Addr))
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("API listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapTransient(err, "Server", "Start", "serve api")
	}
	return nil
}

// Stop closes websocket subscribers and shuts the listener down. It is safe
// to call when not running.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shut down api server")
	}
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}
