package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/exchange-notify/internal/auth"
	"github.com/rickgao/exchange-notify/internal/metrics"
	"github.com/rickgao/exchange-notify/internal/subscriptions"
	"github.com/rickgao/exchange-notify/internal/version"
)

// ErrShuttingDown is reported to upgrades attempted after Shutdown began.
var ErrShuttingDown = errors.New("server shutting down")

// Options holds the server's optional collaborators.
type Options struct {
	Verifier *auth.Verifier    // Nil trusts X-User-Id as-is
	Renderer PortfolioRenderer // Default: StaticPortfolioRenderer
	Database Pinger            // Nil omits the database from /health
	Logger   *slog.Logger
}

// Server accepts WebSocket sessions and serves health.
type Server struct {
	cfg      Config
	subs     Subscriber
	verifier *auth.Verifier
	renderer PortfolioRenderer
	db       Pinger
	logger   *slog.Logger

	upgrader websocket.Upgrader
	handler  http.Handler
	http     *http.Server

	// Sessions run on baseCtx, which is cancelled by Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// New creates a Server over subs.
func New(cfg Config, subs Subscriber, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Renderer == nil {
		opts.Renderer = StaticPortfolioRenderer
	}

	s := &Server{
		cfg:      cfg.withDefaults(),
		subs:     subs,
		verifier: opts.Verifier,
		renderer: opts.Renderer,
		db:       opts.Database,
		logger:   opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Identity comes from signed headers, not cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	s.handler = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// clean shutdown, including one that began before Serve was called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("notify server listening", "addr", ln.Addr().String())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Run serves until ctx is cancelled, then shuts down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown stops accepting connections, closes every session and waits for
// them to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping notify server")

	s.mu.Lock()
	s.closing = true
	srv := s.http
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	// Hijacked connections are not tracked by http.Server.
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("notify server stopped")
	case <-ctx.Done():
		s.logger.Warn("notify server stop timed out")
		errs = append(errs, fmt.Errorf("wait for sessions: %w", ctx.Err()))
	}

	return errors.Join(errs...)
}

// handleWS upgrades the request and runs a session until either side ends it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := s.identify(r)
	if err != nil {
		metrics.WebSocketAuthFailures.Inc()
		s.logger.Warn("rejected websocket upgrade",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		writeError(w, http.StatusUnauthorized, "invalid user assertion")
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, ErrShuttingDown.Error())
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(uuid.NewString(), userID, conn, s.cfg, s.renderer, s.logger)
	sess.run(s.baseCtx, s.subs)
}

// identify returns the connection's user id, or "" for an anonymous connection.
func (s *Server) identify(r *http.Request) (string, error) {
	userID := r.Header.Get(auth.HeaderUserID)
	if userID == "" || s.verifier == nil {
		return userID, nil
	}
	return s.verifier.VerifyRequest(r)
}

type healthResponse struct {
	Status   string              `json:"status"`
	Version  version.Info        `json:"version"`
	Registry subscriptions.Stats `json:"registry"`
	Database string              `json:"database,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  version.Get(),
		Registry: s.subs.Stats(),
	}
	status := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.db.Ping(ctx); err != nil {
			s.logger.Warn("health check database ping failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}

	writeJSON(w, status, resp)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
