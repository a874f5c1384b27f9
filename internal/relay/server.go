// Package relay brokers client websocket sessions to the upstream realtime
// service using a credential held server-side, and serves the supporting HTTP
// API, metrics, and health endpoints.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// CloseMissingCredential is sent to clients when no upstream credential is configured.
const CloseMissingCredential = 4001

const (
	reasonMissingCredential = "upstream credential not configured"
	reasonUpstreamDial      = "upstream connection error"

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Config describes the relay endpoint and its upstream.
type Config struct {
	Path           string
	AllowedOrigins []string

	UpstreamURL string
	Model       string
	BetaHeader  string
	APIKey      string
	DialTimeout time.Duration
}

// Server owns the websocket relay and the HTTP API mux.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *Metrics
	assistant Assistant
	upgrader  websocket.Upgrader
	dialer    *websocket.Dialer
	health    *HealthServer
}

// New builds a relay server. assistant may be nil, in which case the HTTP API
// reports the missing credential.
func New(cfg Config, assistant Assistant, logger *slog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/realtime-proxy"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		metrics:   NewMetrics(),
		assistant: assistant,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		health: NewHealthServer(cfg.APIKey != ""),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Metrics exposes the relay collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Health exposes the gRPC health service.
func (s *Server) Health() *HealthServer {
	return s.health
}

// Handler returns the HTTP mux: the relay path, /health, /metrics, and the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.ServeRealtime)
	mux.HandleFunc("/health", s.instrument("health", s.handleHealth))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/api/transcribe", s.instrument("transcribe", s.handleTranscribe))
	mux.HandleFunc("/api/respond", s.instrument("respond", s.handleRespond))
	return mux
}

// Run serves HTTP on httpLis and, when grpcLis is non-nil, the gRPC health
// service, until ctx is cancelled.
func (s *Server) Run(ctx context.Context, httpLis, grpcLis net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("relay listening", "addr", httpLis.Addr().String(), "path", s.cfg.Path)
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	if grpcLis != nil {
		g.Go(func() error {
			s.logger.Info("health service listening", "addr", grpcLis.Addr().String())
			if err := s.health.Serve(grpcLis); err != nil {
				return fmt.Errorf("serve grpc health: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.health.Stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ServeRealtime upgrades the client connection and relays it to one upstream
// connection for its whole lifetime.
func (s *Server) ServeRealtime(w http.ResponseWriter, r *http.Request) {
	client, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.Rejected.WithLabelValues("upgrade").Inc()
		s.logger.Debug("relay upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	id := uuid.NewString()
	logger := s.logger.With("session_id", id, "remote", r.RemoteAddr)

	if s.cfg.APIKey == "" {
		s.metrics.Rejected.WithLabelValues("credential").Inc()
		logger.Warn("rejecting relay session: upstream credential not configured")
		rejectClient(client, CloseMissingCredential, reasonMissingCredential)
		return
	}

	upstream, err := s.dialUpstream(r.Context())
	if err != nil {
		s.metrics.UpstreamDialFailure.Inc()
		s.metrics.Rejected.WithLabelValues("upstream").Inc()
		logger.Error("upstream dial failed", "error", err.Error())
		rejectClient(client, websocket.CloseInternalServerErr, reasonUpstreamDial)
		return
	}

	s.metrics.SessionsTotal.Inc()
	s.metrics.SessionsActive.Inc()
	defer s.metrics.SessionsActive.Dec()

	logger.Info("relay session started")
	started := time.Now()
	pair := NewPair(id, client, upstream, s.metrics, logger)
	if err := pair.Run(r.Context()); err != nil {
		logger.Debug("relay session transport error", "error", err.Error())
	}
	logger.Info("relay session ended", "duration_ms", time.Since(started).Milliseconds())
}

// UpstreamURL returns the dial target with the model query parameter applied.
func (s *Server) UpstreamURL() (string, error) {
	u, err := url.Parse(s.cfg.UpstreamURL)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	if s.cfg.Model != "" {
		q := u.Query()
		q.Set("model", s.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Server) dialUpstream(ctx context.Context) (*websocket.Conn, error) {
	target, err := s.UpstreamURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	if s.cfg.BetaHeader != "" {
		header.Set("OpenAI-Beta", s.cfg.BetaHeader)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := s.dialer.DialContext(dialCtx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", redact(target), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", redact(target), err)
	}
	return conn, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.ContainsFunc(s.cfg.AllowedOrigins, func(allowed string) bool {
		return strings.EqualFold(strings.TrimSpace(allowed), origin)
	})
}

func rejectClient(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
	_ = conn.Close()
}

// redact drops the query string from a URL for logging.
func redact(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
