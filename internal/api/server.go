package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/RowanDark/autodecode/internal/config"
	"github.com/RowanDark/autodecode/internal/logging"
)

// TokenHeader carries the shared token when one is configured.
const TokenHeader = "X-Autodecode-Token"

// RequestIDHeader echoes the id recorded in the audit log for the request.
const RequestIDHeader = "X-Request-Id"

// Config configures the HTTP API server.
type Config struct {
	Addr          string
	AuthToken     string
	MaxInputBytes int64
	Logger        *logging.AuditLogger
}

// Server exposes the decode, repair and pretty-print functions over HTTP.
type Server struct {
	cfg        Config
	httpServer *http.Server
	logger     *logging.AuditLogger
}

// NewServer constructs an HTTP API server using the provided configuration.
func NewServer(cfg Config) (*Server, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		return nil, errors.New("api address must be provided")
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = config.DefaultMaxInputBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{cfg: cfg, logger: logger}, nil
}

// Handler returns the routes served by the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/api/v1/decode", s.requireToken(http.HandlerFunc(s.handleDecode)))
	mux.Handle("/api/v1/repair", s.requireToken(s.textHandler(logging.EventRepairRequest, repairText)))
	mux.Handle("/api/v1/pretty", s.requireToken(s.textHandler(logging.EventPrettyRequest, prettyText)))
	mux.Handle("/api/v1/format", s.requireToken(s.textHandler(logging.EventFormatRequest, formatText)))
	mux.Handle("/api/v1/detect", s.requireToken(http.HandlerFunc(s.handleDetect)))
	mux.Handle("/api/v1/encode", s.requireToken(http.HandlerFunc(s.handleEncode)))
	mux.Handle("/api/v1/operations", s.requireToken(http.HandlerFunc(s.handleOperations)))
	return mux
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is cancelled or a fatal error
// occurs.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	want := strings.TrimSpace(s.cfg.AuthToken)
	if want == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(r.Header.Get(TokenHeader))
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			_ = s.logger.Emit(logging.AuditEvent{
				EventType: logging.EventRPCDenied,
				Decision:  logging.DecisionDeny,
				Reason:    "missing or invalid token",
				Metadata:  map[string]any{"path": r.URL.Path, "remote": r.RemoteAddr},
			})
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		_ = s.logger.Emit(logging.AuditEvent{EventType: logging.EventServerLifecycle, Decision: logging.DecisionDeny, Reason: err.Error()})
	}
}
