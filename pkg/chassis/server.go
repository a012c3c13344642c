// Package chassis runs the HTTP/3 (QUIC) listener next to the TCP server.
// It serves the same handler as the TCP listener, so the REST API and the
// MCP streamable endpoint at /mcp are both reachable over HTTP/3.
//
// In development mode, a self-signed ECDSA P-256 cert is generated automatically.
// In production, supply cert/key files via config.
package chassis

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

const (
	DefaultIdleTimeout = 60 * time.Second
	DefaultKeepAlive   = 15 * time.Second
)

// Server is the HTTP/3 chassis.
type Server struct {
	addr     string
	logger   *slog.Logger
	h3Server *http3.Server
	mu       sync.Mutex
	started  bool
}

// Config holds configuration for the chassis server.
type Config struct {
	Addr     string       // UDP listen address (e.g. ":8443")
	TLS      *tls.Config  // nil = load CertFile/KeyFile or auto-generate self-signed
	CertFile string       // production cert path
	KeyFile  string       // production key path
	Handler  http.Handler // same mux as the TCP listener
	Logger   *slog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addr == "" {
		return nil, errors.New("chassis: empty listen address")
	}
	if cfg.Handler == nil {
		return nil, errors.New("chassis: nil handler")
	}

	tlsCfg := cfg.TLS
	if tlsCfg == nil {
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			var err error
			tlsCfg, err = ProductionTLSConfig(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("load TLS cert: %w", err)
			}
			cfg.Logger.Info("TLS: production certs loaded")
		} else {
			var err error
			tlsCfg, err = DevelopmentTLSConfig()
			if err != nil {
				return nil, fmt.Errorf("generate dev TLS: %w", err)
			}
			cfg.Logger.Info("TLS: self-signed dev cert generated")
		}
	}

	qCfg := &quic.Config{
		MaxStreamReceiveWindow:     10 * 1024 * 1024,
		MaxConnectionReceiveWindow: 50 * 1024 * 1024,
		MaxIdleTimeout:             DefaultIdleTimeout,
		KeepAlivePeriod:            DefaultKeepAlive,
	}

	return &Server{
		addr:   cfg.Addr,
		logger: cfg.Logger,
		h3Server: &http3.Server{
			Addr:       cfg.Addr,
			Handler:    cfg.Handler,
			TLSConfig:  tlsCfg,
			QUICConfig: qCfg,
		},
	}, nil
}

// Start serves HTTP/3 until Stop is called. It blocks.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("chassis: already started")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("chassis started", "addr", s.addr, "http3", true)

	if err := s.h3Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP/3: %w", err)
	}
	return nil
}

// AdvertiseHandler adds the Alt-Svc header so TCP clients learn about the
// HTTP/3 endpoint.
func (s *Server) AdvertiseHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.h3Server.SetQUICHeaders(w.Header()); err != nil {
			s.logger.Debug("alt-svc header", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

// Stop closes the QUIC listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("chassis stopping")
	err := s.h3Server.Close()
	s.logger.Info("chassis stopped")
	return err
}
