// Package proxy serves the upload pipeline over HTTP on the loopback interface.
// The server can be started and stopped repeatedly while the process runs.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/imagehost/service/internal/upload"
)

const (
	// DefaultPort is used when no port is configured.
	DefaultPort = 38123

	host         = "127.0.0.1"
	drainTimeout = 30 * time.Second
)

// ErrBind is returned when the listening port cannot be acquired.
var ErrBind = errors.New("failed to bind proxy port")

// Options configures a Server.
type Options struct {
	Port           int
	MaxUploadBytes int64
	AllowedOrigins []string
}

// Status describes the proxy as shown to callers.
type Status struct {
	Enabled bool `json:"enabled"`
	Running bool `json:"running"`
	Port    int  `json:"port"`
}

// Server runs the proxy router on 127.0.0.1. It is Stopped until Start
// succeeds and Running until Stop.
type Server struct {
	svc     *upload.Service
	handler http.Handler
	log     zerolog.Logger

	mu      sync.Mutex
	port    int
	enabled bool
	srv     *http.Server
	ln      net.Listener

	drains sync.WaitGroup
}

// New creates a stopped Server. A zero port in opts means DefaultPort.
func New(svc *upload.Service, opts Options, log zerolog.Logger) *Server {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	return &Server{
		svc:     svc,
		handler: NewRouter(svc, opts, log),
		log:     log,
		port:    port,
	}
}

// Start binds 127.0.0.1:port and begins serving. Starting a running server is
// a no-op. The service must have a storage backend.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Server) startLocked() error {
	if s.srv != nil {
		return nil
	}
	if !s.svc.Configured() {
		return upload.ErrNotConfigured
	}

	addr := net.JoinHostPort(host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error().Err(err).Str("addr", addr).Msg("proxy bind failed")
		return fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	ln = &onceCloseListener{Listener: ln}

	// Port 0 asks the kernel for a free port; remember the one we got.
	s.port = ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.srv, s.ln = srv, ln

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			s.log.Error().Err(err).Msg("proxy server stopped unexpectedly")
		}
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("proxy listening")
	return nil
}

// Stop stops accepting connections and returns without waiting. Requests
// already being served run to completion. Stopping a stopped server is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Server) stopLocked() {
	if s.srv == nil {
		return
	}
	srv, ln := s.srv, s.ln
	s.srv, s.ln = nil, nil

	// The port is released before Stop returns so a restart can rebind it.
	_ = ln.Close()

	s.drains.Add(1)
	go func() {
		defer s.drains.Done()
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("proxy drain did not finish, closing remaining connections")
			_ = srv.Close()
		}
	}()
	s.log.Info().Int("port", s.port).Msg("proxy stopped")
}

// Shutdown stops the server and waits until in-flight requests finish or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.drains.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// Port returns the configured port, or the bound one after starting on port 0.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Addr returns the base URL of the running server, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return "http://" + s.ln.Addr().String()
}

// Status reports whether the proxy is wanted, whether it runs and on which port.
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Server) statusLocked() Status {
	return Status{Enabled: s.enabled, Running: s.srv != nil, Port: s.port}
}

// SetEnabled records whether the proxy should run on port and brings the
// server in line: it starts, stops, or restarts on a changed port. A
// non-positive port keeps the current one. The returned Status reflects the
// outcome even when starting failed.
func (s *Server) SetEnabled(enabled bool, port int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = enabled
	if port > 0 && port != s.port {
		s.stopLocked()
		s.port = port
	}

	if !enabled {
		s.stopLocked()
		return s.statusLocked(), nil
	}
	err := s.startLocked()
	return s.statusLocked(), err
}

// onceCloseListener lets both Stop and http.Server.Shutdown close the listener.
type onceCloseListener struct {
	net.Listener
	once     sync.Once
	closeErr error
}

func (l *onceCloseListener) Close() error {
	l.once.Do(func() { l.closeErr = l.Listener.Close() })
	return l.closeErr
}
