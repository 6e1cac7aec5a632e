package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// shutdownGrace bounds how long in-flight requests may drain on Stop.
const shutdownGrace = 5 * time.Second

// HTTPService adapts an HTTP listener into the Service interface. Used
// for the agent and player WebSocket endpoints and the metrics
// endpoint.
type HTTPService struct {
	srv    *http.Server
	logger *zap.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewHTTPService creates a service serving handler on addr. Binding
// happens at Start, so a taken port surfaces through the lifecycle.
func NewHTTPService(addr string, handler http.Handler, logger *zap.Logger) *HTTPService {
	return &HTTPService{
		srv:    &http.Server{Addr: addr, Handler: handler},
		logger: logger,
	}
}

// Start binds the listener and serves until ctx is cancelled or Stop
// is called. A clean shutdown is not an error.
func (s *HTTPService) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		s.Stop()
		err = <-errCh
	case err = <-errCh:
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests, then closes the listener. Safe to
// call after the server is already down.
func (s *HTTPService) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}

// Addr returns the bound address, or the configured address before
// Start. With a ":0" configuration this is the only way to learn the
// port.
func (s *HTTPService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.srv.Addr
}
