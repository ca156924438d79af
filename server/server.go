// Package server runs the small HTTP endpoint the CLI exposes while it
// watches the dashboard: Prometheus metrics and a liveness probe.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Server is a minimal HTTP server with graceful shutdown.
type Server struct {
	http   *http.Server
	mux    *http.ServeMux
	logger logrus.FieldLogger
	grace  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithHandler mounts h at pattern.
func WithHandler(pattern string, h http.Handler) Option {
	return func(s *Server) {
		s.mux.Handle(pattern, h)
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithShutdownTimeout bounds graceful shutdown. Defaults to five seconds.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.grace = d
	}
}

// New creates a Server listening on addr. /healthz is always mounted.
func New(addr string, opts ...Option) *Server {
	mux := http.NewServeMux()
	s := &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		mux:    mux,
		logger: logrus.StandardLogger(),
		grace:  5 * time.Second,
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", l.Addr().String()).Info("http server listening")
		errCh <- s.http.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := s.http.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}
