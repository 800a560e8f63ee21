package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"dbinventory/internal/logger"
)

type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server under supervision.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// Runner adapts a component with a blocking Serve(ctx) to a named service.
type Runner struct {
	Name string
	Run  func(ctx context.Context) error
}

func (r Runner) Serve(ctx context.Context) error { return r.Run(ctx) }

func (r Runner) String() string { return r.Name }

// Shutdowner is a component that is stopped rather than served.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// OnShutdown waits for ctx and then stops s within timeout.
func OnShutdown(name string, s Shutdowner, timeout time.Duration) Runner {
	return Runner{Name: name, Run: func(ctx context.Context) error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Shutdown(stopCtx); err != nil {
			logger.Warn().Err(err).Str("service", name).Msg("shutdown did not finish in time")
		}
		return ctx.Err()
	}}
}

// Every runs fn on a fixed interval until ctx is done. Errors are logged
// and do not stop the loop.
func Every(name string, interval time.Duration, fn func(ctx context.Context) error) Runner {
	return Runner{Name: name, Run: func(ctx context.Context) error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				if err := fn(ctx); err != nil {
					logger.Warn().Err(err).Str("service", name).Msg("periodic task failed")
				}
			}
		}
	}}
}
