package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	stop     chan struct{}
	listen   error
	shutdown atomic.Bool
}

func (f *fakeServer) ListenAndServe() error {
	if f.listen != nil {
		return f.listen
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdown.Store(true)
	close(f.stop)
	return nil
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	srv := &fakeServer{stop: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewHTTPService(srv, time.Second).Serve(ctx) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.True(t, srv.shutdown.Load())
}

func TestHTTPServiceReportsListenFailure(t *testing.T) {
	srv := &fakeServer{listen: errors.New("address in use")}
	err := NewHTTPService(srv, time.Second).Serve(context.Background())
	assert.ErrorContains(t, err, "address in use")
}

type stopper struct{ called atomic.Bool }

func (s *stopper) Shutdown(context.Context) error {
	s.called.Store(true)
	return nil
}

func TestTreeRunsServices(t *testing.T) {
	tree := NewTree(TreeConfig{ShutdownTimeout: time.Second})
	var ticks atomic.Int32
	tree.AddJobService(Every("tick", 5*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return nil
	}))
	st := &stopper{}
	tree.AddJobService(OnShutdown("orchestrator", st, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	assert.True(t, st.called.Load())
}
