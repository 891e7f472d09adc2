package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())

	var order []string
	sm.RegisterCloser(CloserFunc(func() error { order = append(order, "catalog"); return nil }))
	sm.RegisterCloser(CloserFunc(func() error { order = append(order, "scheduler"); return nil }))
	started := false
	sm.OnShutdownStart(func() { started = true })

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.True(t, started)
	assert.Equal(t, []string{"scheduler", "catalog"}, order)
	assert.True(t, sm.IsShuttingDown())

	// A second shutdown is a no-op.
	require.NoError(t, sm.Shutdown(context.Background(), "again"))
	assert.Len(t, order, 2)
}

func TestShutdown_ReportsFirstCloseError(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	sm.RegisterCloser(CloserFunc(func() error { return fmt.Errorf("first") }))
	sm.RegisterCloser(CloserFunc(func() error { return fmt.Errorf("second") }))

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "second")
}

func TestShutdown_DrainsInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 20 * time.Millisecond})
	require.True(t, sm.TrackRequest())

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 in-flight")
	assert.False(t, sm.TrackRequest())
	sm.UntrackRequest()
	assert.Zero(t, sm.InFlightCount())
}

func TestListenForSignals_ContextCancel(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	closed := false
	sm.RegisterCloser(CloserFunc(func() error { closed = true; return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.ListenForSignals(ctx))
	assert.True(t, closed)

	select {
	case <-sm.ShutdownCh():
	default:
		t.Fatal("shutdown channel not closed")
	}
}

func TestUnaryInterceptor(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	intercept := UnaryInterceptor(sm)

	var during int64
	handler := func(ctx context.Context, req any) (any, error) {
		during = sm.InFlightCount()
		return "ok", nil
	}

	resp, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, int64(1), during)
	assert.Zero(t, sm.InFlightCount())

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	_, err = intercept(context.Background(), nil, &grpc.UnaryServerInfo{}, handler)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
