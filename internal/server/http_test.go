package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPServiceServesAndStops(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})
	svc := NewHTTPService("127.0.0.1:0", handler, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- svc.Start(context.Background()) }()

	// Wait for the listener to bind.
	var addr string
	require.Eventually(t, func() bool {
		addr = svc.Addr()
		return addr != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))

	svc.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err, "a clean shutdown is not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop in time")
	}
}

func TestHTTPServiceBindFailureSurfaces(t *testing.T) {
	handler := http.NotFoundHandler()
	first := NewHTTPService("127.0.0.1:0", handler, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- first.Start(context.Background()) }()
	var addr string
	require.Eventually(t, func() bool {
		addr = first.Addr()
		return addr != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)
	defer first.Stop()

	second := NewHTTPService(addr, handler, zaptest.NewLogger(t))
	assert.Error(t, second.Start(context.Background()), "binding a taken port must fail")
}

func TestHTTPServiceStopsOnContextCancel(t *testing.T) {
	svc := NewHTTPService("127.0.0.1:0", http.NotFoundHandler(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		return svc.Addr() != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop on context cancellation")
	}
}
