package main

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartMissingConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := start(ctx, logger.New(), []string{"-c", "/missing/file.yml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestStartVersion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, start(ctx, logger.New(), []string{"version"}))
}

func TestStartServe(t *testing.T) {
	l, err := net.ListenTCP("tcp", &net.TCPAddr{
		IP:   net.ParseIP("127.0.0.1"),
		Port: 0,
	})
	require.NoError(t, err, "listener")

	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	t.Setenv("HUB_BIND_HOST", "127.0.0.1")
	t.Setenv("HUB_BIND_PORT", strconv.Itoa(port))

	timeoutCtx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()

	ctx, cancel := context.WithCancel(timeoutCtx)
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		errCh <- start(ctx, logger.New(), []string{})
	}()

	target := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + "/probes/liveness"

	var r *http.Response

	// Keep trying until the server finally starts.
	for i := 0; i < 50; i++ {
		r, err = http.Get(target)

		if err != nil {
			time.Sleep(20 * time.Millisecond)

			continue
		}

		r.Body.Close()

		break
	}

	if assert.NoError(t, err) {
		assert.Equal(t, http.StatusOK, r.StatusCode)
	}

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-timeoutCtx.Done():
		require.Fail(t, "timed out")
	}
}
