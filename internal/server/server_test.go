package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, srv Service) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start(ctx) }()
	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 5*time.Millisecond)
	return cancel, errChan
}

func TestServer_ServesRegisteredHandlers(t *testing.T) {
	srv := New(Config{Host: "127.0.0.1", Port: 0}, nil)
	srv.RegisterHTTPHandler("GET /ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}))
	assert.Empty(t, srv.Addr())

	cancel, errChan := startTestServer(t, srv)
	defer cancel()

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	require.NoError(t, srv.Stop(context.Background()))
	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server did not stop in time")
	}
}

func TestServer_Start_AlreadyStarted(t *testing.T) {
	srv := New(Config{Host: "127.0.0.1", Port: 0}, nil)
	cancel, _ := startTestServer(t, srv)
	defer cancel()
	defer srv.Stop(context.Background())

	err := srv.Start(context.Background())
	assert.EqualError(t, err, "server already started")
}

func TestServer_Start_PortConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := New(Config{Host: "127.0.0.1", Port: port}, nil)
	err = srv.Start(context.Background())
	assert.ErrorContains(t, err, "http listen error")
	assert.Contains(t, err.Error(), strconv.Itoa(port))
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := New(DefaultConfig(), nil)
	assert.NoError(t, srv.Stop(context.Background()))
}
