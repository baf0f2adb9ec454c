package wfs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/wfsctl/internal/testutil/testlog"
	"github.com/danmuck/wfsctl/internal/testutil/tlstest"
	"github.com/danmuck/wfsctl/internal/testutil/wfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openServer(t *testing.T, srv *wfstest.Server, opts ...Option) *Handle {
	t.Helper()
	ep := srv.Endpoint()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h, err := Open(ctx, ep.TLS, ep.Host, ep.Port, "admin", "123", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestEndToEndFileOperations(t *testing.T) {
	testlog.Start(t)
	srv := wfstest.Start(t)
	h := openServer(t, srv, WithProbeInterval(time.Hour))
	ctx := context.Background()

	require.True(t, h.Append(ctx, File{Name: "notes.txt", Data: []byte("hello")}).OK)
	d, ok := h.Fetch(ctx, "notes.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), d.Data)

	require.True(t, h.Rename(ctx, "notes.txt", "renamed.txt").OK)
	assert.Equal(t, []string{"renamed.txt"}, srv.Names())

	ack := h.Delete(ctx, "missing.txt")
	assert.False(t, ack.OK)
	require.NotNil(t, ack.Err)
	assert.Equal(t, wfstest.CodeNotFound, ack.Err.Code)

	require.True(t, h.Delete(ctx, "renamed.txt").OK)
	assert.Empty(t, srv.Names())
	assert.Equal(t, uint8(1), h.Ping(ctx))
}

func TestEndToEndOversizeAppendIsRejectedLocally(t *testing.T) {
	testlog.Start(t)
	srv := wfstest.Start(t)
	h := openServer(t, srv, WithProbeInterval(time.Hour), WithCountOperationFailures(true))
	ctx := context.Background()
	sent := srv.Requests()

	ack := h.Append(ctx, File{Name: "huge.bin", Data: make([]byte, 64<<20)})
	require.False(t, ack.OK)
	require.NotNil(t, ack.Err)
	assert.Equal(t, CodeInvalidRequest, ack.Err.Code)
	assert.Equal(t, 0, h.Failures())
	assert.Equal(t, StateHealthy, h.State())
	assert.Equal(t, sent, srv.Requests())

	require.True(t, h.Append(ctx, File{Name: "small.bin", Data: []byte("ok")}).OK)
	assert.Equal(t, []string{"small.bin"}, srv.Names())
}

func TestEndToEndTLS(t *testing.T) {
	testlog.Start(t)
	srv := wfstest.Start(t, wfstest.WithTLS(tlstest.ServerConfig(t)))
	h := openServer(t, srv, WithProbeInterval(time.Hour))
	ctx := context.Background()

	require.True(t, h.Endpoint().TLS)
	require.True(t, h.Append(ctx, File{Name: "secure.bin", Data: []byte{0, 1, 2}}).OK)
	f, ok := srv.File("secure.bin")
	require.True(t, ok)
	assert.Equal(t, []byte{0, 1, 2}, f.Data)
}

func TestEndToEndRejectedCredentials(t *testing.T) {
	testlog.Start(t)
	srv := wfstest.Start(t)
	ep := srv.Endpoint()

	_, err := Open(context.Background(), false, ep.Host, ep.Port, "admin", "wrong")
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	require.NotNil(t, authErr.Reason)
	assert.Equal(t, wfstest.CodeUnauthorized, authErr.Reason.Code)
}

func TestEndToEndPingAfterServerDrop(t *testing.T) {
	testlog.Start(t)
	srv := wfstest.Start(t)
	h := openServer(t, srv, WithProbeInterval(time.Hour))
	ctx := context.Background()

	require.True(t, h.Append(ctx, File{Name: "a", Data: []byte("1")}).OK)
	srv.DropConnections()

	assert.Zero(t, h.Ping(ctx))
	assert.Equal(t, 1, h.Failures())
	assert.Equal(t, StateSuspect, h.State())

	ack := h.Append(ctx, File{Name: "b"})
	require.NotNil(t, ack.Err)
	assert.Equal(t, CodeTransportFailure, ack.Err.Code)

	for i := 0; i < 3; i++ {
		h.s.tick(ctx)
	}
	assert.Equal(t, StateReconnecting, h.State())
	h.s.tick(ctx)
	assert.Equal(t, StateHealthy, h.State())
	assert.Equal(t, int64(2), srv.Accepted())
	assert.True(t, h.Append(ctx, File{Name: "b", Data: []byte("2")}).OK)
}

func TestEndToEndMonitorRecoversAfterDrop(t *testing.T) {
	testlog.Start(t)
	srv := wfstest.Start(t)
	h := openServer(t, srv, WithProbeInterval(10*time.Millisecond), WithMaxProbeFailures(3))
	ctx := context.Background()

	require.True(t, h.Append(ctx, File{Name: "a", Data: []byte("1")}).OK)
	srv.DropConnections()

	require.Eventually(t, func() bool {
		return srv.AuthAttempts() >= 2 && h.State() == StateHealthy
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, h.Append(ctx, File{Name: "b", Data: []byte("2")}).OK)
	assert.Equal(t, []string{"a", "b"}, srv.Names())
}

func TestEndToEndRecoversAfterRefusal(t *testing.T) {
	testlog.Start(t)
	srv := wfstest.Start(t)
	h := openServer(t, srv, WithProbeInterval(10*time.Millisecond), WithMaxProbeFailures(1))
	ctx := context.Background()

	srv.Refuse(true)
	srv.DropConnections()
	require.Eventually(t, func() bool {
		return h.State() == StateReconnecting && srv.Accepted() >= 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, h.Append(ctx, File{Name: "lost"}).OK)

	srv.Refuse(false)
	require.Eventually(t, func() bool {
		return h.State() == StateHealthy
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, h.Append(ctx, File{Name: "kept"}).OK)
	_, lost := srv.File("lost")
	assert.False(t, lost)
}

func TestEndToEndCloseUnblocksSession(t *testing.T) {
	testlog.Start(t)
	srv := wfstest.Start(t)
	h := openServer(t, srv)

	require.NoError(t, h.Close())
	assert.Equal(t, ClosedAck(), h.Append(context.Background(), File{Name: "x"}))
	requests := srv.Requests()
	h.Fetch(context.Background(), "x")
	assert.Equal(t, requests, srv.Requests())
}
