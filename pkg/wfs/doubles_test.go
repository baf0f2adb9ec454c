package wfs

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/wfsctl/internal/rpc"
)

// fakeClient is a scripted rpc.Client. It flags any call on a client that
// was never authenticated or was already closed.
type fakeClient struct {
	t *testing.T

	mu              sync.Mutex
	authAck         Ack
	authErr         error
	pingCode        uint8
	failPings       int
	opErr           error
	panicAfterClose bool
	authed          bool
	closed          bool
	calls           map[rpc.Op]int
	closes          int
}

func newFakeClient(t *testing.T) *fakeClient {
	return &fakeClient{
		t:        t,
		authAck:  Ack{OK: true},
		pingCode: 1,
		calls:    make(map[rpc.Op]int),
	}
}

func (c *fakeClient) enter(op rpc.Op) error {
	c.calls[op]++
	if c.closed {
		if c.panicAfterClose {
			panic("rpc call after close: " + string(op))
		}
		return &rpc.CallError{Op: op, Err: rpc.ErrClosed}
	}
	if op != rpc.OpAuthenticate && op != rpc.OpPing && !c.authed {
		c.t.Errorf("%s on unauthenticated client", op)
	}
	return nil
}

func (c *fakeClient) Authenticate(_ context.Context, _ Credentials) (Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(rpc.OpAuthenticate); err != nil {
		return Ack{}, err
	}
	if c.authErr != nil {
		return Ack{}, c.authErr
	}
	c.authed = c.authAck.OK
	return c.authAck, nil
}

func (c *fakeClient) Append(_ context.Context, _ File) (Ack, error) {
	return c.ack(rpc.OpAppend)
}

func (c *fakeClient) Delete(_ context.Context, _ string) (Ack, error) {
	return c.ack(rpc.OpDelete)
}

func (c *fakeClient) Rename(_ context.Context, _, _ string) (Ack, error) {
	return c.ack(rpc.OpRename)
}

func (c *fakeClient) Get(_ context.Context, path string) (Data, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(rpc.OpGet); err != nil {
		return Data{}, err
	}
	if c.opErr != nil {
		return Data{}, c.opErr
	}
	return Data{Data: []byte(path)}, nil
}

func (c *fakeClient) Ping(_ context.Context) (uint8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(rpc.OpPing); err != nil {
		return 0, err
	}
	if c.failPings > 0 {
		c.failPings--
		return 0, &rpc.CallError{Op: rpc.OpPing, Err: io.EOF}
	}
	return c.pingCode, nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closes++
	return nil
}

func (c *fakeClient) ack(op rpc.Op) (Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(op); err != nil {
		return Ack{}, err
	}
	if c.opErr != nil {
		return Ack{}, c.opErr
	}
	return Ack{OK: true}, nil
}

func (c *fakeClient) count(op rpc.Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeClient) set(fn func(*fakeClient)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// fakeConnector hands out a new fakeClient per dial and counts dials.
type fakeConnector struct {
	t *testing.T

	mu      sync.Mutex
	err     error
	prepare func(*fakeClient)
	clients []*fakeClient
}

func newFakeConnector(t *testing.T) *fakeConnector {
	return &fakeConnector{t: t}
}

func (fc *fakeConnector) connect(_ context.Context, _ Endpoint) (rpc.Client, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.err != nil {
		fc.clients = append(fc.clients, nil)
		return nil, fc.err
	}
	c := newFakeClient(fc.t)
	if fc.prepare != nil {
		fc.prepare(c)
	}
	fc.clients = append(fc.clients, c)
	return c, nil
}

func (fc *fakeConnector) dials() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.clients)
}

// last returns the most recent successfully dialed client.
func (fc *fakeConnector) last() *fakeClient {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for i := len(fc.clients) - 1; i >= 0; i-- {
		if fc.clients[i] != nil {
			return fc.clients[i]
		}
	}
	return nil
}

func (fc *fakeConnector) setErr(err error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.err = err
}

// quietConfig never lets the background monitor fire during a test.
func quietConfig(fc *fakeConnector) Config {
	return Config{
		ProbeInterval:    time.Hour,
		MaxProbeFailures: 3,
		Connector:        fc.connect,
	}
}

var testEndpoint = Endpoint{Host: "wfs.test", Port: 6802}

func openFake(t *testing.T, fc *fakeConnector, creds Credentials) *Handle {
	t.Helper()
	h, err := OpenEndpoint(context.Background(), testEndpoint, creds, quietConfig(fc))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}
