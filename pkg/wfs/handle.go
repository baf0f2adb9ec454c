package wfs

import (
	"context"
	"runtime"

	"github.com/danmuck/wfsctl/internal/observability"
	"github.com/danmuck/wfsctl/internal/rpc"
)

// Handle is the shared entry point to one session. Copy the pointer, not
// the value. When the last *Handle becomes unreachable the session is
// closed and its monitor stops.
type Handle struct {
	s *session
}

// Open connects to host:port, authenticates as name/secret and starts the
// health monitor.
func Open(ctx context.Context, useTLS bool, host string, port int, name, secret string, opts ...Option) (*Handle, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return OpenEndpoint(ctx,
		Endpoint{Host: host, Port: port, TLS: useTLS},
		Credentials{Name: name, Secret: secret},
		cfg,
	)
}

func OpenEndpoint(ctx context.Context, ep Endpoint, creds Credentials, cfg Config) (*Handle, error) {
	s, err := openSession(ctx, ep, creds, cfg)
	if err != nil {
		return nil, err
	}
	monitorCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.monitor(monitorCtx)
	observability.SessionOpened()

	h := &Handle{s: s}
	runtime.AddCleanup(h, func(s *session) { _ = s.close("handle released") }, s)
	return h, nil
}

func (h *Handle) Append(ctx context.Context, f File) Ack {
	ack := ClosedAck()
	if !h.s.with(func() { ack = h.s.appendLocked(ctx, f) }) {
		observability.RecordOperation(string(rpc.OpAppend), observability.ResultClosed)
	}
	return ack
}

func (h *Handle) Delete(ctx context.Context, path string) Ack {
	ack := ClosedAck()
	if !h.s.with(func() { ack = h.s.deleteLocked(ctx, path) }) {
		observability.RecordOperation(string(rpc.OpDelete), observability.ResultClosed)
	}
	return ack
}

func (h *Handle) Rename(ctx context.Context, path, newPath string) Ack {
	ack := ClosedAck()
	if !h.s.with(func() { ack = h.s.renameLocked(ctx, path, newPath) }) {
		observability.RecordOperation(string(rpc.OpRename), observability.ResultClosed)
	}
	return ack
}

// Fetch returns the file at path. ok is false when the call failed or the
// session is closed.
func (h *Handle) Fetch(ctx context.Context, path string) (d Data, ok bool) {
	if !h.s.with(func() { d, ok = h.s.fetchLocked(ctx, path) }) {
		observability.RecordOperation(string(rpc.OpGet), observability.ResultClosed)
	}
	return d, ok
}

// Ping sends one liveness probe with the same failure accounting the
// monitor uses. It returns 0 when the probe failed or the session is closed.
func (h *Handle) Ping(ctx context.Context) uint8 {
	return h.s.probe(ctx)
}

// Reconnect replaces the connection now instead of waiting for the monitor.
func (h *Handle) Reconnect(ctx context.Context) (Ack, error) {
	ack, err := ClosedAck(), error(ErrSessionClosed)
	h.s.with(func() { ack, err = h.s.reconnectLocked(ctx) })
	return ack, err
}

func (h *Handle) State() State {
	return h.s.state()
}

// Failures is the current consecutive probe failure count.
func (h *Handle) Failures() int {
	return int(h.s.failures.Load())
}

func (h *Handle) ID() string {
	return h.s.id
}

func (h *Handle) Endpoint() Endpoint {
	return h.s.endpoint
}

// Close stops the monitor and closes the connection. Later calls return
// closed results without touching the network. Close is idempotent.
func (h *Handle) Close() error {
	return h.s.close("closed by caller")
}
