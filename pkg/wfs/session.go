package wfs

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/wfsctl/internal/observability"
	"github.com/danmuck/wfsctl/internal/rpc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// session owns one rpc client at a time. mu serializes every round trip and
// the reconnect swap; current is only written while mu is held.
type session struct {
	id       string
	endpoint Endpoint
	creds    Credentials
	cfg      Config
	logger   zerolog.Logger

	mu       sync.Mutex
	current  atomic.Pointer[clientRef]
	failures atomic.Int64
	closed   atomic.Bool

	warnedMissing atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

type clientRef struct {
	rpc.Client
}

func openSession(ctx context.Context, ep Endpoint, creds Credentials, cfg Config) (*session, error) {
	s := &session{
		id:       uuid.NewString(),
		endpoint: ep,
		creds:    creds,
		cfg:      cfg.WithDefaults(),
		cancel:   func() {},
	}
	s.logger = log.With().
		Str("component", "wfs").
		Str("session", s.id).
		Str("addr", ep.Address()).
		Logger()

	client, err := s.connect(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Bool("tls", ep.TLS).Msg("open failed")
		return nil, err
	}
	s.current.Store(&clientRef{client})
	s.logger.Info().Bool("tls", ep.TLS).Str("name", creds.Name).Msg("session open")
	return s, nil
}

// connect builds and authenticates a fresh client. A client that fails
// authentication is closed before returning.
func (s *session) connect(ctx context.Context) (rpc.Client, error) {
	client, err := s.cfg.Connector(ctx, s.endpoint)
	if err != nil {
		return nil, err
	}
	if _, err := authenticate(ctx, client, s.creds); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func authenticate(ctx context.Context, client rpc.Client, creds Credentials) (Ack, error) {
	ack, err := client.Authenticate(ctx, creds)
	if err != nil {
		return TransportAck(), &AuthError{Err: err}
	}
	if !ack.OK {
		return ack, &AuthError{Reason: ack.Err}
	}
	return ack, nil
}

// reconnectLocked swaps in a freshly authenticated client. The previous
// client stays current until the new one is ready, then it is closed.
func (s *session) reconnectLocked(ctx context.Context) (Ack, error) {
	if s.closed.Load() {
		return ClosedAck(), ErrSessionClosed
	}
	if !s.creds.Complete() {
		return Ack{}, ErrMissingCredentials
	}
	client, err := s.connect(ctx)
	if err != nil {
		observability.RecordReconnect(observability.ResultTransport)
		return TransportAck(), err
	}
	if s.closed.Load() {
		_ = client.Close()
		observability.RecordReconnect(observability.ResultClosed)
		return ClosedAck(), ErrSessionClosed
	}
	if old := s.current.Swap(&clientRef{client}); old != nil {
		_ = old.Close()
	}
	s.failures.Store(0)
	observability.RecordReconnect(observability.ResultOK)
	s.logger.Info().Msg("reconnected")
	return Ack{OK: true}, nil
}

// pingLocked returns the liveness code, or 0 when the call failed.
func (s *session) pingLocked(ctx context.Context) uint8 {
	code, err := s.client().Ping(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("ping failed")
		return 0
	}
	if code > 0 {
		s.failures.Store(0)
	}
	return code
}

func (s *session) appendLocked(ctx context.Context, f File) Ack {
	ack, err := s.client().Append(ctx, f)
	return s.ackResult(rpc.OpAppend, ack, err)
}

func (s *session) deleteLocked(ctx context.Context, path string) Ack {
	ack, err := s.client().Delete(ctx, path)
	return s.ackResult(rpc.OpDelete, ack, err)
}

func (s *session) renameLocked(ctx context.Context, path, newPath string) Ack {
	ack, err := s.client().Rename(ctx, path, newPath)
	return s.ackResult(rpc.OpRename, ack, err)
}

func (s *session) fetchLocked(ctx context.Context, path string) (Data, bool) {
	d, err := s.client().Get(ctx, path)
	if err != nil {
		s.absorb(rpc.OpGet, err)
		return Data{}, false
	}
	observability.RecordOperation(string(rpc.OpGet), observability.ResultOK)
	return d, true
}

func (s *session) ackResult(op rpc.Op, ack Ack, err error) Ack {
	if err != nil {
		return s.absorb(op, err)
	}
	if ack.OK {
		observability.RecordOperation(string(op), observability.ResultOK)
	} else {
		observability.RecordOperation(string(op), observability.ResultRejected)
	}
	return ack
}

// absorb turns a call failure into the negative Ack callers see.
func (s *session) absorb(op rpc.Op, err error) Ack {
	switch {
	case errors.Is(err, rpc.ErrNotSent):
		observability.RecordOperation(string(op), observability.ResultRejected)
		return Ack{OK: false, Err: &Error{Code: CodeInvalidRequest, Message: err.Error()}}
	case s.closed.Load():
		observability.RecordOperation(string(op), observability.ResultClosed)
		return ClosedAck()
	}
	observability.RecordOperation(string(op), observability.ResultTransport)
	s.logger.Warn().Err(err).Str("op", string(op)).Msg("call failed")
	if s.cfg.CountOperationFailures {
		s.failures.Add(1)
	}
	return TransportAck()
}

func (s *session) client() rpc.Client {
	return s.current.Load().Client
}

// with runs fn under the session lock unless the session is closed.
func (s *session) with(fn func()) bool {
	if s.closed.Load() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	fn()
	return true
}

func (s *session) state() State {
	return stateOf(s.failures.Load(), s.cfg.MaxProbeFailures, s.closed.Load())
}

// close marks the session closed and stops the monitor. The current client
// is closed before taking the lock so a hung call cannot block it.
func (s *session) close(reason string) error {
	before := s.state()
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	first := s.current.Load()
	var err error
	if first != nil {
		err = first.Close()
	}
	s.mu.Lock()
	if last := s.current.Load(); last != nil && last != first {
		_ = last.Close()
	}
	s.mu.Unlock()

	observability.SessionClosed()
	observability.RecordTransition(before.String(), StateClosed.String())
	s.logger.Info().Str("reason", reason).Msg("session closed")
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
