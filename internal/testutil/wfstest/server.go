// Package wfstest runs an in-memory WFS server speaking the real wire
// protocol, with knobs to drop and refuse connections.
package wfstest

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/wfsctl/internal/protocol/frame"
	"github.com/danmuck/wfsctl/internal/protocol/message"
	"github.com/danmuck/wfsctl/internal/protocol/schema"
	"github.com/danmuck/wfsctl/internal/transport"
	"github.com/rs/zerolog/log"
)

const (
	CodeUnauthorized int32 = 401
	CodeNotFound     int32 = 404
	CodeConflict     int32 = 409
	CodeBadRequest   int32 = 400
)

type Option func(*Server)

// WithTLS serves TLS using cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// WithCredentials sets the only accepted identity. Default admin/123.
func WithCredentials(name, secret string) Option {
	return func(s *Server) { s.creds = message.Credentials{Name: name, Secret: secret} }
}

type Server struct {
	ln        net.Listener
	tlsConfig *tls.Config
	creds     message.Credentials

	mu       sync.Mutex
	files    map[string]message.File
	conns    map[net.Conn]struct{}
	pingCode uint8
	refusing bool

	accepted     atomic.Int64
	authAttempts atomic.Int64
	requests     atomic.Int64

	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// Start listens on a loopback port and serves until t finishes.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		creds:    message.Credentials{Name: "admin", Secret: "123"},
		files:    make(map[string]message.File),
		conns:    make(map[net.Conn]struct{}),
		pingCode: 1,
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("wfstest listen: %v", err)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Endpoint returns the address clients should dial.
func (s *Server) Endpoint() transport.Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	return transport.Endpoint{Host: "127.0.0.1", Port: addr.Port, TLS: s.tlsConfig != nil}
}

func (s *Server) Accepted() int64     { return s.accepted.Load() }
func (s *Server) AuthAttempts() int64 { return s.authAttempts.Load() }
func (s *Server) Requests() int64     { return s.requests.Load() }

// SetPingCode changes the liveness code returned by pong.
func (s *Server) SetPingCode(code uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingCode = code
}

// Refuse makes the server close every new connection right after accept.
func (s *Server) Refuse(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refusing = refuse
}

// DropConnections closes every live connection, as a server restart would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

// File returns a stored file by name.
func (s *Server) File(name string) (message.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[name]
	return f, ok
}

// Put stores a file directly, bypassing the protocol.
func (s *Server) Put(f message.File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.Name] = f
}

// Names lists stored file names in order.
func (s *Server) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for name := range s.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Server) Close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.ln.Close()
		s.DropConnections()
		s.wg.Wait()
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.mu.Lock()
		refusing := s.refusing
		select {
		case <-s.closed:
			refusing = true
		default:
		}
		if !refusing {
			s.conns[conn] = struct{}{}
		}
		s.mu.Unlock()
		if refusing {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	authed := false
	for {
		fr, err := frame.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Str("component", "wfstest").Err(err).Msg("read frame")
			}
			return
		}
		req, err := message.DecodeRequest(fr)
		if err != nil {
			log.Debug().Str("component", "wfstest").Err(err).Msg("decode request")
			return
		}
		s.requests.Add(1)
		resp, err := s.handle(req, &authed)
		if err != nil {
			return
		}
		if _, err := conn.Write(resp); err != nil {
			return
		}
	}
}

func (s *Server) handle(req message.Request, authed *bool) ([]byte, error) {
	switch req.Type {
	case schema.MsgPing:
		s.mu.Lock()
		code := s.pingCode
		s.mu.Unlock()
		return message.EncodePong(req.ID, code)
	case schema.MsgAuth:
		s.authAttempts.Add(1)
		if req.Credentials != s.creds {
			return message.EncodeAck(req.ID, nack(CodeUnauthorized, "bad credentials"))
		}
		*authed = true
		return message.EncodeAck(req.ID, message.Ack{OK: true})
	}

	if !*authed {
		if req.Type == schema.MsgGet {
			return message.EncodeData(req.ID, message.Data{})
		}
		return message.EncodeAck(req.ID, nack(CodeUnauthorized, "not authenticated"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch req.Type {
	case schema.MsgAppend:
		s.files[req.File.Name] = req.File
		return message.EncodeAck(req.ID, message.Ack{OK: true})
	case schema.MsgDelete:
		if _, ok := s.files[req.Path]; !ok {
			return message.EncodeAck(req.ID, nack(CodeNotFound, "not found"))
		}
		delete(s.files, req.Path)
		return message.EncodeAck(req.ID, message.Ack{OK: true})
	case schema.MsgRename:
		f, ok := s.files[req.Path]
		if !ok {
			return message.EncodeAck(req.ID, nack(CodeNotFound, "not found"))
		}
		if _, exists := s.files[req.NewPath]; exists {
			return message.EncodeAck(req.ID, nack(CodeConflict, "target exists"))
		}
		delete(s.files, req.Path)
		f.Name = req.NewPath
		s.files[req.NewPath] = f
		return message.EncodeAck(req.ID, message.Ack{OK: true})
	case schema.MsgGet:
		f, ok := s.files[req.Path]
		if !ok {
			return message.EncodeData(req.ID, message.Data{})
		}
		return message.EncodeData(req.ID, message.Data{Data: f.Data})
	default:
		return message.EncodeAck(req.ID, nack(CodeBadRequest, "unsupported"))
	}
}

func nack(code int32, msg string) message.Ack {
	return message.Ack{OK: false, Err: &message.Error{Code: code, Message: msg}}
}
