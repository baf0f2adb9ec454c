// Package transport opens the byte stream a WFS session runs over.
//
// A plain endpoint yields a TCP connection; a TLS endpoint yields a TLS
// client connection that accepts any server certificate and hostname.
// Open never retries; retry policy belongs to the session.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrInvalidEndpoint = errors.New("transport: invalid endpoint")

// Stage names the step of Open that failed.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageDial      Stage = "dial"
	StageHandshake Stage = "handshake"
)

// ConnectError reports a failure to establish the byte stream.
type ConnectError struct {
	Stage Stage
	Addr  string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Endpoint is where a session connects. It never changes for the life of a
// session and is reused verbatim on every reconnect.
type Endpoint struct {
	Host string
	Port int
	TLS  bool
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

// Options bounds the dial and handshake steps. Zero means no bound.
type Options struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Open dials ep and, when ep.TLS is set, completes a TLS handshake.
func Open(ctx context.Context, ep Endpoint, opts Options) (net.Conn, error) {
	addr := ep.Address()
	if err := ep.Validate(); err != nil {
		return nil, &ConnectError{Stage: StageValidate, Addr: addr, Err: err}
	}

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Stage: StageDial, Addr: addr, Err: err}
	}
	if !ep.TLS {
		log.Debug().Str("component", "transport").Str("addr", addr).Msg("plain connection open")
		return rawConn, nil
	}

	conn := tls.Client(rawConn, clientTLSConfig(ep.Host))
	handshakeCtx := ctx
	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, &ConnectError{Stage: StageHandshake, Addr: addr, Err: err}
	}
	log.Debug().
		Str("component", "transport").
		Str("addr", addr).
		Uint16("tls_version", conn.ConnectionState().Version).
		Msg("tls connection open")
	return conn, nil
}

// clientTLSConfig trusts the network path, not the peer certificate.
func clientTLSConfig(host string) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
		ServerName:         host,
	}
}
