package wfs

import (
	"errors"
	"fmt"

	"github.com/danmuck/wfsctl/internal/rpc"
	"github.com/danmuck/wfsctl/internal/transport"
)

var (
	ErrMissingCredentials = errors.New("wfs: reconnect needs a non-empty name and secret")
	ErrSessionClosed      = errors.New("wfs: session closed")
)

type (
	// ConnectError is a dial or TLS handshake failure.
	ConnectError = transport.ConnectError
	// TransportError is an in-flight call failure. Sessions log and count
	// these; they never return them from ordinary operations.
	TransportError = rpc.CallError
)

// AuthError is a failed authentication: either the service rejected the
// credentials (Reason set) or the call itself failed (Err set).
type AuthError struct {
	Reason *Error
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wfs: authenticate: %v", e.Err)
	}
	if e.Reason != nil {
		return fmt.Sprintf("wfs: credentials rejected: code=%d message=%q", e.Reason.Code, e.Reason.Message)
	}
	return "wfs: credentials rejected"
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
