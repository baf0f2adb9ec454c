package wfs

import (
	"github.com/danmuck/wfsctl/internal/protocol/message"
	"github.com/danmuck/wfsctl/internal/transport"
)

type (
	Endpoint    = transport.Endpoint
	Credentials = message.Credentials
	File        = message.File
	Data        = message.Data
	Ack         = message.Ack
	Error       = message.Error
)

// Codes carried by Acks the session synthesizes itself. Service codes are
// never negative.
const (
	CodeTransportFailure int32 = -1
	CodeSessionClosed    int32 = -2
	// CodeInvalidRequest marks a call rejected locally before anything was sent.
	CodeInvalidRequest int32 = -3
)

// TransportAck is returned when a mutating call failed in flight.
func TransportAck() Ack {
	return Ack{OK: false, Err: &Error{Code: CodeTransportFailure, Message: "transport failure"}}
}

// ClosedAck is returned for any mutating call on a closed session.
func ClosedAck() Ack {
	return Ack{OK: false, Err: &Error{Code: CodeSessionClosed, Message: "session closed"}}
}

// State is the session's connectivity as seen by the health monitor.
type State int

const (
	StateHealthy State = iota
	StateSuspect
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateSuspect:
		return "suspect"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func stateOf(failures int64, threshold int, closed bool) State {
	switch {
	case closed:
		return StateClosed
	case failures == 0:
		return StateHealthy
	case failures > int64(threshold):
		return StateReconnecting
	default:
		return StateSuspect
	}
}
