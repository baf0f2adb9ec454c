// Package rpc is the WFS request/response client over one framed stream.
//
// Calls are synchronous and strictly sequential: one request is written and
// its response read before the next call may start. A call that fails at the
// transport level leaves the stream position unknown, so the client marks
// itself broken and fails every later call without touching the network.
package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wfsctl/internal/protocol/frame"
	"github.com/danmuck/wfsctl/internal/protocol/message"
)

var (
	ErrClosed           = errors.New("rpc: client closed")
	ErrBroken           = errors.New("rpc: stream broken by earlier failure")
	ErrResponseMismatch = errors.New("rpc: response does not match request")
	// ErrNotSent marks a call that failed before any byte reached the wire.
	ErrNotSent = errors.New("rpc: request not sent")
)

// Op names an RPC method.
type Op string

const (
	OpAuthenticate Op = "auth"
	OpAppend       Op = "append"
	OpDelete       Op = "delete"
	OpRename       Op = "rename"
	OpGet          Op = "get"
	OpPing         Op = "ping"
)

// CallError is a failed round trip for one operation.
type CallError struct {
	Op  Op
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc: %s: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Client is the typed call surface a session drives.
type Client interface {
	Authenticate(ctx context.Context, creds message.Credentials) (message.Ack, error)
	Append(ctx context.Context, f message.File) (message.Ack, error)
	Delete(ctx context.Context, path string) (message.Ack, error)
	Rename(ctx context.Context, path, newPath string) (message.Ack, error)
	Get(ctx context.Context, path string) (message.Data, error)
	Ping(ctx context.Context) (uint8, error)
	Close() error
}

// Options tune a framed client. A zero CallTimeout leaves calls unbounded
// unless the call context carries a deadline.
type Options struct {
	CallTimeout time.Duration
	Limits      frame.Limits
}

func DefaultOptions() Options {
	return Options{Limits: frame.DefaultLimits()}
}

// FramedClient implements Client over a net.Conn.
type FramedClient struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   Options

	nextMessageID atomic.Uint64
	closed        atomic.Bool
	mu            sync.Mutex
	broken        error
}

var _ Client = (*FramedClient)(nil)

func NewClient(conn net.Conn, opts Options) *FramedClient {
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	c := &FramedClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		opts:   opts,
	}
	c.nextMessageID.Store(uint64(time.Now().UnixNano()))
	return c
}

func (c *FramedClient) Authenticate(ctx context.Context, creds message.Credentials) (message.Ack, error) {
	return c.ackCall(ctx, OpAuthenticate, func(id uint64) ([]byte, error) {
		return message.EncodeAuth(id, creds)
	})
}

func (c *FramedClient) Append(ctx context.Context, f message.File) (message.Ack, error) {
	return c.ackCall(ctx, OpAppend, func(id uint64) ([]byte, error) {
		return message.EncodeAppend(id, f)
	})
}

func (c *FramedClient) Delete(ctx context.Context, path string) (message.Ack, error) {
	return c.ackCall(ctx, OpDelete, func(id uint64) ([]byte, error) {
		return message.EncodeDelete(id, path)
	})
}

func (c *FramedClient) Rename(ctx context.Context, path, newPath string) (message.Ack, error) {
	return c.ackCall(ctx, OpRename, func(id uint64) ([]byte, error) {
		return message.EncodeRename(id, path, newPath)
	})
}

func (c *FramedClient) Get(ctx context.Context, path string) (message.Data, error) {
	fr, err := c.call(ctx, OpGet, func(id uint64) ([]byte, error) {
		return message.EncodeGet(id, path)
	})
	if err != nil {
		return message.Data{}, err
	}
	d, err := message.DecodeData(fr)
	if err != nil {
		return message.Data{}, c.fail(OpGet, err)
	}
	return d, nil
}

func (c *FramedClient) Ping(ctx context.Context) (uint8, error) {
	fr, err := c.call(ctx, OpPing, message.EncodePing)
	if err != nil {
		return 0, err
	}
	code, err := message.DecodePong(fr)
	if err != nil {
		return 0, c.fail(OpPing, err)
	}
	return code, nil
}

// Close shuts the underlying stream. It does not wait for an in-flight call;
// closing the conn unblocks it.
func (c *FramedClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *FramedClient) ackCall(ctx context.Context, op Op, encode func(uint64) ([]byte, error)) (message.Ack, error) {
	fr, err := c.call(ctx, op, encode)
	if err != nil {
		return message.Ack{}, err
	}
	ack, err := message.DecodeAck(fr)
	if err != nil {
		return message.Ack{}, c.fail(op, err)
	}
	return ack, nil
}

func (c *FramedClient) call(ctx context.Context, op Op, encode func(uint64) ([]byte, error)) (frame.Frame, error) {
	id := c.nextMessageID.Add(1)
	payload, err := encode(id)
	if err != nil {
		// Nothing was written; the stream is still in sync.
		return frame.Frame{}, &CallError{Op: op, Err: fmt.Errorf("%w: %w", ErrNotSent, err)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return frame.Frame{}, &CallError{Op: op, Err: ErrClosed}
	}
	if c.broken != nil {
		return frame.Frame{}, &CallError{Op: op, Err: fmt.Errorf("%w: %v", ErrBroken, c.broken)}
	}
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, &CallError{Op: op, Err: err}
	}

	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return frame.Frame{}, c.breakLocked(op, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(payload); err != nil {
		return frame.Frame{}, c.breakLocked(op, err)
	}
	fr, err := frame.ReadFrame(c.reader, c.opts.Limits)
	if err != nil {
		return frame.Frame{}, c.breakLocked(op, err)
	}
	if !fr.Header.IsResponse() || fr.Header.MessageID != id {
		return frame.Frame{}, c.breakLocked(op, fmt.Errorf(
			"%w: message_id=%d response_id=%d flags=%#x",
			ErrResponseMismatch, id, fr.Header.MessageID, fr.Header.Flags,
		))
	}
	return fr, nil
}

func (c *FramedClient) deadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.opts.CallTimeout > 0 {
		deadline = time.Now().Add(c.opts.CallTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline
}

func (c *FramedClient) breakLocked(op Op, err error) error {
	if c.broken == nil {
		c.broken = err
	}
	return &CallError{Op: op, Err: err}
}

func (c *FramedClient) fail(op Op, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breakLocked(op, err)
}
