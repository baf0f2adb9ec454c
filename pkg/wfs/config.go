package wfs

import (
	"context"
	"time"

	"github.com/danmuck/wfsctl/internal/rpc"
	"github.com/danmuck/wfsctl/internal/transport"
)

// Connector produces a connected rpc client for an endpoint. It is called
// once by Open and once per reconnect attempt.
type Connector func(ctx context.Context, ep Endpoint) (rpc.Client, error)

// Config holds session tunables.
type Config struct {
	// ProbeInterval is the health monitor's fixed sleep between iterations.
	ProbeInterval time.Duration
	// MaxProbeFailures is the threshold; the monitor reconnects once the
	// consecutive failure count exceeds it.
	MaxProbeFailures int
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// CallTimeout bounds each RPC round trip. Zero means unbounded.
	CallTimeout time.Duration
	// CountOperationFailures makes in-flight failures of ordinary calls count
	// toward MaxProbeFailures, not only failed probes.
	CountOperationFailures bool
	// Connector overrides how connections are made. Nil uses TCP/TLS.
	Connector Connector
}

func DefaultConfig() Config {
	return Config{
		ProbeInterval:    3 * time.Second,
		MaxProbeFailures: 3,
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = def.ProbeInterval
	}
	if c.MaxProbeFailures <= 0 {
		c.MaxProbeFailures = def.MaxProbeFailures
	}
	if c.ConnectTimeout < 0 {
		c.ConnectTimeout = 0
	}
	if c.HandshakeTimeout < 0 {
		c.HandshakeTimeout = 0
	}
	if c.CallTimeout < 0 {
		c.CallTimeout = 0
	}
	if c.Connector == nil {
		c.Connector = NetConnector(c)
	}
	return c
}

// NetConnector dials with the transport opener and wraps the stream in a
// framed rpc client.
func NetConnector(c Config) Connector {
	topts := transport.Options{
		ConnectTimeout:   c.ConnectTimeout,
		HandshakeTimeout: c.HandshakeTimeout,
	}
	ropts := rpc.DefaultOptions()
	ropts.CallTimeout = c.CallTimeout
	return func(ctx context.Context, ep Endpoint) (rpc.Client, error) {
		conn, err := transport.Open(ctx, ep, topts)
		if err != nil {
			return nil, err
		}
		return rpc.NewClient(conn, ropts), nil
	}
}

type Option func(*Config)

func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

func WithProbeInterval(d time.Duration) Option {
	return func(c *Config) { c.ProbeInterval = d }
}

func WithMaxProbeFailures(n int) Option {
	return func(c *Config) { c.MaxProbeFailures = n }
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Config) { c.CallTimeout = d }
}

func WithCountOperationFailures(on bool) Option {
	return func(c *Config) { c.CountOperationFailures = on }
}

func WithConnector(fn Connector) Option {
	return func(c *Config) { c.Connector = fn }
}
