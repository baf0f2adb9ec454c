// Package config loads wfsctl settings from TOML.
//
// Keys absent from the file keep their defaults; only keys the file defines
// override them.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// SecretEnv overrides credentials.secret when set.
const SecretEnv = "WFSCTL_SECRET"

const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 6802
	DefaultMetricsAddr = "127.0.0.1:9464"
)

type Config struct {
	Endpoint    EndpointConfig
	Credentials CredentialsConfig
	Session     SessionConfig
	MetricsAddr string
}

type EndpointConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	TLS  bool   `toml:"tls"`
}

type CredentialsConfig struct {
	Name   string `toml:"name"`
	Secret string `toml:"secret"`
}

type SessionConfig struct {
	ProbeInterval          time.Duration
	MaxProbeFailures       int
	ConnectTimeout         time.Duration
	HandshakeTimeout       time.Duration
	CallTimeout            time.Duration
	CountOperationFailures bool
}

func Default() Config {
	return Config{
		Endpoint: EndpointConfig{Host: DefaultHost, Port: DefaultPort},
		Session: SessionConfig{
			ProbeInterval:    3 * time.Second,
			MaxProbeFailures: 3,
			ConnectTimeout:   5 * time.Second,
			HandshakeTimeout: 5 * time.Second,
		},
		MetricsAddr: DefaultMetricsAddr,
	}
}

// fileConfig mirrors the on-disk layout. Durations are strings such as "3s".
type fileConfig struct {
	Endpoint    EndpointConfig    `toml:"endpoint"`
	Credentials CredentialsConfig `toml:"credentials"`
	Session     fileSession       `toml:"session"`
	MetricsAddr string            `toml:"metrics_addr"`
}

type fileSession struct {
	ProbeInterval          string `toml:"probe_interval"`
	MaxProbeFailures       int    `toml:"max_probe_failures"`
	ConnectTimeout         string `toml:"connect_timeout"`
	HandshakeTimeout       string `toml:"handshake_timeout"`
	CallTimeout            string `toml:"call_timeout"`
	CountOperationFailures bool   `toml:"count_operation_failures"`
}

// Load reads path over the defaults. An empty path yields the defaults with
// environment overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if secret, ok := os.LookupEnv(SecretEnv); ok {
		cfg.Credentials.Secret = secret
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load wfsctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load wfsctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("endpoint", "host") {
		cfg.Endpoint.Host = strings.TrimSpace(raw.Endpoint.Host)
	}
	if meta.IsDefined("endpoint", "port") {
		cfg.Endpoint.Port = raw.Endpoint.Port
	}
	if meta.IsDefined("endpoint", "tls") {
		cfg.Endpoint.TLS = raw.Endpoint.TLS
	}
	if meta.IsDefined("credentials", "name") {
		cfg.Credentials.Name = strings.TrimSpace(raw.Credentials.Name)
	}
	if meta.IsDefined("credentials", "secret") {
		cfg.Credentials.Secret = raw.Credentials.Secret
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"probe_interval", raw.Session.ProbeInterval, &cfg.Session.ProbeInterval},
		{"connect_timeout", raw.Session.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"handshake_timeout", raw.Session.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"call_timeout", raw.Session.CallTimeout, &cfg.Session.CallTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "max_probe_failures") {
		cfg.Session.MaxProbeFailures = raw.Session.MaxProbeFailures
	}
	if meta.IsDefined("session", "count_operation_failures") {
		cfg.Session.CountOperationFailures = raw.Session.CountOperationFailures
	}
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Endpoint.Host) == "" {
		return fmt.Errorf("wfsctl config missing endpoint.host")
	}
	if cfg.Endpoint.Port <= 0 || cfg.Endpoint.Port > 65535 {
		return fmt.Errorf("wfsctl config endpoint.port out of range: %d", cfg.Endpoint.Port)
	}
	if cfg.Session.ProbeInterval <= 0 {
		return fmt.Errorf("wfsctl config session.probe_interval must be positive")
	}
	if cfg.Session.MaxProbeFailures <= 0 {
		return fmt.Errorf("wfsctl config session.max_probe_failures must be positive")
	}
	for name, d := range map[string]time.Duration{
		"connect_timeout":   cfg.Session.ConnectTimeout,
		"handshake_timeout": cfg.Session.HandshakeTimeout,
		"call_timeout":      cfg.Session.CallTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("wfsctl config session.%s must not be negative", name)
		}
	}
	return nil
}
