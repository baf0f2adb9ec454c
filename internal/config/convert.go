package config

import (
	"github.com/danmuck/wfsctl/pkg/wfs"
)

func (c Config) WFSEndpoint() wfs.Endpoint {
	return wfs.Endpoint{Host: c.Endpoint.Host, Port: c.Endpoint.Port, TLS: c.Endpoint.TLS}
}

func (c Config) WFSCredentials() wfs.Credentials {
	return wfs.Credentials{Name: c.Credentials.Name, Secret: c.Credentials.Secret}
}

func (c Config) WFSConfig() wfs.Config {
	return wfs.Config{
		ProbeInterval:          c.Session.ProbeInterval,
		MaxProbeFailures:       c.Session.MaxProbeFailures,
		ConnectTimeout:         c.Session.ConnectTimeout,
		HandshakeTimeout:       c.Session.HandshakeTimeout,
		CallTimeout:            c.Session.CallTimeout,
		CountOperationFailures: c.Session.CountOperationFailures,
	}
}
