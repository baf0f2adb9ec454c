package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the default config as TOML. The secret is left empty;
// set it in the file or through WFSCTL_SECRET.
func Template() ([]byte, error) {
	def := Default()
	out := fileConfig{
		Endpoint:    def.Endpoint,
		Credentials: CredentialsConfig{Name: "admin"},
		Session: fileSession{
			ProbeInterval:    def.Session.ProbeInterval.String(),
			MaxProbeFailures: def.Session.MaxProbeFailures,
			ConnectTimeout:   def.Session.ConnectTimeout.String(),
			HandshakeTimeout: def.Session.HandshakeTimeout.String(),
			CallTimeout:      def.Session.CallTimeout.String(),
		},
		MetricsAddr: def.MetricsAddr,
	}
	data, err := toml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return data, nil
}

func WriteTemplate(path string, overwrite bool) error {
	data, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, data, 0o600)
}
