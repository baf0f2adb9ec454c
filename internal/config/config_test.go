package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/wfsctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wfsctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	testlog.Start(t)
	t.Setenv(SecretEnv, "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Endpoint.Host)
	assert.Equal(t, DefaultPort, cfg.Endpoint.Port)
	assert.Equal(t, 3*time.Second, cfg.Session.ProbeInterval)
	assert.Equal(t, "from-env", cfg.Credentials.Secret)
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
metrics_addr = "127.0.0.1:9999"

[endpoint]
host = "wfs.internal"
tls = true

[credentials]
name = "admin"
secret = "123"

[session]
probe_interval = "500ms"
count_operation_failures = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wfs.internal", cfg.Endpoint.Host)
	assert.Equal(t, DefaultPort, cfg.Endpoint.Port)
	assert.True(t, cfg.Endpoint.TLS)
	assert.Equal(t, "123", cfg.Credentials.Secret)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.ProbeInterval)
	assert.Equal(t, 3, cfg.Session.MaxProbeFailures)
	assert.Equal(t, 5*time.Second, cfg.Session.ConnectTimeout)
	assert.True(t, cfg.Session.CountOperationFailures)
	assert.Equal(t, "127.0.0.1:9999", cfg.MetricsAddr)

	wcfg := cfg.WFSConfig()
	assert.Equal(t, 500*time.Millisecond, wcfg.ProbeInterval)
	assert.True(t, cfg.WFSEndpoint().TLS)
	assert.True(t, cfg.WFSCredentials().Complete())
}

func TestLoadEnvSecretWins(t *testing.T) {
	testlog.Start(t)
	t.Setenv(SecretEnv, "env-secret")
	path := writeConfig(t, "[credentials]\nname = \"admin\"\nsecret = \"file-secret\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Credentials.Secret)
}

func TestLoadRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration": "[session]\nprobe_interval = \"soon\"\n",
		"bad port":     "[endpoint]\nport = 70000\n",
		"zero probes":  "[session]\nmax_probe_failures = 0\n",
		"unknown key":  "[endpoint]\nhots = \"x\"\n",
		"not toml":     "endpoint = [",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestTemplateRoundTrips(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "wfsctl.toml")
	require.NoError(t, WriteTemplate(path, false))
	require.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	want := Default()
	want.Credentials.Name = "admin"
	if secret, ok := os.LookupEnv(SecretEnv); ok {
		want.Credentials.Secret = secret
	}
	assert.Equal(t, want, cfg)
}
