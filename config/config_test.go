package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Defaults()
	assert.Equal(t, "8080", c.AppPort)
	assert.Equal(t, int64(256*1024*1024), c.MaxContentLength)
	assert.Equal(t, 30*day, c.MinExpiration)
	assert.Equal(t, 365*day, c.MaxExpiration)
	assert.Equal(t, 9, c.MaxExtLength)
	assert.Equal(t, 16, c.SecretBytes)
	assert.Len(t, c.IDAlphabet, 64)
	assert.Equal(t, 0.92, c.NSFWThreshold)
	assert.Contains(t, c.VScanIgnore, "Eicar-Test-Signature")
	assert.Equal(t, "sqlite://fhost.db", c.DatabaseURI)
}

func TestLoadJSONConfigGroupsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"app": {"AppPort": "9000", "BaseURL": "https://json.example", "UseXSendfile": true},
		"storage": {"StoragePath": "/srv/up", "MaxContentLength": 1048576},
		"vscan": {"Socket": "unix:///run/clamd.sock", "Ignore": ["Sig.One"]},
		"database": {"DatabaseURI": "postgres://fhost@db/fhost"}
	}`), 0o644))

	var c AppConfig
	require.NoError(t, loadJSONConfig(path, &c))
	applyDefaults(&c)

	t.Setenv("APP_PORT", "9100")
	t.Setenv("BASE_URL", "https://env.example/")
	t.Setenv("VSCAN_IGNORE", "A, B")
	applyEnvOverrides(&c)

	assert.Equal(t, "9100", c.AppPort)
	assert.Equal(t, "https://env.example", c.BaseURL)
	assert.True(t, c.UseXSendfile)
	assert.Equal(t, "/srv/up", c.StoragePath)
	assert.Equal(t, int64(1048576), c.MaxContentLength)
	assert.Equal(t, "unix:///run/clamd.sock", c.VScanSocket)
	assert.Equal(t, []string{"A", "B"}, c.VScanIgnore)
	assert.Equal(t, "postgres://fhost@db/fhost", c.DatabaseURI)
	assert.Equal(t, 9, c.MaxExtLength)
}

func TestLoadJSONConfigMissingAndInvalid(t *testing.T) {
	var c AppConfig
	assert.NoError(t, loadJSONConfig(filepath.Join(t.TempDir(), "absent.json"), &c))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	assert.Error(t, loadJSONConfig(bad, &c))
}
