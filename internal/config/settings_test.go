package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 8, s.PoolSize)
	assert.Equal(t, 1000, s.MaxRows)
	assert.Equal(t, 15*time.Second, s.QueryTimeout)
	assert.Equal(t, 30*time.Second, s.AcquireTimeout)
	assert.Equal(t, []string{"public"}, s.AllowedSchemas)
	assert.Equal(t, "public", s.DefaultSchema())
}

func TestSchemaAllowed(t *testing.T) {
	s := DefaultSettings()
	s.AllowedSchemas = []string{"public", "Analytics"}

	assert.True(t, s.SchemaAllowed("public"))
	assert.True(t, s.SchemaAllowed("ANALYTICS"))
	assert.False(t, s.SchemaAllowed("hr"))
}

func TestEnvOverlayWithPrefixFallback(t *testing.T) {
	t.Setenv("DB_HOST", "vertica-env")
	t.Setenv("DB_PORT", "5434")
	// MCP_-prefixed keys fill in whatever the bare key leaves unset.
	t.Setenv("DB_USER", "")
	t.Setenv("MCP_DB_USER", "mcp-user")

	o, err := EnvOverlay()
	require.NoError(t, err)

	require.NotNil(t, o.Host)
	assert.Equal(t, "vertica-env", *o.Host)
	require.NotNil(t, o.Port)
	assert.Equal(t, 5434, *o.Port)
	require.NotNil(t, o.User)
	assert.Equal(t, "mcp-user", *o.User)
	assert.Nil(t, o.Password)
}

func TestEnvOverlayBackupNodesInheritPort(t *testing.T) {
	t.Setenv("DB_PORT", "5434")
	t.Setenv("DB_BACKUP_NODES", "vertica-b,vertica-c:5500")

	o, err := EnvOverlay()
	require.NoError(t, err)
	assert.Equal(t, []Candidate{
		{Host: "vertica-b", Port: 5434},
		{Host: "vertica-c", Port: 5500},
	}, o.BackupNodes)
}

func TestEnvOverlayInvalidIntTreatedAsUnset(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")

	o, err := EnvOverlay()
	require.NoError(t, err)
	assert.Nil(t, o.Port)
}

func TestLoadSettingsEnvLayer(t *testing.T) {
	t.Setenv("POOL_SIZE", "4")
	t.Setenv("MAX_ROWS", "200")
	t.Setenv("QUERY_TIMEOUT_S", "5")
	t.Setenv("DB_CONNECTION_RETRIES", "6")
	t.Setenv("DB_CONNECTION_RETRY_BACKOFF_S", "0.25")
	t.Setenv("ALLOWED_SCHEMAS", "public, analytics")
	t.Setenv("HTTP_TOKEN", "sekrit")

	s, err := LoadSettings("")
	require.NoError(t, err)

	assert.Equal(t, 4, s.PoolSize)
	assert.Equal(t, 200, s.MaxRows)
	assert.Equal(t, 5*time.Second, s.QueryTimeout)
	assert.Equal(t, 6, s.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, s.Retry.BackoffBase)
	assert.Equal(t, []string{"public", "analytics"}, s.AllowedSchemas)
	assert.Equal(t, "sekrit", s.HTTPToken)
}

func TestLoadSettingsClampsNonsense(t *testing.T) {
	t.Setenv("POOL_SIZE", "0")
	t.Setenv("DB_CONNECTION_RETRIES", "-2")

	s, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, 1, s.PoolSize)
	assert.Equal(t, 1, s.Retry.MaxAttempts)
}

func TestLoadSettingsFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdiag.yaml")
	file := `
log:
  level: debug
pool:
  size: 3
query:
  max_rows: 50
database:
  host: vertica-file
  user: file-user
  password: file-pw
  database: ops
schemas:
  - public
  - analytics
`
	require.NoError(t, os.WriteFile(path, []byte(file), 0o644))

	// Env outranks the file.
	t.Setenv("MAX_ROWS", "75")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 3, s.PoolSize)
	assert.Equal(t, 75, s.MaxRows)
	assert.Equal(t, []string{"public", "analytics"}, s.AllowedSchemas)

	f, err := LoadFile(path)
	require.NoError(t, err)
	o, err := f.ProfileOverlay()
	require.NoError(t, err)
	require.NotNil(t, o.Host)
	assert.Equal(t, "vertica-file", *o.Host)
	require.NotNil(t, o.User)
	assert.Equal(t, "file-user", *o.User)
}
