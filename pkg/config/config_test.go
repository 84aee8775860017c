package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sluicelabs/sluice/pkg/adapters/file"
	"github.com/sluicelabs/sluice/pkg/adapters/memory"
	"github.com/sluicelabs/sluice/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Zero(t, cfg.MaxSupersteps)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store: file
filePath: /tmp/workflows
maxSupersteps: 250
logLevel: debug
redis:
  address: redis.internal:6380
  db: 3
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Store)
	assert.Equal(t, "/tmp/workflows", cfg.FilePath)
	assert.Equal(t, 250, cfg.MaxSupersteps)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Address)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: file\n"), 0o644))

	t.Setenv("SLUICE_STORE", "memory")
	t.Setenv("SLUICE_MAX_SUPERSTEPS", "42")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 42, cfg.MaxSupersteps)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("SLUICE_STORE", "etcd")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "unknown store backend")

	t.Setenv("SLUICE_STORE", "memory")
	t.Setenv("SLUICE_LOG_LEVEL", "loud")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "unknown log level")
}

func TestConfig_NewStore(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	store, err := cfg.NewStore()
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	cfg.Store = "file"
	cfg.FilePath = t.TempDir()
	store, err = cfg.NewStore()
	require.NoError(t, err)
	assert.IsType(t, &file.Store{}, store)
}
