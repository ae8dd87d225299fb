package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/layercake/layercake/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestLoadFromEnvOverridesBackend(t *testing.T) {
	t.Setenv("LAYERCAKE_BACKEND", "sqlite")
	t.Setenv("LAYERCAKE_SQLITE_PATH", "/tmp/lc.db")
	t.Setenv("LAYERCAKE_WORKER_POOL_SIZE", "8")

	c := config.LoadFromEnv()
	assert.Equal(t, config.BackendSQLite, c.Backend)
	assert.Equal(t, "/tmp/lc.db", c.SQLitePath)
	assert.Equal(t, 8, c.WorkerPoolSize)
	require.NoError(t, c.Validate())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	c := config.Default()
	c.Backend = "oracle"
	assert.Error(t, c.Validate())
}

func TestValidateRequiresBackendSpecificFields(t *testing.T) {
	c := config.Default()
	c.Backend = config.BackendPostgres
	c.PostgresDSN = ""
	assert.Error(t, c.Validate())

	c.PostgresDSN = "postgres://localhost/layercake"
	assert.NoError(t, c.Validate())
}

func TestLoadFileAppliesYAMLOverOtherwiseDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layercake.yaml")
	contents := "backend: badger\nbadger_dir: /data/layercake\nworker_pool_size: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	c, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.BackendBadger, c.Backend)
	assert.Equal(t, "/data/layercake", c.BadgerDir)
	assert.Equal(t, 2, c.WorkerPoolSize)
	assert.Equal(t, 64, c.EventBusCapacity, "fields absent from the file keep their default")
}

func TestLoadFileMissingReturnsError(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
