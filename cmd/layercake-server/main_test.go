package main

import (
	"context"
	"testing"

	"github.com/layercake/layercake/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreMemoryBackend(t *testing.T) {
	cfg := config.Default()
	st, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()
	assert.NotNil(t, st)
}

func TestOpenStoreSQLiteBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendSQLite
	cfg.SQLitePath = t.TempDir() + "/layercake.db"
	st, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()
	assert.NotNil(t, st)
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "oracle"
	_, err := openStore(context.Background(), cfg)
	assert.Error(t, err)
}
