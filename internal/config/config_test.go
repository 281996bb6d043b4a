package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("TABLE_PREFIX", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DEBUG", "")
	t.Setenv("TOOL_WAIT_TIMEOUT", "")
	t.Setenv("PERSIST_INTERVAL", "not-a-duration")

	cfg := Load()
	assert.Equal(t, "prod_", cfg.TablePrefix)
	assert.False(t, cfg.Debug)
	assert.Equal(t, StoreDriverSQLite, cfg.StoreDriver)
	assert.Equal(t, DefaultToolWaitTimeout, cfg.Engine.ToolWaitTimeout)
	assert.Equal(t, DefaultPersistInterval, cfg.Engine.PersistInterval)
	assert.NotEmpty(t, cfg.Engine.Notices.Interrupted)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("TABLE_PREFIX", "x_")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("TOOL_WAIT_TIMEOUT", "5s")
	t.Setenv("DEBUG", "")

	cfg := Load()
	assert.Equal(t, "x_", cfg.TablePrefix)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 5*time.Second, cfg.Engine.ToolWaitTimeout)
	assert.True(t, cfg.Debug)
}

func TestLoadEngineOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persist_interval: 200ms\nnotices:\n  interrupted: \"(stopped)\"\n"), 0o600))

	base := EngineConfig{ToolWaitTimeout: time.Minute, PersistInterval: 150 * time.Millisecond, Notices: DefaultNotices()}
	got, err := LoadEngineOverlay(path, base)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, got.ToolWaitTimeout)
	assert.Equal(t, 200*time.Millisecond, got.PersistInterval)
	assert.Equal(t, "(stopped)", got.Notices.Interrupted)
	assert.Equal(t, DefaultNotices().NoContent, got.Notices.NoContent)
}

func TestLoadEngineOverlayMissingFile(t *testing.T) {
	base := EngineConfig{ToolWaitTimeout: time.Minute}
	got, err := LoadEngineOverlay(filepath.Join(t.TempDir(), "nope.yaml"), base)
	assert.Error(t, err)
	assert.Equal(t, base, got)
}

func TestSetupLogFilePrunes(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"server-2020-01-01T00-00-00.log", "server-2020-01-02T00-00-00.log", "server-2020-01-03T00-00-00.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	f, err := SetupLogFile(dir, 2)
	require.NoError(t, err)
	defer f.Close()

	files, err := filepath.Glob(filepath.Join(dir, "server-*.log"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.NotContains(t, files, filepath.Join(dir, "server-2020-01-01T00-00-00.log"))
}
