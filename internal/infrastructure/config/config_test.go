package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "snapshots", cfg.Snapshot.Dir)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SNAPSHOT_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9191", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Snapshot.Enabled)
}

func TestLoadBoardEmptyPath(t *testing.T) {
	board, err := LoadBoard("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBoard(), board)
}

func TestLoadBoardOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[ram]
app_base = 0x20008000
app_size = 0x8000

[policy]
restart = "always"
`), 0o644))

	board, err := LoadBoard(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x20008000), board.RAM.AppBase)
	assert.Equal(t, uint32(0x8000), board.RAM.AppSize)
	assert.Equal(t, "always", board.Policy.Restart)

	// Sections the file omits keep their defaults.
	assert.Equal(t, DefaultBoard().Flash, board.Flash)
	assert.Equal(t, 4, board.Processes.Capacity)
}

func TestLoadBoardMissingFile(t *testing.T) {
	_, err := LoadBoard(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadBoardMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.toml")
	require.NoError(t, os.WriteFile(path, []byte("[flash\nkernel_base ="), 0o644))
	_, err := LoadBoard(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultBoard().Validate())

	b := DefaultBoard()
	b.Flash.AppSize = 0
	assert.ErrorContains(t, b.Validate(), "empty application")

	b = DefaultBoard()
	b.Processes.Capacity = 0
	assert.ErrorContains(t, b.Validate(), "capacity")

	b = DefaultBoard()
	b.Policy.Restart = "sometimes"
	assert.ErrorContains(t, b.Validate(), "unknown restart policy")

	b = DefaultBoard()
	b.Policy.Restart = "upto"
	b.Policy.MaxRestarts = 0
	assert.ErrorContains(t, b.Validate(), "max_restarts")

	b = DefaultBoard()
	b.Policy.Restart = "stop"
	assert.NoError(t, b.Validate())
}
