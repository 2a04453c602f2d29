package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, "cosmic-term", cfg.TerminalCommand)
	assert.Equal(t, 40, cfg.HeightPercent)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFillsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "terminal_command = \"foot\"\nterminal_args = [\"-e\", \"htop\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadAndValidateConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "foot", cfg.TerminalCommand)
	assert.Equal(t, []string{"-e", "htop"}, cfg.TerminalArgs)
	assert.Equal(t, 100, cfg.WidthPercent)
	assert.Equal(t, PositionTop, cfg.Position)
	assert.Equal(t, 15*time.Second, cfg.WindowWait())
}

func TestLoadConfigLogTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "terminal_command = \"foot\"\n\n[log]\nlevel = \"debug\"\ndevelopment = true\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadAndValidateConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)

	// Keys outside the table are not log settings.
	data = "log_level = \"debug\"\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := DefaultConfig
	cfg.TerminalCommand = "kitty"
	cfg.TerminalArgs = []string{"--single-instance"}

	require.NoError(t, SaveConfig(&cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "kitty", loaded.TerminalCommand)
	assert.Equal(t, []string{"--single-instance"}, loaded.TerminalArgs)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"empty command", func(c *Config) { c.TerminalCommand = "" }, true},
		{"empty arg", func(c *Config) { c.TerminalArgs = []string{""} }, true},
		{"height too small", func(c *Config) { c.HeightPercent = 5 }, true},
		{"width too large", func(c *Config) { c.WidthPercent = 120 }, true},
		{"bottom position", func(c *Config) { c.Position = PositionBottom }, false},
		{"bad position", func(c *Config) { c.Position = "left" }, true},
		{"bad monitor", func(c *Config) { c.Monitor = "HDMI-1" }, true},
		{"sway backend", func(c *Config) { c.Backend = BackendSway }, false},
		{"bad backend", func(c *Config) { c.Backend = "x11" }, true},
		{"no wait", func(c *Config) { c.WindowTimeout = 0 }, false},
		{"negative wait", func(c *Config) { c.WindowTimeout = -1 }, true},
		{"poll too fast", func(c *Config) { c.PollInterval = 10 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveBackend(t *testing.T) {
	cfg := DefaultConfig

	t.Setenv("SWAYSOCK", "")
	assert.Equal(t, BackendWayland, cfg.ResolveBackend())

	t.Setenv("SWAYSOCK", "/run/user/1000/sway-ipc.sock")
	assert.Equal(t, BackendSway, cfg.ResolveBackend())

	cfg.Backend = BackendWayland
	assert.Equal(t, BackendWayland, cfg.ResolveBackend())
}

func TestWatcherDeliversSavedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	expectWatchedSave(t, path, path)
}

func TestWatcherCleansPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	expectWatchedSave(t, dir+"/sub/../config.toml", filepath.Join(dir, "config.toml"))
}

// expectWatchedSave watches watchPath and saves to savePath until the
// watcher reports the saved config.
func expectWatchedSave(t *testing.T, watchPath, savePath string) {
	t.Helper()
	w := NewWatcher(watchPath, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cfg := DefaultConfig
	cfg.TerminalCommand = "alacritty"

	// The watch is registered asynchronously; keep saving until it is seen.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	require.NoError(t, SaveConfig(&cfg, savePath))

	for {
		select {
		case got := <-w.Changes():
			assert.Equal(t, "alacritty", got.TerminalCommand)
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			require.NoError(t, SaveConfig(&cfg, savePath))
		case <-deadline:
			t.Fatal("watcher did not deliver config change")
		}
	}
}
