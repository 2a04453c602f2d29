package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const DefaultPath = "~/.config/dropterm/config.toml"

type Config struct {
	TerminalCommand string   `toml:"terminal_command"`
	TerminalArgs    []string `toml:"terminal_args"`
	HeightPercent   int      `toml:"height_percent"`
	WidthPercent    int      `toml:"width_percent"`
	Monitor         string   `toml:"monitor"`
	Position        string   `toml:"position"`

	Backend       string `toml:"backend"`
	SocketPath    string `toml:"socket_path"`
	WindowTimeout int    `toml:"window_timeout"` // seconds, 0 waits forever
	PollInterval  int    `toml:"poll_interval"`  // milliseconds

	Log LogConfig `toml:"log"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

const (
	BackendAuto    = "auto"
	BackendWayland = "wayland"
	BackendSway    = "sway"

	PositionTop    = "top"
	PositionBottom = "bottom"

	MonitorFocused = "focused"
)

var DefaultConfig = Config{
	TerminalCommand: "cosmic-term",
	TerminalArgs:    nil,
	HeightPercent:   40,
	WidthPercent:    100,
	Monitor:         MonitorFocused,
	Position:        PositionTop,
	Backend:         BackendAuto,
	SocketPath:      defaultSocketPath(),
	WindowTimeout:   15,
	PollInterval:    1000,
	Log: LogConfig{
		Level:       "info",
		Development: false,
	},
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "dropterm.sock")
	}
	return "/tmp/dropterm.sock"
}

// WindowWait is the bounded wait for the spawned terminal's window.
func (c *Config) WindowWait() time.Duration {
	return time.Duration(c.WindowTimeout) * time.Second
}

func (c *Config) LivenessInterval() time.Duration {
	if c.PollInterval <= 0 {
		return time.Second
	}
	return time.Duration(c.PollInterval) * time.Millisecond
}

// ResolveBackend maps "auto" onto a concrete backend using the session
// environment.
func (c *Config) ResolveBackend() string {
	if c.Backend != "" && c.Backend != BackendAuto {
		return c.Backend
	}
	if os.Getenv("SWAYSOCK") != "" {
		return BackendSway
	}
	return BackendWayland
}

func LoadConfig(path string) (*Config, error) {
	expandedPath := ExpandPath(path)

	if _, err := os.Stat(expandedPath); os.IsNotExist(err) {
		cfg := DefaultConfig
		return &cfg, nil
	}

	data, err := os.ReadFile(expandedPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", expandedPath, err)
	}

	cfg.SocketPath = ExpandPath(cfg.SocketPath)
	cfg.TerminalCommand = strings.TrimSpace(cfg.TerminalCommand)

	return &cfg, nil
}

func LoadAndValidateConfig(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		usr, err := user.Current()
		if err == nil {
			return filepath.Join(usr.HomeDir, path[1:])
		}
	}
	return path
}

func SaveConfig(cfg *Config, path string) error {
	expandedPath := ExpandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Write then rename so the watcher never sees a half-written file.
	tmp := expandedPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, expandedPath)
}

func (c *Config) Validate() error {
	if err := c.validateTerminal(); err != nil {
		return err
	}
	if err := c.validateGeometry(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateTimers(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTerminal() error {
	if c.TerminalCommand == "" {
		return fmt.Errorf("terminal_command must not be empty")
	}
	for i, arg := range c.TerminalArgs {
		if arg == "" {
			return fmt.Errorf("terminal_args[%d] is empty", i)
		}
	}
	return nil
}

func (c *Config) validateGeometry() error {
	if c.HeightPercent < 10 || c.HeightPercent > 100 {
		return fmt.Errorf("invalid height_percent: %d (must be 10-100)", c.HeightPercent)
	}
	if c.WidthPercent < 10 || c.WidthPercent > 100 {
		return fmt.Errorf("invalid width_percent: %d (must be 10-100)", c.WidthPercent)
	}
	if c.Position != PositionTop && c.Position != PositionBottom {
		return fmt.Errorf("invalid position: %s (must be one of: top, bottom)", c.Position)
	}
	if c.Monitor != MonitorFocused {
		return fmt.Errorf("invalid monitor: %s (must be: focused)", c.Monitor)
	}
	return nil
}

func (c *Config) validateBackend() error {
	switch c.Backend {
	case BackendAuto, BackendWayland, BackendSway:
	default:
		return fmt.Errorf("invalid backend: %s (must be one of: auto, wayland, sway)", c.Backend)
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path must not be empty")
	}
	return nil
}

func (c *Config) validateTimers() error {
	if c.WindowTimeout < 0 || c.WindowTimeout > 600 {
		return fmt.Errorf("invalid window_timeout: %d (must be 0-600s)", c.WindowTimeout)
	}
	if c.PollInterval < 100 || c.PollInterval > 60000 {
		return fmt.Errorf("invalid poll_interval: %d (must be 100-60000ms)", c.PollInterval)
	}
	return nil
}
