// Package process launches the drop-down terminal and deals with the pid it
// leaves behind. The launched process is never waited on directly: many
// terminals fork a detached child that owns the window and exit at once, so
// process exit says nothing about the window.
package process

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// QuakeAppID is the window identifier injected into every terminal that
// honours a class override.
const QuakeAppID = "dropterm"

// GhosttyAppID is what ghostty registers regardless of --class.
const GhosttyAppID = "com.mitchellh.ghostty"

type SpawnResult struct {
	PID   int
	AppID string
}

// ClassArgs returns the arguments that make the given terminal register a
// predictable window identifier, and that identifier.
func ClassArgs(command string) ([]string, string) {
	switch filepath.Base(command) {
	case "ghostty":
		// ghostty on GTK ignores --class; keep it out of any running instance.
		return []string{"--gtk-single-instance=false"}, GhosttyAppID
	case "foot":
		return []string{"--app-id=" + QuakeAppID}, QuakeAppID
	case "cosmic-term", "alacritty", "kitty", "wezterm":
		return []string{"--class", QuakeAppID}, QuakeAppID
	default:
		return []string{"--class", QuakeAppID}, QuakeAppID
	}
}

// ResolveAppID returns the window identifier the given terminal command will
// register once spawned.
func ResolveAppID(command string) string {
	_, appID := ClassArgs(command)
	return appID
}

// Spawn starts command detached and returns its pid together with the window
// identifier it is expected to register.
func Spawn(command string, args []string) (SpawnResult, error) {
	classArgs, appID := ClassArgs(command)

	argv := make([]string, 0, len(classArgs)+len(args))
	argv = append(argv, classArgs...)
	argv = append(argv, args...)

	cmd := exec.Command(command, argv...)
	if err := cmd.Start(); err != nil {
		return SpawnResult{}, fmt.Errorf("failed to spawn terminal '%s': %w", command, err)
	}

	pid := cmd.Process.Pid
	// Drop the handle; the pid is reaped with Reap once it is gone.
	if err := cmd.Process.Release(); err != nil {
		return SpawnResult{}, fmt.Errorf("failed to release terminal process %d: %w", pid, err)
	}

	return SpawnResult{PID: pid, AppID: appID}, nil
}

// Alive reports whether pid still refers to a running process. Zombies count
// as exited, otherwise an unreaped child would look alive forever.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if errors.Is(err, unix.ESRCH) {
		return false
	}
	// EPERM still means the pid exists.
	return !isZombie(pid)
}

func isZombie(pid int) bool {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return false
	}
	stat, err := proc.Stat()
	if err != nil {
		return false
	}
	return stat.State == "Z"
}

// Terminate sends SIGTERM. A pid that no longer exists is not an error.
func Terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(pid, unix.SIGTERM)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("failed to signal %d: %w", pid, err)
}

// Reap collects pid without blocking. It reports whether a child was
// actually collected; an unknown or already reaped pid is not an error.
func Reap(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	var status unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD), errors.Is(err, unix.ESRCH):
			return false, nil
		case err != nil:
			return false, fmt.Errorf("failed to reap %d: %w", pid, err)
		}
		return wpid == pid, nil
	}
}

// Manager is the logging front of this package used by the toggle state
// machine. Every failure is logged and swallowed.
type Manager struct {
	log *zap.SugaredLogger
}

func NewManager(log *zap.SugaredLogger) *Manager {
	return &Manager{log: log}
}

func (m *Manager) Spawn(command string, args []string) (SpawnResult, bool) {
	classArgs, appID := ClassArgs(command)
	m.log.Infof("Spawning terminal: %s %v %v (tracking app_id=%s)", command, classArgs, args, appID)

	res, err := Spawn(command, args)
	if err != nil {
		m.log.Errorf("%v", err)
		return SpawnResult{}, false
	}
	return res, true
}

func (m *Manager) Terminate(pid int) {
	if err := Terminate(pid); err != nil {
		m.log.Warnf("%v", err)
	}
}

func (m *Manager) Reap(pid int) {
	reaped, err := Reap(pid)
	if err != nil {
		m.log.Warnf("%v", err)
		return
	}
	if reaped {
		m.log.Debugf("Reaped terminal process %d", pid)
	}
}
