package core

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/chess10kp/dropterm/internal/config"
	"github.com/chess10kp/dropterm/internal/process"
	"github.com/chess10kp/dropterm/internal/toplevel"
)

type State int

const (
	Idle State = iota
	WaitingForWindow
	Visible
	Hidden
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitingForWindow:
		return "WaitingForWindow"
	case Visible:
		return "Visible"
	case Hidden:
		return "Hidden"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Launcher starts and cleans up the terminal process.
type Launcher interface {
	Spawn(command string, args []string) (process.SpawnResult, bool)
	Terminate(pid int)
	Reap(pid int)
}

// Commander sends window commands to the compositor bridge.
type Commander interface {
	Minimize()
	Activate()
	SetTarget(appID string)
}

// Machine is the toggle state machine. It is not safe for concurrent use:
// every method runs on the App loop goroutine. The tracked pid is the only
// thing shared, read by the liveness monitor.
type Machine struct {
	state    State
	cfg      *config.Config
	target   string
	pid      *atomic.Int32
	launcher Launcher
	ctl      Commander
	log      *zap.SugaredLogger

	// adopted is set while the bridge follows a window for us, which can
	// outlive the pid: a window left by an earlier run, or one that shows
	// up after the wait gave up.
	adopted bool

	// waitGen identifies the current wait for a window, so a timer armed
	// for an earlier wait cannot end a later one.
	waitGen uint64
}

func NewMachine(cfg *config.Config, launcher Launcher, log *zap.SugaredLogger) *Machine {
	return &Machine{
		state:    Idle,
		cfg:      cfg,
		target:   process.ResolveAppID(cfg.TerminalCommand),
		pid:      atomic.NewInt32(0),
		launcher: launcher,
		log:      log,
	}
}

func (m *Machine) State() State {
	return m.state
}

// PID is the cell shared with the liveness monitor.
func (m *Machine) PID() *atomic.Int32 {
	return m.pid
}

func (m *Machine) Target() string {
	return m.target
}

func (m *Machine) Config() *config.Config {
	return m.cfg
}

// WaitGeneration changes every time the machine starts waiting for a window.
func (m *Machine) WaitGeneration() uint64 {
	return m.waitGen
}

func (m *Machine) Status() string {
	if pid := m.pid.Load(); pid != 0 {
		return fmt.Sprintf("%s pid=%d app_id=%s", m.state, pid, m.target)
	}
	if m.adopted {
		return fmt.Sprintf("%s app_id=%s", m.state, m.target)
	}
	return m.state.String()
}

func (m *Machine) tracked() bool {
	return m.adopted || m.pid.Load() != 0
}

func (m *Machine) setState(next State) {
	if next != m.state {
		m.log.Debugf("%s -> %s", m.state, next)
	}
	m.state = next
}

func (m *Machine) HandleToggle() {
	switch m.state {
	case Idle:
		if m.adopted {
			m.log.Infof("Window for app_id=%s already exists, showing it", m.target)
			m.command(Commander.Activate)
			m.setState(Visible)
			return
		}
		res, ok := m.launcher.Spawn(m.cfg.TerminalCommand, m.cfg.TerminalArgs)
		if !ok {
			return
		}
		m.log.Infof("Spawned terminal pid=%d, waiting for app_id=%s", res.PID, res.AppID)
		m.pid.Store(int32(res.PID))
		m.waitGen++
		m.setState(WaitingForWindow)
	case WaitingForWindow:
		m.log.Infof("Toggle ignored, still waiting for the terminal window")
	case Visible:
		m.command(Commander.Minimize)
		m.setState(Hidden)
	case Hidden:
		m.command(Commander.Activate)
		m.setState(Visible)
	}
}

func (m *Machine) command(send func(Commander)) {
	if m.ctl == nil {
		m.log.Warnf("No compositor bridge, window command has no effect")
		return
	}
	send(m.ctl)
}

func (m *Machine) HandleToplevelEvent(ev toplevel.Event) {
	switch ev.Kind {
	case toplevel.Ready:
		m.ctl = ev.Controller
		m.ctl.SetTarget(m.target)
	case toplevel.Found:
		m.adopted = true
		if m.state == WaitingForWindow {
			m.setState(Visible)
		}
	case toplevel.Minimized:
		if m.tracked() {
			m.setState(Hidden)
		}
	case toplevel.Activated:
		if m.tracked() {
			m.setState(Visible)
		}
	case toplevel.Closed:
		m.clear()
	}
}

// clear drops the tracked process and returns to Idle. Safe in every state.
func (m *Machine) clear() {
	if pid := int(m.pid.Load()); pid != 0 {
		m.launcher.Terminate(pid)
		m.launcher.Reap(pid)
	}
	m.pid.Store(0)
	m.adopted = false
	m.setState(Idle)
}

// HandleProcessExited only reaps. The window may belong to a reparented
// child that is still running, so the state is left to the bridge.
func (m *Machine) HandleProcessExited(pid int) {
	m.launcher.Reap(pid)
}

// HandleWaitExpired gives up on the window of wait gen if it never
// appeared.
func (m *Machine) HandleWaitExpired(gen uint64) {
	if m.state != WaitingForWindow || gen != m.waitGen {
		return
	}
	m.log.Warnf("No window with app_id=%s appeared after %s, giving up", m.target, m.cfg.WindowWait())
	m.clear()
}

func (m *Machine) HandleConfigChanged(cfg *config.Config) {
	m.cfg = cfg
	target := process.ResolveAppID(cfg.TerminalCommand)
	if target != m.target {
		m.log.Infof("Terminal changed to %s, tracking app_id=%s", cfg.TerminalCommand, target)
	}
	m.target = target
	if m.ctl != nil {
		m.ctl.SetTarget(target)
	}
}
