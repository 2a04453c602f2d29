package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chess10kp/dropterm/internal/config"
	"github.com/chess10kp/dropterm/internal/process"
	"github.com/chess10kp/dropterm/internal/toplevel"
)

type fakeLauncher struct {
	mu         sync.Mutex
	nextPID    int
	fail       bool
	spawned    []string
	terminated []int
	reaped     []int
}

func (l *fakeLauncher) Spawn(command string, args []string) (process.SpawnResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return process.SpawnResult{}, false
	}
	l.spawned = append(l.spawned, command)
	return process.SpawnResult{PID: l.nextPID, AppID: process.ResolveAppID(command)}, true
}

func (l *fakeLauncher) Terminate(pid int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminated = append(l.terminated, pid)
}

func (l *fakeLauncher) Reap(pid int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reaped = append(l.reaped, pid)
}

func (l *fakeLauncher) spawnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.spawned)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig
	cfg.TerminalCommand = "foot"
	cfg.TerminalArgs = []string{"-e", "htop"}
	return &cfg
}

func newController() (toplevel.Controller, chan toplevel.Command) {
	cmds := make(chan toplevel.Command, toplevel.CommandBuffer)
	return toplevel.NewController(cmds, make(chan struct{}), zap.NewNop().Sugar()), cmds
}

// drain returns the commands sent so far.
func drain(cmds chan toplevel.Command) []toplevel.Command {
	var out []toplevel.Command
	for {
		select {
		case cmd := <-cmds:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

func kinds(cmds []toplevel.Command) []toplevel.CommandKind {
	var out []toplevel.CommandKind
	for _, c := range cmds {
		out = append(out, c.Kind)
	}
	return out
}

// newTestMachine returns an Idle machine with a connected bridge.
func newTestMachine(t *testing.T) (*Machine, *fakeLauncher, chan toplevel.Command) {
	t.Helper()
	launcher := &fakeLauncher{nextPID: 100}
	m := NewMachine(testConfig(), launcher, zap.NewNop().Sugar())

	ctl, cmds := newController()
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Ready, Controller: ctl})
	require.Equal(t, []toplevel.Command{{Kind: toplevel.SetTarget, AppID: "dropterm"}}, drain(cmds))
	return m, launcher, cmds
}

func toWaiting(t *testing.T, m *Machine) {
	t.Helper()
	m.HandleToggle()
	require.Equal(t, WaitingForWindow, m.State())
}

func toVisible(t *testing.T, m *Machine) {
	t.Helper()
	toWaiting(t, m)
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Found})
	require.Equal(t, Visible, m.State())
}

func toHidden(t *testing.T, m *Machine) {
	t.Helper()
	toVisible(t, m)
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Minimized})
	require.Equal(t, Hidden, m.State())
}

var reachStates = map[State]func(*testing.T, *Machine){
	Idle:             func(*testing.T, *Machine) {},
	WaitingForWindow: toWaiting,
	Visible:          toVisible,
	Hidden:           toHidden,
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Idle", Idle.String())
	assert.Equal(t, "WaitingForWindow", WaitingForWindow.String())
	assert.Equal(t, "Visible", Visible.String())
	assert.Equal(t, "Hidden", Hidden.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestSpawnThenFound(t *testing.T) {
	m, launcher, cmds := newTestMachine(t)

	m.HandleToggle()
	assert.Equal(t, WaitingForWindow, m.State())
	assert.Equal(t, int32(100), m.PID().Load())
	assert.Equal(t, []string{"foot"}, launcher.spawned)

	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Found})
	assert.Equal(t, Visible, m.State())
	assert.Equal(t, "Visible pid=100 app_id=dropterm", m.Status())
	assert.Empty(t, drain(cmds))
}

func TestSpawnFailureStaysIdle(t *testing.T) {
	m, launcher, cmds := newTestMachine(t)
	launcher.fail = true

	for i := 0; i < 3; i++ {
		m.HandleToggle()
		assert.Equal(t, Idle, m.State())
	}
	assert.Equal(t, int32(0), m.PID().Load())
	assert.Empty(t, drain(cmds))
	assert.Equal(t, "Idle", m.Status())
}

func TestToggleWhileWaitingIsIgnored(t *testing.T) {
	m, launcher, cmds := newTestMachine(t)
	toWaiting(t, m)

	m.HandleToggle()
	m.HandleToggle()
	assert.Equal(t, WaitingForWindow, m.State())
	assert.Len(t, launcher.spawned, 1)
	assert.Empty(t, drain(cmds))
}

func TestToggleMinimizesThenRestores(t *testing.T) {
	m, _, cmds := newTestMachine(t)
	toVisible(t, m)

	m.HandleToggle()
	assert.Equal(t, Hidden, m.State())
	assert.Equal(t, []toplevel.CommandKind{toplevel.Minimize}, kinds(drain(cmds)))

	// The compositor restored the window on its own.
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Activated})
	assert.Equal(t, Visible, m.State())
	assert.Empty(t, drain(cmds))

	m.HandleToggle()
	m.HandleToggle()
	assert.Equal(t, Visible, m.State())
	assert.Equal(t, []toplevel.CommandKind{toplevel.Minimize, toplevel.Activate}, kinds(drain(cmds)))
}

func TestClosedFromEveryState(t *testing.T) {
	for state, reach := range reachStates {
		t.Run(state.String(), func(t *testing.T) {
			m, launcher, _ := newTestMachine(t)
			reach(t, m)

			m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Closed})
			assert.Equal(t, Idle, m.State())
			assert.Equal(t, int32(0), m.PID().Load())

			if state == Idle {
				assert.Empty(t, launcher.terminated)
				assert.Empty(t, launcher.reaped)
			} else {
				assert.Equal(t, []int{100}, launcher.terminated)
				assert.Equal(t, []int{100}, launcher.reaped)
			}

			// A second close has nothing left to clean up.
			m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Closed})
			assert.Equal(t, Idle, m.State())
			assert.LessOrEqual(t, len(launcher.terminated), 1)
		})
	}
}

func TestProcessExitedKeepsState(t *testing.T) {
	for state, reach := range reachStates {
		t.Run(state.String(), func(t *testing.T) {
			m, launcher, cmds := newTestMachine(t)
			reach(t, m)
			drain(cmds)

			m.HandleProcessExited(100)
			assert.Equal(t, state, m.State())
			assert.Equal(t, []int{100}, launcher.reaped)
			assert.Empty(t, launcher.terminated)
			assert.Empty(t, drain(cmds))
		})
	}
}

func TestExitedThenClosed(t *testing.T) {
	m, launcher, _ := newTestMachine(t)
	toVisible(t, m)

	m.HandleProcessExited(100)
	assert.Equal(t, Visible, m.State())
	assert.Equal(t, int32(100), m.PID().Load())

	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Closed})
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, int32(0), m.PID().Load())
	assert.Equal(t, []int{100}, launcher.terminated)
	assert.Equal(t, []int{100, 100}, launcher.reaped)
}

func TestRepeatedFlagEventsAreIdempotent(t *testing.T) {
	m, _, _ := newTestMachine(t)
	toVisible(t, m)

	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Minimized})
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Minimized})
	assert.Equal(t, Hidden, m.State())

	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Activated})
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Activated})
	assert.Equal(t, Visible, m.State())
}

func TestFlagEventsNeedTrackedProcess(t *testing.T) {
	m, _, _ := newTestMachine(t)

	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Activated})
	assert.Equal(t, Idle, m.State())
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Minimized})
	assert.Equal(t, Idle, m.State())
}

func TestFoundOnlyEndsWait(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Found})
	assert.Equal(t, Idle, m.State())

	m, _, _ = newTestMachine(t)
	toHidden(t, m)
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Found})
	assert.Equal(t, Hidden, m.State())
}

// adoptWindow wires a real tracker to m the way a bridge does.
func adoptWindow(m *Machine) *toplevel.Tracker[uint32] {
	return toplevel.NewTracker[uint32]("dropterm", m.HandleToplevelEvent, zap.NewNop().Sugar())
}

func TestToggleShowsWindowAdoptedWhileIdle(t *testing.T) {
	m, launcher, cmds := newTestMachine(t)
	tr := adoptWindow(m)

	// A dropterm window left over from an earlier run.
	tr.Update(1, toplevel.Info{AppID: "dropterm"})
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, "Idle app_id=dropterm", m.Status())

	m.HandleToggle()
	assert.Equal(t, Visible, m.State())
	assert.Empty(t, launcher.spawned)
	assert.Equal(t, []toplevel.CommandKind{toplevel.Activate}, kinds(drain(cmds)))

	m.HandleToggle()
	assert.Equal(t, Hidden, m.State())
	assert.Equal(t, []toplevel.CommandKind{toplevel.Minimize}, kinds(drain(cmds)))

	// Flag edges count without a pid.
	tr.Update(1, toplevel.Info{AppID: "dropterm", HasState: true, Activated: true})
	assert.Equal(t, Visible, m.State())

	tr.Close(1)
	assert.Equal(t, Idle, m.State())
	assert.Empty(t, launcher.terminated)

	m.HandleToggle()
	assert.Equal(t, WaitingForWindow, m.State())
	assert.Equal(t, []string{"foot"}, launcher.spawned)
}

func TestLateWindowAfterWaitExpired(t *testing.T) {
	m, launcher, cmds := newTestMachine(t)
	tr := adoptWindow(m)

	toWaiting(t, m)
	m.HandleWaitExpired(m.WaitGeneration())
	require.Equal(t, Idle, m.State())

	// The terminal forked before the SIGTERM and its window shows up now.
	tr.Update(2, toplevel.Info{AppID: "dropterm"})
	assert.Equal(t, Idle, m.State())

	m.HandleToggle()
	assert.Equal(t, Visible, m.State())
	assert.Len(t, launcher.spawned, 1)
	assert.Equal(t, []toplevel.CommandKind{toplevel.Activate}, kinds(drain(cmds)))

	m.HandleToggle()
	m.HandleToggle()
	assert.Equal(t, Visible, m.State())
	assert.Len(t, launcher.spawned, 1)
}

func TestToggleWithoutBridge(t *testing.T) {
	launcher := &fakeLauncher{nextPID: 100}
	m := NewMachine(testConfig(), launcher, zap.NewNop().Sugar())

	m.HandleToggle()
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Found})
	require.Equal(t, Visible, m.State())

	// Nothing can minimize the window, but the state still follows intent.
	m.HandleToggle()
	assert.Equal(t, Hidden, m.State())
	m.HandleToggle()
	assert.Equal(t, Visible, m.State())
}

func TestToggleWithDeadBridge(t *testing.T) {
	launcher := &fakeLauncher{nextPID: 100}
	m := NewMachine(testConfig(), launcher, zap.NewNop().Sugar())

	done := make(chan struct{})
	close(done)
	// Unbuffered and never read: a send would block forever.
	ctl := toplevel.NewController(make(chan toplevel.Command), done, zap.NewNop().Sugar())
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Ready, Controller: ctl})

	toVisible(t, m)
	m.HandleToggle()
	assert.Equal(t, Hidden, m.State())
}

func TestWaitExpired(t *testing.T) {
	m, launcher, _ := newTestMachine(t)
	toWaiting(t, m)
	gen := m.WaitGeneration()

	m.HandleWaitExpired(gen - 1)
	assert.Equal(t, WaitingForWindow, m.State())

	m.HandleWaitExpired(gen)
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, int32(0), m.PID().Load())
	assert.Equal(t, []int{100}, launcher.terminated)

	// A late timer for a wait that already ended does nothing.
	toVisible(t, m)
	m.HandleWaitExpired(gen)
	m.HandleWaitExpired(m.WaitGeneration())
	assert.Equal(t, Visible, m.State())
}

func TestConfigChangeRetargets(t *testing.T) {
	m, _, cmds := newTestMachine(t)

	cfg := testConfig()
	cfg.TerminalCommand = "/usr/bin/ghostty"
	m.HandleConfigChanged(cfg)

	assert.Equal(t, process.GhosttyAppID, m.Target())
	assert.Equal(t, []toplevel.Command{{Kind: toplevel.SetTarget, AppID: process.GhosttyAppID}}, drain(cmds))

	m.HandleToggle()
	assert.Equal(t, WaitingForWindow, m.State())
}

func TestReadyPushesCurrentTarget(t *testing.T) {
	cfg := testConfig()
	cfg.TerminalCommand = "ghostty"
	m := NewMachine(cfg, &fakeLauncher{}, zap.NewNop().Sugar())

	ctl, cmds := newController()
	m.HandleToplevelEvent(toplevel.Event{Kind: toplevel.Ready, Controller: ctl})
	assert.Equal(t, []toplevel.Command{{Kind: toplevel.SetTarget, AppID: process.GhosttyAppID}}, drain(cmds))
}
