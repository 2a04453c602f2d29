// Package core runs the toggle state machine on a single loop goroutine and
// connects it to the compositor bridge, the liveness monitor, the config
// watcher and the activation surfaces.
package core

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chess10kp/dropterm/internal/config"
	"github.com/chess10kp/dropterm/internal/monitor"
	"github.com/chess10kp/dropterm/internal/process"
	"github.com/chess10kp/dropterm/internal/sway"
	"github.com/chess10kp/dropterm/internal/toplevel"
	"github.com/chess10kp/dropterm/internal/wayland"
)

// ErrNotRunning is returned to activation surfaces once the loop has stopped.
var ErrNotRunning = errors.New("dropterm is not running")

type requestKind int

const (
	requestToggle requestKind = iota
	requestStatus
	requestReload
)

type request struct {
	kind  requestKind
	reply chan<- response
}

type response struct {
	status string
	err    error
}

// BridgeStarter launches a compositor bridge that reports on queue.
type BridgeStarter func(cfg *config.Config, target string, queue *toplevel.Queue, log *zap.SugaredLogger)

// App is the dropterm daemon.
type App struct {
	cfgPath  string
	log      *zap.SugaredLogger
	machine  *Machine
	queue    *toplevel.Queue
	monitor  *monitor.Monitor
	watcher  *config.Watcher
	ipc      *IPCServer
	dbus     *DBusService
	bridge   BridgeStarter
	requests chan request
	stopped  chan struct{}
}

// NewApp wires the daemon for cfg, which was loaded from cfgPath.
func NewApp(cfg *config.Config, cfgPath string, log *zap.SugaredLogger) *App {
	a := newApp(cfg, cfgPath, process.NewManager(log.Named("process")), log)
	a.bridge = StartBridge
	a.watcher = config.NewWatcher(cfgPath, log.Named("config"))
	a.dbus = NewDBusService(a, log.Named("dbus"))
	return a
}

func newApp(cfg *config.Config, cfgPath string, launcher Launcher, log *zap.SugaredLogger) *App {
	machine := NewMachine(cfg, launcher, log.Named("toggle"))
	a := &App{
		cfgPath:  cfgPath,
		log:      log,
		machine:  machine,
		queue:    toplevel.NewQueue(),
		monitor:  monitor.New(machine.PID(), cfg.LivenessInterval(), log.Named("monitor")),
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}
	a.ipc = NewIPCServer(a, cfg.SocketPath, log.Named("ipc"))
	return a
}

// StartBridge picks the compositor bridge for the configured backend.
func StartBridge(cfg *config.Config, target string, queue *toplevel.Queue, log *zap.SugaredLogger) {
	switch backend := cfg.ResolveBackend(); backend {
	case config.BackendSway:
		log.Infof("Using sway backend")
		geometry := sway.Geometry{
			WidthPercent:  cfg.WidthPercent,
			HeightPercent: cfg.HeightPercent,
			Bottom:        cfg.Position == config.PositionBottom,
		}
		sway.Start(target, geometry, queue, log)
	default:
		log.Infof("Using wayland backend")
		wayland.Start(target, queue, log)
	}
}

// Run blocks until ctx is cancelled or SIGINT/SIGTERM arrives. SIGUSR1
// toggles.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	a.log.Infof("dropterm starting...")

	if a.dbus != nil {
		if err := a.dbus.Start(); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				return err
			}
			a.log.Warnf("D-Bus activation unavailable: %v", err)
			a.dbus = nil
		}
	}

	ipcUp := true
	if err := a.ipc.Listen(); err != nil {
		a.log.Errorf("Failed to start IPC server: %v", err)
		ipcUp = false
	}

	if a.bridge != nil {
		a.bridge(a.machine.Config(), a.machine.Target(), a.queue, a.log.Named("bridge"))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(ctx) })
	if a.watcher != nil {
		g.Go(func() error {
			if err := a.watcher.Run(ctx); err != nil {
				a.log.Warnf("Config changes will not be picked up: %v", err)
			}
			return nil
		})
	}
	if ipcUp {
		g.Go(func() error { return a.ipc.Serve(ctx) })
	}
	g.Go(func() error { return a.loop(ctx, usr1) })

	a.log.Infof("Initialization complete")

	err := g.Wait()
	close(a.stopped)
	return multierr.Append(err, a.shutdown())
}

func (a *App) shutdown() error {
	a.log.Infof("Shutting down...")
	var err error
	if a.dbus != nil {
		err = multierr.Append(err, a.dbus.Stop())
	}
	err = multierr.Append(err, a.ipc.Stop())
	return err
}

func (a *App) loop(ctx context.Context, usr1 <-chan os.Signal) error {
	var changes <-chan *config.Config
	if a.watcher != nil {
		changes = a.watcher.Changes()
	}
	events := a.queue.Events()

	var (
		waitTimer *time.Timer
		waitC     <-chan time.Time
		armedGen  uint64
	)
	defer func() {
		if waitTimer != nil {
			waitTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-a.requests:
			a.handleRequest(req)
		case <-usr1:
			a.log.Infof("Received SIGUSR1, toggling")
			a.machine.HandleToggle()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			a.log.Debugf("Toplevel event: %s", ev)
			a.machine.HandleToplevelEvent(ev)
		case ex := <-a.monitor.Exited():
			a.machine.HandleProcessExited(ex.PID)
		case cfg := <-changes:
			a.applyConfig(cfg)
		case <-waitC:
			waitC = nil
			a.machine.HandleWaitExpired(armedGen)
		}

		wait := a.machine.Config().WindowWait()
		switch {
		case a.machine.State() == WaitingForWindow && wait > 0:
			if gen := a.machine.WaitGeneration(); waitC == nil || gen != armedGen {
				if waitTimer != nil {
					waitTimer.Stop()
				}
				waitTimer = time.NewTimer(wait)
				waitC = waitTimer.C
				armedGen = gen
			}
		case waitC != nil:
			waitTimer.Stop()
			waitC = nil
		}
	}
}

func (a *App) handleRequest(req request) {
	var resp response
	switch req.kind {
	case requestToggle:
		a.machine.HandleToggle()
		resp.status = a.machine.Status()
	case requestStatus:
		resp.status = a.machine.Status()
	case requestReload:
		cfg, err := config.LoadAndValidateConfig(a.cfgPath)
		if err != nil {
			a.log.Warnf("Reload failed: %v", err)
			resp.err = err
			break
		}
		a.applyConfig(cfg)
		resp.status = a.machine.Status()
	}
	if req.reply != nil {
		req.reply <- resp
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	old := a.machine.Config()
	if cfg.ResolveBackend() != old.ResolveBackend() {
		a.log.Warnf("Backend change to %s takes effect after restart", cfg.Backend)
	}
	if cfg.SocketPath != old.SocketPath {
		a.log.Warnf("Socket path change to %s takes effect after restart", cfg.SocketPath)
	}
	a.machine.HandleConfigChanged(cfg)
}

// post hands a request to the loop and waits for its answer.
func (a *App) post(ctx context.Context, kind requestKind) (response, error) {
	reply := make(chan response, 1)
	select {
	case a.requests <- request{kind: kind, reply: reply}:
	case <-a.stopped:
		return response{}, ErrNotRunning
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Toggle asks the loop to toggle and returns the resulting status.
func (a *App) Toggle(ctx context.Context) (string, error) {
	resp, err := a.post(ctx, requestToggle)
	if err != nil {
		return "", err
	}
	return resp.status, resp.err
}

func (a *App) Status(ctx context.Context) (string, error) {
	resp, err := a.post(ctx, requestStatus)
	if err != nil {
		return "", err
	}
	return resp.status, resp.err
}

// Reload re-reads the config file now instead of waiting for the watcher.
func (a *App) Reload(ctx context.Context) (string, error) {
	resp, err := a.post(ctx, requestReload)
	if err != nil {
		return "", err
	}
	return resp.status, resp.err
}
