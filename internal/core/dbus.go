package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	BusName          = "io.github.chess10kp.Dropterm"
	ObjectPath       = dbus.ObjectPath("/io/github/chess10kp/Dropterm")
	ApplicationIface = "org.freedesktop.Application"

	ActionToggle = "toggle"
)

// ErrAlreadyRunning means another daemon owns the bus name.
var ErrAlreadyRunning = errors.New("dropterm is already running")

// DBusService owns the bus name, which makes it the single-instance guard,
// and exports org.freedesktop.Application so desktop launchers can toggle.
type DBusService struct {
	app     *App
	conn    *dbus.Conn
	log     *zap.SugaredLogger
	mu      sync.Mutex
	running bool
}

func NewDBusService(app *App, log *zap.SugaredLogger) *DBusService {
	return &DBusService{app: app, log: log}
}

func (d *DBusService) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("D-Bus service already running")
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	if err := conn.Export(application{d}, ObjectPath, ApplicationIface); err != nil {
		conn.Close()
		return fmt.Errorf("failed to export interface: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return ErrAlreadyRunning
	}

	d.conn = conn
	d.running = true
	d.log.Infof("D-Bus service started on %s", BusName)
	return nil
}

func (d *DBusService) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false

	var err error
	if _, relErr := d.conn.ReleaseName(BusName); relErr != nil {
		err = fmt.Errorf("failed to release %s: %w", BusName, relErr)
	}
	d.conn.Close()
	d.conn = nil

	d.log.Infof("D-Bus service stopped")
	return err
}

func (d *DBusService) toggle() *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), ipcTimeout)
	defer cancel()

	if _, err := d.app.Toggle(ctx); err != nil {
		d.log.Warnf("Toggle over D-Bus failed: %v", err)
		return dbus.MakeFailedError(err)
	}
	return nil
}

// application is the exported object. Only its methods are visible on the
// bus.
type application struct {
	d *DBusService
}

func (a application) Activate(platformData map[string]dbus.Variant) *dbus.Error {
	a.d.log.Debugf("Activate called")
	return a.d.toggle()
}

// Open ignores uris; there is nothing to open.
func (a application) Open(uris []string, platformData map[string]dbus.Variant) *dbus.Error {
	a.d.log.Debugf("Open called with %d uris", len(uris))
	return a.d.toggle()
}

func (a application) ActivateAction(name string, parameter []dbus.Variant, platformData map[string]dbus.Variant) *dbus.Error {
	a.d.log.Debugf("ActivateAction called: %s", name)
	if name != ActionToggle {
		return dbus.MakeFailedError(fmt.Errorf("unknown action %q", name))
	}
	return a.d.toggle()
}

// ActivateToggle asks a running daemon to toggle over the session bus.
func ActivateToggle() error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer conn.Close()

	call := conn.Object(BusName, ObjectPath).Call(
		ApplicationIface+".ActivateAction", 0,
		ActionToggle, []dbus.Variant{}, map[string]dbus.Variant{},
	)
	if call.Err != nil {
		return fmt.Errorf("failed to activate %s: %w", BusName, call.Err)
	}
	return nil
}
