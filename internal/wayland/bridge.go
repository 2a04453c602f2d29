// Package wayland is the compositor bridge for COSMIC and other compositors
// that speak ext-foreign-toplevel-list plus the cosmic toplevel info and
// management protocols. The bridge runs on its own goroutine, locked to an
// OS thread, and owns the connection and every protocol object; the rest of
// the program talks to it only through a toplevel.Queue and a
// toplevel.Controller.
package wayland

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/chess10kp/dropterm/internal/toplevel"
)

// pollTimeout bounds each wait for compositor data so queued commands are
// picked up promptly even when the compositor is quiet.
const pollTimeout = 100 * time.Millisecond

const roundtripTimeout = 5 * time.Second

var (
	ErrNoToplevelList = errors.New("compositor does not advertise " + ifaceToplevelList)
	ErrListFinished   = errors.New("compositor stopped the toplevel list")
)

type global struct {
	name    uint32
	iface   string
	version uint32
}

// toplevelRecord mirrors one ext_foreign_toplevel_handle_v1 and its cosmic
// state handle. Properties are double-buffered until the matching done.
type toplevelRecord struct {
	id       uint32
	cosmicID uint32
	done     bool

	appID        string
	pendingAppID string

	hasState      bool
	minimized     bool
	activated     bool
	pendingStates []uint32
}

func (r *toplevelRecord) info() toplevel.Info {
	return toplevel.Info{
		AppID:     r.appID,
		HasState:  r.hasState,
		Minimized: r.minimized,
		Activated: r.activated,
	}
}

type Bridge struct {
	conn    *Conn
	log     *zap.SugaredLogger
	tracker *toplevel.Tracker[uint32]

	globals []global
	synced  map[uint32]bool

	registry uint32
	list     uint32
	info     uint32
	manager  uint32
	seat     uint32

	toplevels map[uint32]*toplevelRecord
	order     []uint32
	cosmic    map[uint32]uint32

	fatal error
}

// Start launches the bridge goroutine. The returned Controller is also sent
// on queue as a Ready event before any other event. If the compositor cannot
// be reached the goroutine logs the failure and exits; the Controller then
// drops commands.
func Start(target string, queue *toplevel.Queue, log *zap.SugaredLogger) toplevel.Controller {
	cmds := make(chan toplevel.Command, toplevel.CommandBuffer)
	done := make(chan struct{})
	ctl := toplevel.NewController(cmds, done, log)

	queue.Send(toplevel.Event{Kind: toplevel.Ready, Controller: ctl})

	go func() {
		defer close(done)
		runtime.LockOSThread()

		conn, err := Dial()
		if err != nil {
			log.Errorf("Wayland toplevel loop error: %v", err)
			return
		}
		defer conn.Close()

		b := NewBridge(conn, target, queue.Send, log)
		if err := b.Setup(); err != nil {
			log.Errorf("Wayland toplevel loop error: %v", err)
			return
		}
		if err := b.Loop(cmds); err != nil {
			log.Errorf("Wayland toplevel loop error: %v", err)
		}
	}()

	return ctl
}

func NewBridge(conn *Conn, target string, emit func(toplevel.Event), log *zap.SugaredLogger) *Bridge {
	return &Bridge{
		conn:      conn,
		log:       log,
		tracker:   toplevel.NewTracker[uint32](target, emit, log),
		synced:    make(map[uint32]bool),
		toplevels: make(map[uint32]*toplevelRecord),
		cosmic:    make(map[uint32]uint32),
	}
}

// Setup binds the globals the bridge needs and learns the toplevels that
// already exist.
func (b *Bridge) Setup() error {
	b.registry = b.conn.newObject(ifaceRegistry)
	b.conn.request(displayID, displayGetRegistry, newArgs().NewID(b.registry))
	if err := b.roundtrip(); err != nil {
		return err
	}

	listGlobal, ok := b.findGlobal(ifaceToplevelList)
	if !ok {
		return ErrNoToplevelList
	}

	if g, ok := b.findGlobal(ifaceCosmicInfo); ok && g.version >= infoMinVersion {
		b.info = b.bind(g, min(g.version, infoVersion))
	} else {
		b.log.Warnf("%s v%d not available - window state won't be tracked", ifaceCosmicInfo, infoMinVersion)
	}

	if g, ok := b.findGlobal(ifaceCosmicManager); ok {
		b.manager = b.bind(g, min(g.version, managerVersion))
	} else {
		b.log.Warnf("Toplevel manager not available - minimize/activate won't work")
	}

	if g, ok := b.findGlobal(ifaceSeat); ok {
		b.seat = b.bind(g, min(g.version, seatVersion))
	}

	// Bind the list last so every toplevel it announces can immediately get
	// its cosmic handle.
	b.list = b.bind(listGlobal, min(listGlobal.version, listVersion))

	return b.roundtrip()
}

// Loop runs until the connection fails or the compositor reports a fatal
// protocol error.
func (b *Bridge) Loop(cmds <-chan toplevel.Command) error {
	for {
	drain:
		for {
			select {
			case cmd := <-cmds:
				b.handleCommand(cmd)
				if err := b.conn.Flush(); err != nil {
					return err
				}
			default:
				break drain
			}
		}

		if err := b.dispatchPending(); err != nil {
			return err
		}
		if err := b.conn.Flush(); err != nil {
			return err
		}
		if err := b.conn.readTimeout(pollTimeout); err != nil {
			return err
		}
	}
}

func (b *Bridge) roundtrip() error {
	cb := b.conn.newObject(ifaceCallback)
	b.synced[cb] = false
	b.conn.request(displayID, displaySync, newArgs().NewID(cb))

	deadline := time.Now().Add(roundtripTimeout)
	for !b.synced[cb] {
		if err := b.conn.Flush(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return errors.New("timed out waiting for compositor roundtrip")
		}
		if err := b.conn.readTimeout(pollTimeout); err != nil {
			return err
		}
		if err := b.dispatchPending(); err != nil {
			return err
		}
	}
	delete(b.synced, cb)
	return nil
}

func (b *Bridge) findGlobal(iface string) (global, bool) {
	for _, g := range b.globals {
		if g.iface == iface {
			return g, true
		}
	}
	return global{}, false
}

func (b *Bridge) bind(g global, version uint32) uint32 {
	id := b.conn.newObject(g.iface)
	b.conn.request(b.registry, registryBind, newArgs().
		Uint(g.name).
		String(g.iface).
		Uint(version).
		NewID(id))
	b.log.Debugf("Bound %s v%d as object %d", g.iface, version, id)
	return id
}

func (b *Bridge) dispatchPending() error {
	for {
		msg, ok, err := b.conn.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := b.dispatch(msg); err != nil {
			return err
		}
		if b.fatal != nil {
			return b.fatal
		}
	}
}

func (b *Bridge) dispatch(msg message) error {
	iface, ok := b.conn.iface(msg.sender)
	if !ok {
		if !b.conn.isZombie(msg.sender) {
			b.log.Debugf("Event %d for unknown object %d", msg.opcode, msg.sender)
		}
		return nil
	}

	r := newReader(msg.args)
	switch iface {
	case ifaceDisplay:
		b.onDisplay(msg.opcode, r)
	case ifaceRegistry:
		b.onRegistry(msg.opcode, r)
	case ifaceCallback:
		if msg.opcode == callbackEventDone {
			b.synced[msg.sender] = true
			b.conn.forget(msg.sender)
		}
	case ifaceToplevelList:
		b.onList(msg.opcode, r)
	case ifaceToplevelHandle:
		b.onHandle(msg.sender, msg.opcode, r)
	case ifaceCosmicHandle:
		b.onCosmicHandle(msg.sender, msg.opcode, r)
	case ifaceCosmicManager:
		if msg.opcode == managerEventCapabilities {
			b.log.Debugf("Toplevel manager capabilities: %v", uint32s(r.Array()))
		}
	case ifaceCosmicInfo, ifaceSeat:
	}

	if err := r.Err(); err != nil {
		return fmt.Errorf("malformed %s event %d: %w", iface, msg.opcode, err)
	}
	return nil
}

func (b *Bridge) onDisplay(opcode uint16, r *reader) {
	switch opcode {
	case displayEventError:
		obj := r.Object()
		code := r.Uint()
		text := r.String()
		if r.Err() == nil {
			b.fatal = fmt.Errorf("compositor protocol error on object %d (code %d): %s", obj, code, text)
		}
	case displayEventDeleteID:
		b.conn.deleteID(r.Uint())
	}
}

func (b *Bridge) onRegistry(opcode uint16, r *reader) {
	switch opcode {
	case registryEventGlobal:
		g := global{name: r.Uint(), iface: r.String(), version: r.Uint()}
		if r.Err() == nil {
			b.globals = append(b.globals, g)
		}
	case registryEventGlobalRemove:
		name := r.Uint()
		for i, g := range b.globals {
			if g.name == name {
				b.globals = append(b.globals[:i], b.globals[i+1:]...)
				break
			}
		}
	}
}

func (b *Bridge) onList(opcode uint16, r *reader) {
	switch opcode {
	case listEventToplevel:
		id := r.NewID()
		if r.Err() != nil {
			return
		}
		b.conn.addServerObject(id, ifaceToplevelHandle)
		rec := &toplevelRecord{id: id}
		b.toplevels[id] = rec
		b.order = append(b.order, id)

		if b.info != 0 {
			rec.cosmicID = b.conn.newObject(ifaceCosmicHandle)
			b.cosmic[rec.cosmicID] = id
			b.conn.request(b.info, infoGetCosmicToplevel, newArgs().
				NewID(rec.cosmicID).
				Object(id))
		}
	case listEventFinished:
		b.fatal = ErrListFinished
	}
}

func (b *Bridge) onHandle(id uint32, opcode uint16, r *reader) {
	rec, ok := b.toplevels[id]
	if !ok {
		return
	}

	switch opcode {
	case handleEventAppID:
		rec.pendingAppID = r.String()
	case handleEventTitle, handleEventIdentifier:
		_ = r.String()
	case handleEventDone:
		rec.appID = rec.pendingAppID
		rec.done = true
		b.tracker.Update(id, rec.info())
	case handleEventClosed:
		b.removeToplevel(rec)
		b.tracker.Close(id)
	}
}

func (b *Bridge) onCosmicHandle(cosmicID uint32, opcode uint16, r *reader) {
	id, ok := b.cosmic[cosmicID]
	if !ok {
		return
	}
	rec, ok := b.toplevels[id]
	if !ok {
		return
	}

	switch opcode {
	case cosmicEventState:
		rec.pendingStates = uint32s(r.Array())
	case cosmicEventDone:
		rec.hasState = true
		rec.minimized = false
		rec.activated = false
		for _, s := range rec.pendingStates {
			switch s {
			case stateMinimized:
				rec.minimized = true
			case stateActivated:
				rec.activated = true
			}
		}
		if rec.done {
			b.tracker.Update(id, rec.info())
		}
	}
}

func (b *Bridge) removeToplevel(rec *toplevelRecord) {
	if rec.cosmicID != 0 {
		b.conn.request(rec.cosmicID, cosmicDestroy, nil)
		b.conn.forget(rec.cosmicID)
		delete(b.cosmic, rec.cosmicID)
	}
	b.conn.request(rec.id, handleDestroy, nil)
	b.conn.forget(rec.id)
	delete(b.toplevels, rec.id)
	for i, id := range b.order {
		if id == rec.id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *Bridge) handleCommand(cmd toplevel.Command) {
	if cmd.Kind == toplevel.SetTarget {
		b.tracker.SetTarget(cmd.AppID)
		b.adoptExisting()
		return
	}

	id, ok := b.tracker.Adopted()
	if !ok {
		b.log.Warnf("No toplevel handle, cannot execute command: %s", cmd)
		return
	}
	if b.manager == 0 {
		b.log.Debugf("No toplevel manager available, ignoring %s", cmd)
		return
	}
	rec := b.toplevels[id]
	if rec == nil || rec.cosmicID == 0 {
		b.log.Warnf("No cosmic handle for our toplevel, cannot execute command: %s", cmd)
		return
	}

	switch cmd.Kind {
	case toplevel.Minimize:
		b.conn.request(b.manager, managerSetMinimized, newArgs().Object(rec.cosmicID))
	case toplevel.Activate:
		b.conn.request(b.manager, managerUnsetMinimized, newArgs().Object(rec.cosmicID))
		if b.seat != 0 {
			b.conn.request(b.manager, managerActivate, newArgs().
				Object(rec.cosmicID).
				Object(b.seat))
		}
	}
}

// adoptExisting offers every known toplevel to the tracker, oldest first,
// after the target changed.
func (b *Bridge) adoptExisting() {
	if _, ok := b.tracker.Adopted(); ok {
		return
	}
	for _, id := range b.order {
		rec := b.toplevels[id]
		if rec == nil || !rec.done {
			continue
		}
		b.tracker.Update(id, rec.info())
		if _, ok := b.tracker.Adopted(); ok {
			return
		}
	}
}
