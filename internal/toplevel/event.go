// Package toplevel is the contract between a compositor bridge and the toggle
// state machine: the events a bridge reports about the tracked window, the
// commands it accepts, and the Controller handle used to send them.
package toplevel

import (
	"fmt"

	"go.uber.org/zap"
)

type Kind int

const (
	// Ready carries the Controller for the bridge that produced it.
	Ready Kind = iota
	// Found is sent when a toplevel matching the target is adopted.
	Found
	Minimized
	Activated
	// Closed is sent when the adopted toplevel goes away.
	Closed
)

func (k Kind) String() string {
	switch k {
	case Ready:
		return "Ready"
	case Found:
		return "Found"
	case Minimized:
		return "Minimized"
	case Activated:
		return "Activated"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Event struct {
	Kind       Kind
	Controller Controller
}

func (e Event) String() string {
	return e.Kind.String()
}

type CommandKind int

const (
	Minimize CommandKind = iota
	Activate
	// SetTarget changes the identifier used to recognise our toplevel.
	SetTarget
)

func (k CommandKind) String() string {
	switch k {
	case Minimize:
		return "Minimize"
	case Activate:
		return "Activate"
	case SetTarget:
		return "SetTarget"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

type Command struct {
	Kind  CommandKind
	AppID string
}

func (c Command) String() string {
	if c.Kind == SetTarget {
		return fmt.Sprintf("SetTarget(%s)", c.AppID)
	}
	return c.Kind.String()
}

// CommandBuffer is the capacity of a bridge's command channel.
const CommandBuffer = 16

// Controller sends commands to a bridge goroutine. Copies share the same
// channel. Having a Controller does not mean a window is tracked.
type Controller struct {
	cmds chan<- Command
	done <-chan struct{}
	log  *zap.SugaredLogger
}

// NewController wraps a bridge's command channel. done is closed by the
// bridge when it stops reading commands.
func NewController(cmds chan<- Command, done <-chan struct{}, log *zap.SugaredLogger) Controller {
	return Controller{cmds: cmds, done: done, log: log}
}

func (c Controller) Minimize() {
	c.send(Command{Kind: Minimize})
}

func (c Controller) Activate() {
	c.send(Command{Kind: Activate})
}

func (c Controller) SetTarget(appID string) {
	c.send(Command{Kind: SetTarget, AppID: appID})
}

func (c Controller) send(cmd Command) {
	if c.cmds == nil {
		return
	}
	select {
	case <-c.done:
		c.dropped(cmd)
		return
	default:
	}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		c.dropped(cmd)
	}
}

func (c Controller) dropped(cmd Command) {
	if c.log != nil {
		c.log.Warnf("Compositor bridge is not running, dropping command %s", cmd)
	}
}
