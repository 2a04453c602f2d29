// Package sway is the compositor bridge for sway and other i3-ipc
// compositors. Sway has no minimize, so the scratchpad stands in for it:
// a window in the scratchpad counts as minimized.
package sway

import (
	"context"
	"fmt"

	"github.com/joshuarubin/go-sway"
	"go.uber.org/zap"

	"github.com/chess10kp/dropterm/internal/toplevel"
)

const scratchpadWorkspace = "__i3_scratch"

// Geometry places the adopted window as a floating drop-down.
type Geometry struct {
	WidthPercent  int
	HeightPercent int
	Bottom        bool
}

// Client is the part of the sway IPC client the bridge uses.
type Client interface {
	GetTree(ctx context.Context) (*sway.Node, error)
	RunCommand(ctx context.Context, command string) ([]sway.RunCommandReply, error)
}

type view struct {
	id        int64
	appID     string
	minimized bool
	focused   bool
}

type Bridge struct {
	client   Client
	log      *zap.SugaredLogger
	tracker  *toplevel.Tracker[int64]
	geometry Geometry
	views    map[int64]view
}

type windowHandler struct {
	sway.EventHandler
	windows chan<- sway.WindowEvent
}

func (h windowHandler) Window(ctx context.Context, ev sway.WindowEvent) {
	select {
	case h.windows <- ev:
	case <-ctx.Done():
	}
}

// Start launches the bridge goroutine and sends its Controller on queue as
// a Ready event.
func Start(target string, geometry Geometry, queue *toplevel.Queue, log *zap.SugaredLogger) toplevel.Controller {
	cmds := make(chan toplevel.Command, toplevel.CommandBuffer)
	done := make(chan struct{})
	ctl := toplevel.NewController(cmds, done, log)

	queue.Send(toplevel.Event{Kind: toplevel.Ready, Controller: ctl})

	go func() {
		defer close(done)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client, err := sway.New(ctx)
		if err != nil {
			log.Errorf("Sway IPC error: %v", err)
			return
		}

		windows := make(chan sway.WindowEvent, 16)
		subErr := make(chan error, 1)
		go func() {
			handler := windowHandler{EventHandler: sway.NoOpEventHandler(), windows: windows}
			subErr <- sway.Subscribe(ctx, handler, sway.EventTypeWindow)
		}()

		b := NewBridge(client, target, geometry, queue.Send, log)
		if err := b.Loop(ctx, cmds, windows, subErr); err != nil {
			log.Errorf("Sway IPC error: %v", err)
		}
	}()

	return ctl
}

func NewBridge(client Client, target string, geometry Geometry, emit func(toplevel.Event), log *zap.SugaredLogger) *Bridge {
	return &Bridge{
		client:   client,
		log:      log,
		tracker:  toplevel.NewTracker[int64](target, emit, log),
		geometry: geometry,
		views:    make(map[int64]view),
	}
}

// Loop owns the tracker: window events and commands are handled one at a
// time on the calling goroutine.
func (b *Bridge) Loop(ctx context.Context, cmds <-chan toplevel.Command, windows <-chan sway.WindowEvent, subErr <-chan error) error {
	if err := b.refresh(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-cmds:
			b.handleCommand(ctx, cmd)
		case ev := <-windows:
			if err := b.onWindow(ctx, ev); err != nil {
				return err
			}
		case err := <-subErr:
			if err == nil {
				err = fmt.Errorf("sway event subscription ended")
			}
			return err
		}
	}
}

func (b *Bridge) onWindow(ctx context.Context, ev sway.WindowEvent) error {
	if ev.Change == sway.WindowClose {
		delete(b.views, ev.Container.ID)
		b.tracker.Close(ev.Container.ID)
		return nil
	}
	return b.refresh(ctx)
}

// refresh re-reads the tree and feeds every view to the tracker in tree
// order.
func (b *Bridge) refresh(ctx context.Context) error {
	tree, err := b.client.GetTree(ctx)
	if err != nil {
		return fmt.Errorf("failed to get sway tree: %w", err)
	}

	var views []view
	collectViews(tree, false, &views)

	b.views = make(map[int64]view, len(views))
	for _, v := range views {
		b.views[v.id] = v
	}

	// A close event can be missed across a reconnect; the tree is the truth.
	if id, ok := b.tracker.Adopted(); ok {
		if _, present := b.views[id]; !present {
			b.tracker.Close(id)
		}
	}

	for _, v := range views {
		_, had := b.tracker.Adopted()
		b.tracker.Update(v.id, toplevel.Info{
			AppID:     v.appID,
			HasState:  true,
			Minimized: v.minimized,
			Activated: v.focused,
		})
		if id, ok := b.tracker.Adopted(); ok && !had && id == v.id {
			b.run(ctx, geometryCommand(v.id, b.geometry))
		}
	}
	return nil
}

func collectViews(n *sway.Node, scratch bool, out *[]view) {
	if n == nil {
		return
	}
	if string(n.Type) == "workspace" && n.Name == scratchpadWorkspace {
		scratch = true
	}
	if n.AppID != nil && (string(n.Type) == "con" || string(n.Type) == "floating_con") {
		*out = append(*out, view{
			id:        n.ID,
			appID:     *n.AppID,
			minimized: scratch,
			focused:   n.Focused,
		})
	}
	for _, child := range n.Nodes {
		collectViews(child, scratch, out)
	}
	for _, child := range n.FloatingNodes {
		collectViews(child, scratch, out)
	}
}

func (b *Bridge) handleCommand(ctx context.Context, cmd toplevel.Command) {
	if cmd.Kind == toplevel.SetTarget {
		b.tracker.SetTarget(cmd.AppID)
		if err := b.refresh(ctx); err != nil {
			b.log.Warnf("%v", err)
		}
		return
	}

	id, ok := b.tracker.Adopted()
	if !ok {
		b.log.Warnf("No tracked window, cannot execute command: %s", cmd)
		return
	}

	switch cmd.Kind {
	case toplevel.Minimize:
		b.run(ctx, fmt.Sprintf("[con_id=%d] move scratchpad", id))
	case toplevel.Activate:
		if b.views[id].minimized {
			b.run(ctx, fmt.Sprintf("[con_id=%d] scratchpad show", id))
			b.run(ctx, geometryCommand(id, b.geometry))
		}
		b.run(ctx, fmt.Sprintf("[con_id=%d] focus", id))
	}
}

func (b *Bridge) run(ctx context.Context, command string) {
	replies, err := b.client.RunCommand(ctx, command)
	if err != nil {
		b.log.Warnf("Sway command %q failed: %v", command, err)
		return
	}
	for _, r := range replies {
		if !r.Success {
			b.log.Warnf("Sway command %q failed: %s", command, r.Error)
		}
	}
}

func geometryCommand(id int64, g Geometry) string {
	x := (100 - g.WidthPercent) / 2
	y := 0
	if g.Bottom {
		y = 100 - g.HeightPercent
	}
	return fmt.Sprintf("[con_id=%d] floating enable, resize set width %d ppt height %d ppt, move position %d ppt %d ppt",
		id, g.WidthPercent, g.HeightPercent, x, y)
}
