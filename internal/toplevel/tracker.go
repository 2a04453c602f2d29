package toplevel

import (
	"go.uber.org/zap"
)

// Info is a snapshot of one toplevel's properties.
type Info struct {
	AppID string
	// HasState is false until the compositor has reported state flags.
	HasState  bool
	Minimized bool
	Activated bool
}

// Tracker follows at most one toplevel, the first one whose identifier
// matches the target, and turns its updates into events. H is whatever
// handle the bridge uses to tell toplevels apart.
//
// Minimized and Activated are only emitted when the minimized flag changes,
// so the echo of our own minimize/activate requests does not loop back.
type Tracker[H comparable] struct {
	target string
	emit   func(Event)
	log    *zap.SugaredLogger

	adopted    H
	hasAdopted bool

	lastKnown     bool
	lastMinimized bool
}

func NewTracker[H comparable](target string, emit func(Event), log *zap.SugaredLogger) *Tracker[H] {
	return &Tracker[H]{
		target: target,
		emit:   emit,
		log:    log,
	}
}

func (t *Tracker[H]) Target() string {
	return t.target
}

// SetTarget only affects future adoptions; a toplevel that is already
// adopted stays ours until it closes.
func (t *Tracker[H]) SetTarget(appID string) {
	if appID != t.target {
		t.log.Infof("Tracking app_id=%s (was %s)", appID, t.target)
	}
	t.target = appID
}

func (t *Tracker[H]) Adopted() (H, bool) {
	return t.adopted, t.hasAdopted
}

// Matches reports whether a toplevel with info would be adopted now.
func (t *Tracker[H]) Matches(info Info) bool {
	return !t.hasAdopted && t.target != "" && info.AppID == t.target
}

// Update handles a toplevel being added or changed.
func (t *Tracker[H]) Update(h H, info Info) {
	if !t.hasAdopted {
		if !t.Matches(info) {
			return
		}
		t.adopted = h
		t.hasAdopted = true
		t.lastKnown = false
		t.log.Infof("Found our toplevel: app_id=%s", info.AppID)
		t.emit(Event{Kind: Found})
	} else if h != t.adopted {
		return
	}

	if !info.HasState {
		return
	}
	if t.lastKnown && t.lastMinimized == info.Minimized {
		return
	}
	t.lastKnown = true
	t.lastMinimized = info.Minimized

	if info.Minimized {
		t.emit(Event{Kind: Minimized})
	} else if info.Activated {
		t.emit(Event{Kind: Activated})
	}
}

// Close handles a toplevel going away. Only the adopted one matters.
func (t *Tracker[H]) Close(h H) {
	if !t.hasAdopted || h != t.adopted {
		return
	}
	var zero H
	t.adopted = zero
	t.hasAdopted = false
	t.lastKnown = false
	t.log.Infof("Our toplevel closed")
	t.emit(Event{Kind: Closed})
}
