// Package monitor polls the tracked terminal pid and reports when it is
// gone. It never decides anything about the window: the terminal may have
// handed its window to a reparented child.
package monitor

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/chess10kp/dropterm/internal/process"
)

// Exited is sent once per tracked pid when it no longer refers to a live
// process.
type Exited struct {
	PID int
}

type Monitor struct {
	pid      *atomic.Int32
	interval time.Duration
	alive    func(pid int) bool
	log      *zap.SugaredLogger
	exited   chan Exited
}

// New watches the pid cell shared with the state machine. A zero pid means
// nothing is tracked.
func New(pid *atomic.Int32, interval time.Duration, log *zap.SugaredLogger) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		pid:      pid,
		interval: interval,
		alive:    process.Alive,
		log:      log,
		exited:   make(chan Exited, 1),
	}
}

func (m *Monitor) Exited() <-chan Exited {
	return m.exited
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var reported int32
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		pid := m.pid.Load()
		if pid == 0 || pid == reported {
			continue
		}
		if m.alive(int(pid)) {
			continue
		}

		reported = pid
		m.log.Infof("Terminal process %d exited", pid)
		select {
		case m.exited <- Exited{PID: int(pid)}:
		case <-ctx.Done():
			return nil
		}
	}
}
