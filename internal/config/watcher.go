package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads the config file whenever it changes on disk and delivers
// every successfully loaded and validated config on Changes.
type Watcher struct {
	path    string
	log     *zap.SugaredLogger
	changes chan *Config
}

func NewWatcher(path string, log *zap.SugaredLogger) *Watcher {
	return &Watcher{
		path:    filepath.Clean(ExpandPath(path)),
		log:     log,
		changes: make(chan *Config, 1),
	}
}

func (w *Watcher) Changes() <-chan *Config {
	return w.changes
}

// Run watches the directory holding the config file, since editors and
// SaveConfig replace the file instead of writing it in place.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.log.Infof("Watching config %s", w.path)

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnf("Config watcher error: %v", err)
		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) reload(ctx context.Context) {
	if _, err := os.Stat(w.path); err != nil {
		return
	}
	cfg, err := LoadAndValidateConfig(w.path)
	if err != nil {
		w.log.Warnf("Ignoring config change: %v", err)
		return
	}

	// Keep only the newest config if the consumer is behind.
	select {
	case <-w.changes:
	default:
	}
	select {
	case w.changes <- cfg:
	case <-ctx.Done():
	}
}
