// Package watcher monitors the live data directory and reports external
// modifications, so unsaved changes made by other processes (or a sync
// download dropped into place) still end up in the next auto-save and
// backup cycle.
package watcher

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"nexus/internal/utils"
)

const (
	// DefaultDebounceDuration batches rapid bursts of file events.
	DefaultDebounceDuration = 1 * time.Second

	// DefaultQuietPeriod defers the callback while files are still being
	// written, so a half-finished copy is not picked up mid-flight.
	// Zero disables quiet-period handling.
	DefaultQuietPeriod = 2 * time.Second
)

// Config holds data-directory watcher settings.
type Config struct {
	Paths            []string      // files or directories to watch
	DebounceDuration time.Duration // window for batching rapid changes
	QuietPeriod      time.Duration // settle time before firing (0 = disabled)
	OnChange         func()        // invoked after changes settle
}

// DefaultConfig returns a Config with the standard timings.
func DefaultConfig(onChange func()) *Config {
	return &Config{
		DebounceDuration: DefaultDebounceDuration,
		QuietPeriod:      DefaultQuietPeriod,
		OnChange:         onChange,
	}
}

// Watcher observes the configured paths and fires OnChange once activity
// settles.
type Watcher struct {
	cfg     *Config
	fsw     *fsnotify.Watcher
	log     *utils.Logger
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

// New creates a watcher. Start must be called before events flow.
func New(cfg *Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, utils.IOError(err, "failed to create file watcher")
	}

	return &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		log:    utils.GetLogger(),
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins watching the configured paths. Paths that do not exist yet
// are skipped; they may be created later and re-added by the caller.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return utils.ValidationError("watcher has been stopped and cannot be restarted")
	}
	w.mu.Unlock()

	for _, path := range w.cfg.Paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := w.fsw.Add(path); err != nil {
			return utils.IOError(err, "failed to watch path %q", path)
		}
	}

	go w.eventLoop()

	return nil
}

// Stop stops the watcher and releases its resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	_ = w.fsw.Close()
}

// eventLoop coalesces file events. In quiet-period mode the callback
// fires only after QuietPeriod elapses without new events; otherwise a
// plain debounce window applies.
func (w *Watcher) eventLoop() {
	var debounceTimer *time.Timer
	var quietTimer *time.Timer

	debounceCh := make(chan struct{}, 1)
	quietCh := make(chan struct{}, 1)

	resetDebounce := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(w.cfg.DebounceDuration, func() {
			select {
			case debounceCh <- struct{}{}:
			default:
			}
		})
	}

	resetQuiet := func() {
		if quietTimer != nil {
			quietTimer.Stop()
		}
		if w.cfg.QuietPeriod > 0 {
			quietTimer = time.AfterFunc(w.cfg.QuietPeriod, func() {
				select {
				case quietCh <- struct{}{}:
				default:
				}
			})
		}
	}

	pending := false

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			if quietTimer != nil {
				quietTimer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if w.cfg.QuietPeriod > 0 {
				pending = true
				resetQuiet()
			} else {
				resetDebounce()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error: %v", err)

		case <-debounceCh:
			if w.cfg.OnChange != nil {
				w.cfg.OnChange()
			}

		case <-quietCh:
			if pending && w.cfg.OnChange != nil {
				w.cfg.OnChange()
				pending = false
			}
		}
	}
}
