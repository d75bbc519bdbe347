package backup

import (
	"sync"
	"time"

	"nexus/internal/utils"
)

const defaultAutoSaveDebounce = 500 * time.Millisecond

// AutoSaver debounces save requests. A burst of triggers collapses into a
// single save once the window elapses; triggers arriving while a save is
// running mark it queued, so exactly one trailing save follows.
type AutoSaver struct {
	save func() error
	log  *utils.Logger

	mu       sync.Mutex
	debounce time.Duration
	enabled  bool
	timer    *time.Timer
	inFlight bool
	queued   bool
}

// NewAutoSaver creates an enabled saver. A non-positive debounce uses the
// default window.
func NewAutoSaver(debounce time.Duration, save func() error) *AutoSaver {
	if debounce <= 0 {
		debounce = defaultAutoSaveDebounce
	}
	return &AutoSaver{
		save:     save,
		log:      utils.GetLogger(),
		debounce: debounce,
		enabled:  true,
	}
}

// SetDebounce reconfigures the saver. Disabling cancels a pending timer
// but lets an in-flight save finish.
func (s *AutoSaver) SetDebounce(enabled bool, debounce time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = enabled
	if debounce > 0 {
		s.debounce = debounce
	}
	if !enabled && s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Trigger requests a save. Each call restarts the debounce window.
func (s *AutoSaver) Trigger() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.flush)
}

// flush runs the save, looping once more when triggers arrived mid-save.
func (s *AutoSaver) flush() {
	s.mu.Lock()
	if s.inFlight {
		s.queued = true
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	for {
		if err := s.save(); err != nil {
			s.log.Error("auto-save failed: %v", err)
		}

		s.mu.Lock()
		if s.queued {
			s.queued = false
			s.mu.Unlock()
			continue
		}
		s.inFlight = false
		s.mu.Unlock()
		return
	}
}

// Stop cancels any pending save. An in-flight save is not interrupted.
func (s *AutoSaver) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
