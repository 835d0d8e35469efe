package sensors

import (
	"sync"
	"time"
)

// State is the single process-wide sensor snapshot. The reader task writes
// it through a Decoder; every other goroutine reads copies.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewState returns an empty state.
func NewState() *State {
	return &State{now: time.Now}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// ResetButton clears the edge flags of one button.
func (s *State) ResetButton(id ButtonID) {
	if id < 0 || int(id) >= NumButtons {
		return
	}
	s.mu.Lock()
	s.snap.Buttons[id].Reset()
	s.mu.Unlock()
}

// TakeRelease reports whether button id has a pending release and, if so,
// resets it in the same critical section so the event is consumed once.
func (s *State) TakeRelease(id ButtonID) bool {
	if id < 0 || int(id) >= NumButtons {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snap.Buttons[id].Released {
		return false
	}
	s.snap.Buttons[id].Reset()
	return true
}

// update applies fn under the write lock and stamps the snapshot.
func (s *State) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.snap.Frames++
	s.snap.UpdatedAt = s.now()
}
