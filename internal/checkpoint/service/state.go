package service

import (
	"sync"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

// Activity is a point-in-time copy of the process-wide flags.
type Activity struct {
	SystemActive          bool
	InteractionInProgress bool
	DoorOperationActive   bool
}

// State holds the activity flags and the active session map behind one
// mutex. Compound check-then-act operations are methods so they are
// atomic. A single coarse lock is enough at human scan rates and keeps
// the ordering rules simple.
type State struct {
	mu sync.Mutex

	systemActive          bool
	interactionInProgress bool
	doorOperationActive   bool

	sessions map[string]*types.AttendanceSession
}

// NewState returns an asleep, idle State with no active sessions.
func NewState() *State {
	return &State{sessions: make(map[string]*types.AttendanceSession)}
}

// TryBeginInteraction marks an interaction in progress unless one already is.
func (s *State) TryBeginInteraction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interactionInProgress {
		return false
	}
	s.interactionInProgress = true
	return true
}

// EndInteraction clears the interaction flag. Calling it while no
// interaction is running is a no-op.
func (s *State) EndInteraction() {
	s.mu.Lock()
	s.interactionInProgress = false
	s.mu.Unlock()
}

// InteractionInProgress reports whether a scan or enrollment holds the checkpoint.
func (s *State) InteractionInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactionInProgress
}

// SetSystemActive stores the raw presence state and reports whether it changed.
func (s *State) SetSystemActive(active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.systemActive != active
	s.systemActive = active
	return changed
}

// SystemActive is the raw presence state, before the UI grace period.
func (s *State) SystemActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemActive
}

// SetDoorOperationActive pauses presence polling while the door is moving.
func (s *State) SetDoorOperationActive(active bool) {
	s.mu.Lock()
	s.doorOperationActive = active
	s.mu.Unlock()
}

// DoorOperationActive reports whether the door is mid-cycle.
func (s *State) DoorOperationActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doorOperationActive
}

// Activity copies all three flags under one lock.
func (s *State) Activity() Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Activity{
		SystemActive:          s.systemActive,
		InteractionInProgress: s.interactionInProgress,
		DoorOperationActive:   s.doorOperationActive,
	}
}
