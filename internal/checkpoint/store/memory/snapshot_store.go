package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

var ErrInjected = errors.New("memory: injected failure")

// SnapshotStore keeps the latest snapshot in memory and counts saves.
type SnapshotStore struct {
	mu       sync.Mutex
	sessions []types.AttendanceSession
	saves    int
	fail     bool
}

var _ store.SnapshotStore = (*SnapshotStore)(nil)

func NewSnapshotStore(initial ...types.AttendanceSession) *SnapshotStore {
	return &SnapshotStore{sessions: cloneSessions(initial)}
}

func (s *SnapshotStore) SaveSessions(_ context.Context, sessions []types.AttendanceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return ErrInjected
	}
	s.sessions = cloneSessions(sessions)
	s.saves++
	return nil
}

func (s *SnapshotStore) LoadSessions(_ context.Context) ([]types.AttendanceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSessions(s.sessions), nil
}

// Saves reports how many successful SaveSessions calls were made.
func (s *SnapshotStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Sessions returns the last saved snapshot.
func (s *SnapshotStore) Sessions() []types.AttendanceSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSessions(s.sessions)
}

// FailSaves makes subsequent saves return ErrInjected.
func (s *SnapshotStore) FailSaves(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func cloneSessions(in []types.AttendanceSession) []types.AttendanceSession {
	out := make([]types.AttendanceSession, 0, len(in))
	for _, s := range in {
		out = append(out, s.Clone())
	}
	return out
}
