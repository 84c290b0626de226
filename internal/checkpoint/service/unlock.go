package service

import (
	"context"
	"sync"
)

// UnlockSignal is the level-triggered handoff from the scan path to the
// door controller. Set is idempotent; only the controller clears it.
type UnlockSignal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

func NewUnlockSignal() *UnlockSignal {
	return &UnlockSignal{ch: make(chan struct{})}
}

func (u *UnlockSignal) Set() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.set {
		u.set = true
		close(u.ch)
	}
}

func (u *UnlockSignal) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.set {
		u.set = false
		u.ch = make(chan struct{})
	}
}

func (u *UnlockSignal) IsSet() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.set
}

// Wait blocks until the signal is set or ctx ends.
func (u *UnlockSignal) Wait(ctx context.Context) error {
	u.mu.Lock()
	ch := u.ch
	u.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
