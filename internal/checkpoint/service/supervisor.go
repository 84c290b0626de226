package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

// Supervisor runs per-event tasks (scans, enrollment, delayed UI resets)
// under one base context so shutdown can cancel and wait for them.
type Supervisor struct {
	ctx    context.Context
	logger *logging.Logger
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewSupervisor returns a supervisor whose tasks see ctx. Once ctx ends no
// new task is started.
func NewSupervisor(ctx context.Context, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Supervisor{ctx: ctx, logger: logger}
}

// Go runs fn in a goroutine and reports whether it was started. Tasks are
// refused after the base context ends or Wait has been called. A panic is
// logged and does not escape.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.stopped || s.ctx.Err() != nil {
		s.mu.Unlock()
		s.logger.Warnf("task %s refused: supervisor stopping", name)
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Errorf("task %s panicked: %v\n%s", name, r, debug.Stack())
			}
		}()
		fn(s.ctx)
	}()
	return true
}

// Wait stops accepting tasks and blocks until every started task has
// returned.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}
