package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/cloudsink"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
)

var (
	ErrInvalidCardID     = errors.New("card_id is required")
	ErrSessionExists     = errors.New("session already active")
	ErrNoActiveSession   = errors.New("no active session")
	ErrAlreadyOnBreak    = errors.New("session already on break")
	ErrNotOnBreak        = errors.New("session not on break")
	ErrMissingBreakStart = errors.New("session on break without a break start")
)

// Arrival is the ledger transition taken for a verified scan.
type Arrival int

// Arrival kinds.
const (
	ArrivalEntry Arrival = iota + 1
	ArrivalReturn
	ArrivalAskAction
	// ArrivalAnomaly: the session was flagged on break with no break
	// start. The flag is cleared and the user is asked what to do.
	ArrivalAnomaly
)

// String returns the name used in logs and the audit trail.
func (a Arrival) String() string {
	switch a {
	case ArrivalEntry:
		return "entry"
	case ArrivalReturn:
		return "return"
	case ArrivalAskAction:
		return "ask_action"
	case ArrivalAnomaly:
		return "anomaly"
	default:
		return "unknown"
	}
}

// ArrivalResult is what Arrive did and the session as it stands afterwards.
type ArrivalResult struct {
	Kind    Arrival
	Session types.AttendanceSession
	// BreakDuration is set for ArrivalReturn.
	BreakDuration time.Duration
}

// LedgerDeps wires a Ledger. Snapshots, Cycles and Sink are optional.
type LedgerDeps struct {
	State     *State
	Snapshots store.SnapshotStore
	Cycles    store.CycleLog
	Sink      cloudsink.Sink
	Clock     clock.Clock
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Ledger owns the active session map stored in State. Every mutation
// rewrites the snapshot before the lock is released.
type Ledger struct {
	state     *State
	snapshots store.SnapshotStore
	cycles    store.CycleLog
	sink      cloudsink.Sink
	clock     clock.Clock
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

// NewLedger fills defaults for the clock, logger and optional stores.
func NewLedger(d LedgerDeps) *Ledger {
	if d.State == nil {
		d.State = NewState()
	}
	if d.Sink == nil {
		d.Sink = cloudsink.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	return &Ledger{
		state:     d.State,
		snapshots: d.Snapshots,
		cycles:    d.Cycles,
		sink:      d.Sink,
		clock:     d.Clock,
		logger:    d.Logger,
		metrics:   d.Metrics,
	}
}

// Restore replaces the active map with the persisted snapshot and returns
// the number of sessions loaded.
func (l *Ledger) Restore(ctx context.Context) (int, error) {
	if l.snapshots == nil {
		return 0, nil
	}
	sessions, err := l.snapshots.LoadSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("Ledger.Restore: %w", err)
	}

	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	l.state.sessions = make(map[string]*types.AttendanceSession, len(sessions))
	for _, s := range sessions {
		if strings.TrimSpace(s.CardID) == "" {
			continue
		}
		c := s.Clone()
		l.state.sessions[c.CardID] = &c
	}
	l.metrics.SetActiveSessions(len(l.state.sessions))
	return len(l.state.sessions), nil
}

// CheckIn opens a session for cardID. It fails with ErrSessionExists if
// the card is already checked in.
func (l *Ledger) CheckIn(ctx context.Context, cardID, name string) (types.AttendanceSession, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return types.AttendanceSession{}, ErrInvalidCardID
	}

	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	if _, ok := l.state.sessions[cardID]; ok {
		return types.AttendanceSession{}, ErrSessionExists
	}
	s := l.checkInLocked(cardID, name, l.clock.Now())
	l.persistLocked(ctx)
	return s.Clone(), nil
}

func (l *Ledger) checkInLocked(cardID, name string, now time.Time) *types.AttendanceSession {
	s := &types.AttendanceSession{CardID: cardID, Name: name, EntryTime: now}
	l.state.sessions[cardID] = s
	return s
}

// StartBreak puts an active session on break.
func (l *Ledger) StartBreak(ctx context.Context, cardID string) (types.AttendanceSession, error) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	s, ok := l.state.sessions[cardID]
	if !ok {
		return types.AttendanceSession{}, ErrNoActiveSession
	}
	if s.OnBreak {
		return types.AttendanceSession{}, ErrAlreadyOnBreak
	}
	now := l.clock.Now()
	s.OnBreak = true
	s.BreakStart = &now
	l.persistLocked(ctx)
	return s.Clone(), nil
}

// EndBreak closes the running break and returns its duration.
func (l *Ledger) EndBreak(ctx context.Context, cardID string) (time.Duration, error) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	s, ok := l.state.sessions[cardID]
	if !ok {
		return 0, ErrNoActiveSession
	}
	if !s.OnBreak {
		return 0, ErrNotOnBreak
	}
	if s.BreakStart == nil {
		s.OnBreak = false
		l.persistLocked(ctx)
		return 0, ErrMissingBreakStart
	}
	d := closeBreak(s, l.clock.Now())
	l.persistLocked(ctx)
	return d, nil
}

func closeBreak(s *types.AttendanceSession, now time.Time) time.Duration {
	start := *s.BreakStart
	d := now.Sub(start)
	s.Breaks = append(s.Breaks, types.BreakInterval{Start: start, End: now})
	s.TotalBreakSeconds += d.Seconds()
	s.BreakStart = nil
	s.OnBreak = false
	return d
}

// Arrive applies the transition for a verified scan of cardID in one
// critical section.
func (l *Ledger) Arrive(ctx context.Context, cardID, name string) (ArrivalResult, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return ArrivalResult{}, ErrInvalidCardID
	}
	now := l.clock.Now()

	l.state.mu.Lock()
	defer l.state.mu.Unlock()

	s, ok := l.state.sessions[cardID]
	if !ok {
		s = l.checkInLocked(cardID, name, now)
		l.persistLocked(ctx)
		return ArrivalResult{Kind: ArrivalEntry, Session: s.Clone()}, nil
	}

	s.Name = name
	switch {
	case s.OnBreak && s.BreakStart != nil:
		d := closeBreak(s, now)
		l.persistLocked(ctx)
		return ArrivalResult{Kind: ArrivalReturn, Session: s.Clone(), BreakDuration: d}, nil
	case s.OnBreak:
		s.OnBreak = false
		l.logger.Warnf("ledger anomaly: card %s flagged on break without a break start; flag cleared", cardID)
		l.persistLocked(ctx)
		return ArrivalResult{Kind: ArrivalAnomaly, Session: s.Clone()}, nil
	default:
		return ArrivalResult{Kind: ArrivalAskAction, Session: s.Clone()}, nil
	}
}

// Leave closes the session and returns the completed record. The cycle
// log and the sink are written after the lock is released; their failures
// are logged and do not undo the transition.
func (l *Ledger) Leave(ctx context.Context, cardID string) (types.AttendanceRecord, error) {
	now := l.clock.Now()

	l.state.mu.Lock()
	s, ok := l.state.sessions[cardID]
	if !ok {
		l.state.mu.Unlock()
		return types.AttendanceRecord{}, ErrNoActiveSession
	}
	delete(l.state.sessions, cardID)
	l.persistLocked(ctx)
	l.state.mu.Unlock()

	rec := types.AttendanceRecord{
		CardID:             s.CardID,
		Name:               s.Name,
		Entry:              s.EntryTime,
		Exit:               now,
		NetDurationSeconds: NetSeconds(s.EntryTime, now, s.TotalBreakSeconds),
		TotalBreakSeconds:  s.TotalBreakSeconds,
		Breaks:             append([]types.BreakInterval(nil), s.Breaks...),
	}

	if l.cycles != nil {
		if err := l.cycles.AppendCycle(ctx, rec); err != nil {
			l.logger.Errorf("ledger: append cycle for %s: %v", cardID, err)
		}
	}
	if err := l.sink.LogAttendance(ctx, rec); err != nil {
		l.logger.Warnf("ledger: sink for %s: %v", cardID, err)
	}
	return rec, nil
}

// NetSeconds is the elapsed time minus breaks, floored at zero.
func NetSeconds(entry, exit time.Time, totalBreakSeconds float64) float64 {
	return math.Max(0, exit.Sub(entry).Seconds()-totalBreakSeconds)
}

// Session returns a copy of the active session for cardID.
func (l *Ledger) Session(cardID string) (types.AttendanceSession, bool) {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	s, ok := l.state.sessions[cardID]
	if !ok {
		return types.AttendanceSession{}, false
	}
	return s.Clone(), true
}

// SnapshotAll returns every active session ordered by entry time.
func (l *Ledger) SnapshotAll() []types.AttendanceSession {
	l.state.mu.Lock()
	defer l.state.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() []types.AttendanceSession {
	out := make([]types.AttendanceSession, 0, len(l.state.sessions))
	for _, s := range l.state.sessions {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].CardID < out[j].CardID
	})
	return out
}

// persistLocked must be called with state.mu held.
func (l *Ledger) persistLocked(ctx context.Context) {
	l.metrics.SetActiveSessions(len(l.state.sessions))
	if l.snapshots == nil {
		return
	}
	if err := l.snapshots.SaveSessions(ctx, l.snapshotLocked()); err != nil {
		l.logger.Errorf("ledger: persist snapshot: %v", err)
	}
}
