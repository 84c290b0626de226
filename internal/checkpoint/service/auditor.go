package service

import (
	"context"

	"github.com/zeebo/blake3"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

// Scan decision outcomes written to the audit log.
const (
	OutcomeEnrollmentRequested = "enrollment_requested"
	OutcomeEnrolled            = "enrolled"
	OutcomeDenied              = "denied"
	OutcomeEntry               = "entry"
	OutcomeReturn              = "return"
	OutcomeAskAction           = "ask_action"
	OutcomeAnomaly             = "anomaly"
	OutcomeBreak               = "break"
	OutcomeLeave               = "leave"
	OutcomeAdminGranted        = "admin_granted"
	OutcomeAdminDenied         = "admin_denied"
)

// HashCardID returns the 32-byte blake3 digest stored instead of the raw UID.
func HashCardID(cardID string) []byte {
	sum := blake3.Sum256([]byte(cardID))
	return sum[:]
}

// Auditor records scan decisions. A failed audit write is logged and
// never changes the decision. A nil *Auditor records nothing.
type Auditor struct {
	events store.ScanEventStore
	clock  clock.Clock
	logger *logging.Logger
}

func NewAuditor(events store.ScanEventStore, c clock.Clock, logger *logging.Logger) *Auditor {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Auditor{events: events, clock: c, logger: logger}
}

func (a *Auditor) Record(ctx context.Context, cardID, outcome, reason, name string) {
	if a == nil || a.events == nil {
		return
	}
	rec := store.ScanEventRecord{
		CardIDHash: HashCardID(cardID),
		Outcome:    outcome,
		Reason:     reason,
		Name:       name,
		OccurredAt: a.clock.Now().UTC(),
	}
	if err := a.events.RecordEvent(ctx, rec); err != nil {
		a.logger.Warnf("audit: record %s: %v", outcome, err)
	}
}
