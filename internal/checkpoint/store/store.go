package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

// SnapshotStore persists the full set of active sessions. SaveSessions
// replaces the previous snapshot atomically.
type SnapshotStore interface {
	SaveSessions(ctx context.Context, sessions []types.AttendanceSession) error
	LoadSessions(ctx context.Context) ([]types.AttendanceSession, error)
}

// CycleLog is the append-only, human-readable log of completed cycles.
type CycleLog interface {
	AppendCycle(ctx context.Context, rec types.AttendanceRecord) error
}

// AttendanceRecordStore keeps completed cycles queryable for the dashboard
// and the threshold report.
type AttendanceRecordStore interface {
	InsertRecord(ctx context.Context, rec types.AttendanceRecord) error
	// ListRecords returns up to limit records, most recent entry first.
	ListRecords(ctx context.Context, limit int) ([]types.AttendanceRecord, error)
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string, at time.Time) error
}
