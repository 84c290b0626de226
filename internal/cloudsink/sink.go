// Package cloudsink forwards completed attendance cycles to destinations
// outside the ledger. Every sink is best-effort: callers log failures and
// never roll back the local transition.
package cloudsink

import (
	"context"
	"errors"
	"fmt"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
)

type Sink interface {
	LogAttendance(ctx context.Context, rec types.AttendanceRecord) error
}

// Nop discards every record.
type Nop struct{}

func (Nop) LogAttendance(context.Context, types.AttendanceRecord) error { return nil }

// Named pairs a sink with the label used in logs and metrics.
type Named struct {
	Name string
	Sink Sink
}

// Multi delivers each record to every sink. A failing sink does not stop
// delivery to the rest; the joined error is returned.
type Multi struct {
	sinks   []Named
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewMulti(logger *logging.Logger, m *metrics.Metrics, sinks ...Named) *Multi {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Multi{sinks: sinks, logger: logger, metrics: m}
}

func (m *Multi) LogAttendance(ctx context.Context, rec types.AttendanceRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Sink.LogAttendance(ctx, rec); err != nil {
			m.logger.Warnf("cloudsink: %s failed for %s: %v", s.Name, rec.CardID, err)
			m.metrics.SinkFailure(s.Name)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// StoreSink writes records into the queryable attendance record store.
type StoreSink struct {
	records store.AttendanceRecordStore
}

func NewStoreSink(records store.AttendanceRecordStore) *StoreSink {
	return &StoreSink{records: records}
}

func (s *StoreSink) LogAttendance(ctx context.Context, rec types.AttendanceRecord) error {
	if err := s.records.InsertRecord(ctx, rec); err != nil {
		return fmt.Errorf("StoreSink.LogAttendance: %w", err)
	}
	return nil
}
