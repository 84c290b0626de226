package service_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/service"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store/memory"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/report"
)

func TestSettings_Threshold(t *testing.T) {
	ctx := context.Background()
	s := service.NewSettings(memory.NewSettingsStore(), clock.Fake(t0))

	v, err := s.Threshold(ctx)
	require.NoError(t, err)
	require.Equal(t, report.DefaultThreshold, v)

	require.ErrorIs(t, s.SetThreshold(ctx, "nine"), report.ErrInvalidThreshold)
	require.NoError(t, s.SetThreshold(ctx, " 7.5 "))

	v, err = s.Threshold(ctx)
	require.NoError(t, err)
	require.Equal(t, "7.5", v)
}

func seedRecords(t *testing.T, rs *memory.RecordStore) {
	t.Helper()
	for _, rec := range []types.AttendanceRecord{
		{CardID: "1", Name: "Ada", Entry: t0, Exit: t0.Add(5 * time.Hour), NetDurationSeconds: 5 * 3600},
		{CardID: "1", Name: "Ada", Entry: t0.Add(24 * time.Hour), Exit: t0.Add(27 * time.Hour), NetDurationSeconds: 3 * 3600},
		{CardID: "2", Name: "Bob", Entry: t0, Exit: t0.Add(time.Hour), NetDurationSeconds: 3600},
	} {
		require.NoError(t, rs.InsertRecord(context.Background(), rec))
	}
}

func TestReports_BuildUsesStoredThreshold(t *testing.T) {
	ctx := context.Background()
	records := memory.NewRecordStore()
	seedRecords(t, records)
	settings := service.NewSettings(memory.NewSettingsStore(), nil)
	require.NoError(t, settings.SetThreshold(ctx, "08:00"))

	r, err := service.NewReports(records, settings).Build(ctx)
	require.NoError(t, err)
	require.Equal(t, "08:00", r.Threshold)
	require.Len(t, r.Entries, 2)
	require.Equal(t, "Ada", r.Entries[0].Name)
	require.Equal(t, report.StatusValid, r.Entries[0].Status)
	require.Equal(t, "Bob", r.Entries[1].Name)
	require.Equal(t, report.StatusNotValid, r.Entries[1].Status)
}

func TestReportJob_RunOnceLogsReport(t *testing.T) {
	records := memory.NewRecordStore()
	seedRecords(t, records)
	reports := service.NewReports(records, service.NewSettings(memory.NewSettingsStore(), nil))

	var buf bytes.Buffer
	job := service.NewReportJob(reports, "", time.UTC, logging.New(&buf, "test"))
	job.RunOnce(context.Background())

	out := buf.String()
	require.Contains(t, out, "attendance report (threshold 09:00)")
	require.Contains(t, out, "Ada")
	require.Contains(t, out, "Not Valid")
}

func TestReportJob_StartStop(t *testing.T) {
	reports := service.NewReports(memory.NewRecordStore(), service.NewSettings(memory.NewSettingsStore(), nil))
	job := service.NewReportJob(reports, "23:55", time.UTC, nil)

	require.NoError(t, job.Start(context.Background()))
	job.Stop()
}

func TestReportJob_RejectsBadTime(t *testing.T) {
	reports := service.NewReports(memory.NewRecordStore(), service.NewSettings(memory.NewSettingsStore(), nil))
	job := service.NewReportJob(reports, "25:99", time.UTC, nil)

	require.Error(t, job.Start(context.Background()))
}

func TestRecordPruner_DisabledWhenRetentionZero(t *testing.T) {
	pruner := service.NewRecordPruner(memory.NewScanEventStore(), service.PrunerConfig{
		RetentionDays: 0,
		IntervalHours: 1,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner.Start(ctx)
	// Returns immediately.
	pruner.Stop()
}

func TestRecordPruner_PrunesOnStart(t *testing.T) {
	events := memory.NewScanEventStore()
	ctx := context.Background()

	require.NoError(t, events.RecordEvent(ctx, store.ScanEventRecord{
		Outcome:    service.OutcomeEntry,
		OccurredAt: time.Now().UTC().AddDate(0, 0, -40),
	}))
	require.NoError(t, events.RecordEvent(ctx, store.ScanEventRecord{
		Outcome:    service.OutcomeLeave,
		OccurredAt: time.Now().UTC().AddDate(0, 0, -1),
	}))

	pruner := service.NewRecordPruner(events, service.PrunerConfig{RetentionDays: 30, IntervalHours: 1}, nil)
	pruner.Start(ctx)
	require.Eventually(t, func() bool { return len(events.Events()) == 1 }, time.Second, time.Millisecond)
	pruner.Stop()

	require.Equal(t, []string{service.OutcomeLeave}, events.Outcomes())
}

func TestRecordPruner_SweepsEveryInterval(t *testing.T) {
	events := memory.NewScanEventStore()
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))

	require.NoError(t, events.RecordEvent(ctx, store.ScanEventRecord{
		Outcome:    service.OutcomeEntry,
		OccurredAt: clk.Now().AddDate(0, 0, -2).Add(90 * time.Minute),
	}))

	pruner := service.NewRecordPruner(events, service.PrunerConfig{
		RetentionDays: 2,
		IntervalHours: 1,
		Clock:         clk,
	}, nil)
	pruner.Start(ctx)
	defer pruner.Stop()

	// Still inside the window on the first sweep.
	clk.WaitForTimers(1)
	require.Len(t, events.Events(), 1)

	clk.Advance(time.Hour)
	clk.WaitForTimers(1)
	require.Len(t, events.Events(), 1)

	clk.Advance(time.Hour)
	require.Eventually(t, func() bool { return len(events.Events()) == 0 }, time.Second, time.Millisecond)
}
