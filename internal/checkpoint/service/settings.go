package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/report"
)

// SettingThreshold is the settings key holding the attendance threshold.
const SettingThreshold = "attendance_threshold"

// Settings exposes the dashboard-tunable values. They only affect
// reporting, never the gate.
type Settings struct {
	store store.SettingsStore
	clock clock.Clock
}

func NewSettings(s store.SettingsStore, c clock.Clock) *Settings {
	if c == nil {
		c = clock.Real()
	}
	return &Settings{store: s, clock: c}
}

func (s *Settings) Threshold(ctx context.Context) (string, error) {
	v, ok, err := s.store.GetSetting(ctx, SettingThreshold)
	if err != nil {
		return "", fmt.Errorf("Settings.Threshold: %w", err)
	}
	if !ok || strings.TrimSpace(v) == "" {
		return report.DefaultThreshold, nil
	}
	return v, nil
}

func (s *Settings) SetThreshold(ctx context.Context, v string) error {
	v = strings.TrimSpace(v)
	if _, err := report.ParseThreshold(v); err != nil {
		return err
	}
	if err := s.store.PutSetting(ctx, SettingThreshold, v, s.clock.Now().UTC()); err != nil {
		return fmt.Errorf("Settings.SetThreshold: %w", err)
	}
	return nil
}

// Reports builds threshold reports over every completed record.
type Reports struct {
	records  store.AttendanceRecordStore
	settings *Settings
}

func NewReports(records store.AttendanceRecordStore, settings *Settings) *Reports {
	return &Reports{records: records, settings: settings}
}

func (r *Reports) Build(ctx context.Context) (report.Report, error) {
	threshold, err := r.settings.Threshold(ctx)
	if err != nil {
		return report.Report{}, err
	}
	recs, err := r.records.ListRecords(ctx, 0)
	if err != nil {
		return report.Report{}, fmt.Errorf("Reports.Build: %w", err)
	}
	return report.Build(recs, threshold)
}
