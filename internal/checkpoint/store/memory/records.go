package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

// CycleLog collects appended cycles in memory.
type CycleLog struct {
	mu      sync.Mutex
	records []types.AttendanceRecord
}

func NewCycleLog() *CycleLog { return &CycleLog{} }

func (l *CycleLog) AppendCycle(_ context.Context, rec types.AttendanceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *CycleLog) Records() []types.AttendanceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.AttendanceRecord(nil), l.records...)
}

// RecordStore is an in-memory AttendanceRecordStore.
type RecordStore struct {
	mu      sync.Mutex
	records []types.AttendanceRecord
}

func NewRecordStore() *RecordStore { return &RecordStore{} }

func (s *RecordStore) InsertRecord(_ context.Context, rec types.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *RecordStore) ListRecords(_ context.Context, limit int) ([]types.AttendanceRecord, error) {
	s.mu.Lock()
	out := append([]types.AttendanceRecord(nil), s.records...)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Entry.After(out[j].Entry) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SettingsStore is an in-memory SettingsStore.
type SettingsStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{values: make(map[string]string)}
}

func (s *SettingsStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *SettingsStore) PutSetting(_ context.Context, key, value string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
