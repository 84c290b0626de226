package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	dbpkg "github.com/BrandonDHaskell/Portunus/checkpoint/internal/db"
)

// RecordStore keeps completed attendance cycles in the attendance_records
// table. Break intervals are stored as a JSON array of millisecond pairs.
type RecordStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewRecordStore(db *sql.DB, writer *dbpkg.Worker) *RecordStore {
	return &RecordStore{db: db, writer: writer}
}

type breakRow struct {
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

func (s *RecordStore) InsertRecord(ctx context.Context, rec types.AttendanceRecord) error {
	rows := make([]breakRow, 0, len(rec.Breaks))
	for _, br := range rec.Breaks {
		rows = append(rows, breakRow{StartMs: br.Start.UTC().UnixMilli(), EndMs: br.End.UTC().UnixMilli()})
	}
	breaksJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("InsertRecord marshal breaks: %w", err)
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO attendance_records(
  card_id, name, entry_at_ms, exit_at_ms,
  net_seconds, total_break_seconds, breaks_json, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.CardID, rec.Name, rec.Entry.UTC().UnixMilli(), rec.Exit.UTC().UnixMilli(),
			rec.NetDurationSeconds, rec.TotalBreakSeconds, string(breaksJSON), nowMs,
		); err != nil {
			return fmt.Errorf("InsertRecord insert: %w", err)
		}
		return nil
	})
}

// ListRecords returns up to limit records ordered by entry time, newest
// first. A limit of 0 or less returns everything.
func (s *RecordStore) ListRecords(ctx context.Context, limit int) ([]types.AttendanceRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT card_id, name, entry_at_ms, exit_at_ms, net_seconds, total_break_seconds, breaks_json
FROM attendance_records
ORDER BY entry_at_ms DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRecords query: %w", err)
	}
	defer rows.Close()

	var out []types.AttendanceRecord
	for rows.Next() {
		var (
			rec             types.AttendanceRecord
			entryMs, exitMs int64
			breaksJSON      string
		)
		if err := rows.Scan(&rec.CardID, &rec.Name, &entryMs, &exitMs,
			&rec.NetDurationSeconds, &rec.TotalBreakSeconds, &breaksJSON); err != nil {
			return nil, fmt.Errorf("ListRecords scan: %w", err)
		}
		rec.Entry = time.UnixMilli(entryMs).UTC()
		rec.Exit = time.UnixMilli(exitMs).UTC()

		var brs []breakRow
		if err := json.Unmarshal([]byte(breaksJSON), &brs); err != nil {
			return nil, fmt.Errorf("ListRecords breaks: %w", err)
		}
		for _, br := range brs {
			rec.Breaks = append(rec.Breaks, types.BreakInterval{
				Start: time.UnixMilli(br.StartMs).UTC(),
				End:   time.UnixMilli(br.EndMs).UTC(),
			})
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRecords rows: %w", err)
	}
	return out, nil
}
