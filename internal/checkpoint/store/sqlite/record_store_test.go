package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	sqlitestore "github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

func TestRecordStore_InsertAndList(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	rs := sqlitestore.NewRecordStore(conn, w)
	ctx := context.Background()

	base := time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)
	first := types.AttendanceRecord{
		CardID:             "111",
		Name:               "Ada",
		Entry:              base,
		Exit:               base.Add(8 * time.Hour),
		NetDurationSeconds: 8*3600 - 600,
		TotalBreakSeconds:  600,
		Breaks: []types.BreakInterval{
			{Start: base.Add(2 * time.Hour), End: base.Add(2*time.Hour + 10*time.Minute)},
		},
	}
	second := types.AttendanceRecord{
		CardID:             "222",
		Name:               "Bob",
		Entry:              base.Add(time.Hour),
		Exit:               base.Add(2 * time.Hour),
		NetDurationSeconds: 3600,
	}
	require.NoError(t, rs.InsertRecord(ctx, first))
	require.NoError(t, rs.InsertRecord(ctx, second))

	got, err := rs.ListRecords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest entry first.
	require.Equal(t, "Bob", got[0].Name)
	require.Empty(t, got[0].Breaks)

	require.Equal(t, "Ada", got[1].Name)
	require.True(t, got[1].Entry.Equal(first.Entry))
	require.True(t, got[1].Exit.Equal(first.Exit))
	require.InDelta(t, first.NetDurationSeconds, got[1].NetDurationSeconds, 1e-9)
	require.InDelta(t, 600, got[1].TotalBreakSeconds, 1e-9)
	require.Len(t, got[1].Breaks, 1)
	require.Equal(t, 10*time.Minute, got[1].Breaks[0].Duration())
}

func TestRecordStore_ListRespectsLimit(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	rs := sqlitestore.NewRecordStore(conn, w)
	ctx := context.Background()

	base := time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, rs.InsertRecord(ctx, types.AttendanceRecord{
			CardID: "c",
			Name:   "n",
			Entry:  base.Add(time.Duration(i) * time.Hour),
			Exit:   base.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}

	got, err := rs.ListRecords(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.True(t, got[0].Entry.Equal(base.Add(4*time.Hour)))
}
