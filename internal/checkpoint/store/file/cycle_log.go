package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

const cycleSeparator = "========================================"

// CycleLog appends one block per completed cycle to a text file. Blocks
// are never rewritten.
type CycleLog struct {
	mu   sync.Mutex
	path string
}

func NewCycleLog(path string) *CycleLog {
	return &CycleLog{path: path}
}

func (l *CycleLog) AppendCycle(_ context.Context, rec types.AttendanceRecord) error {
	block := FormatCycle(rec)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("AppendCycle mkdir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("AppendCycle open: %w", err)
	}
	if _, err := f.WriteString(block); err != nil {
		f.Close()
		return fmt.Errorf("AppendCycle write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("AppendCycle sync: %w", err)
	}
	return f.Close()
}

// FormatCycle renders the log block for rec, trailing blank line included.
func FormatCycle(rec types.AttendanceRecord) string {
	var b strings.Builder
	b.WriteString(cycleSeparator + "\n")
	fmt.Fprintf(&b, "Name: %s\n", rec.Name)
	fmt.Fprintf(&b, "Card ID: %s\n", rec.CardID)
	fmt.Fprintf(&b, "Entry: %s\n", formatTime(rec.Entry))
	fmt.Fprintf(&b, "Exit: %s\n", formatTime(rec.Exit))
	fmt.Fprintf(&b, "Total time (net): %s seconds\n", formatSeconds(rec.NetDurationSeconds))
	fmt.Fprintf(&b, "Total breaks (seconds): %s\n", formatSeconds(rec.TotalBreakSeconds))
	if len(rec.Breaks) > 0 {
		b.WriteString("Breaks:\n")
		for _, br := range rec.Breaks {
			fmt.Fprintf(&b, "  - %s to %s -> %s sec\n",
				formatTime(br.Start), formatTime(br.End), formatSeconds(br.Duration().Seconds()))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
