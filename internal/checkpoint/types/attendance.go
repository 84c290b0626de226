package types

import "time"

// BreakInterval is one completed break.
type BreakInterval struct {
	Start time.Time
	End   time.Time
}

func (b BreakInterval) Duration() time.Duration { return b.End.Sub(b.Start) }

// AttendanceSession is the active presence interval for one card.
// OnBreak is true exactly when BreakStart is non-nil. TotalBreakSeconds
// is the sum of Breaks and only changes when a break closes.
type AttendanceSession struct {
	CardID            string
	Name              string
	EntryTime         time.Time
	OnBreak           bool
	BreakStart        *time.Time
	TotalBreakSeconds float64
	Breaks            []BreakInterval
}

// Clone returns a deep copy safe to hand out of the ledger lock.
func (s AttendanceSession) Clone() AttendanceSession {
	out := s
	if s.BreakStart != nil {
		t := *s.BreakStart
		out.BreakStart = &t
	}
	out.Breaks = append([]BreakInterval(nil), s.Breaks...)
	return out
}

// AttendanceRecord is a completed cycle, produced when a session leaves.
type AttendanceRecord struct {
	CardID             string
	Name               string
	Entry              time.Time
	Exit               time.Time
	NetDurationSeconds float64
	TotalBreakSeconds  float64
	Breaks             []BreakInterval
}
