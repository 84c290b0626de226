// Package report checks completed attendance against the configured
// threshold.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

const (
	StatusValid    = "Valid"
	StatusNotValid = "Not Valid"

	DefaultThreshold = "09:00"
)

var ErrInvalidThreshold = errors.New("report: invalid threshold")

// ParseThreshold accepts decimal hours ("8.5") or "HH:MM" ("09:00").
func ParseThreshold(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidThreshold
	}
	if h, m, ok := strings.Cut(s, ":"); ok {
		hours, err1 := strconv.Atoi(h)
		mins, err2 := strconv.Atoi(m)
		if err1 != nil || err2 != nil || hours < 0 || mins < 0 || mins > 59 || len(m) != 2 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidThreshold, s)
		}
		return time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute, nil
	}
	hours, err := strconv.ParseFloat(s, 64)
	if err != nil || hours < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidThreshold, s)
	}
	return time.Duration(hours * float64(time.Hour)), nil
}

// Entry is one person's line in the report.
type Entry struct {
	Name         string  `json:"name"`
	TotalSeconds float64 `json:"total_seconds"`
	TotalHours   float64 `json:"total_hours"`
	Status       string  `json:"status"`
}

type Report struct {
	Threshold        string  `json:"threshold"`
	ThresholdSeconds float64 `json:"threshold_seconds"`
	Entries          []Entry `json:"entries"`
}

// Build sums net seconds per name over records and rates each total
// against threshold. Entries are sorted by name.
func Build(records []types.AttendanceRecord, threshold string) (Report, error) {
	d, err := ParseThreshold(threshold)
	if err != nil {
		return Report{}, err
	}
	limit := d.Seconds()

	totals := make(map[string]float64)
	for _, rec := range records {
		totals[rec.Name] += rec.NetDurationSeconds
	}

	out := Report{Threshold: threshold, ThresholdSeconds: limit, Entries: make([]Entry, 0, len(totals))}
	for name, sec := range totals {
		status := StatusNotValid
		if sec >= limit {
			status = StatusValid
		}
		out.Entries = append(out.Entries, Entry{
			Name:         name,
			TotalSeconds: sec,
			TotalHours:   sec / 3600,
			Status:       status,
		})
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Name < out.Entries[j].Name })
	return out, nil
}

// String renders the report the way it is written to the log.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "attendance report (threshold %s)", r.Threshold)
	if len(r.Entries) == 0 {
		b.WriteString(": no completed attendance records")
		return b.String()
	}
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "\n- %-15s: %.2f hrs -> %s", e.Name, e.TotalHours, e.Status)
	}
	return b.String()
}
