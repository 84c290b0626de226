// Package file implements the on-disk formats of the checkpoint: the
// active-session snapshot and the human-readable completed-cycle log.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

const fieldSep = " | "

// sessionPayload is the JSON part of a snapshot line.
type sessionPayload struct {
	Entry             string         `json:"entry"`
	Name              string         `json:"name"`
	OnBreak           bool           `json:"on_break"`
	CurrentBreakStart *string        `json:"current_break_start"`
	TotalBreakSeconds float64        `json:"total_break_seconds"`
	Breaks            []breakPayload `json:"breaks"`
}

type breakPayload struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SnapshotStore writes one line per active session:
//
//	<name> | <card uid> | <json payload>
//
// Lines written by older builds without the leading name are accepted on load.
type SnapshotStore struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
}

func NewSnapshotStore(path string, logger *logging.Logger) *SnapshotStore {
	if logger == nil {
		logger = logging.Discard()
	}
	return &SnapshotStore{path: path, logger: logger}
}

// SaveSessions rewrites the snapshot through a temp file and rename so a
// crash never leaves a half-written file behind.
func (s *SnapshotStore) SaveSessions(_ context.Context, sessions []types.AttendanceSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, sess := range sessions {
		line, err := MarshalSessionLine(sess)
		if err != nil {
			return err
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("SaveSessions mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".active-*.tmp")
	if err != nil {
		return fmt.Errorf("SaveSessions create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("SaveSessions write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("SaveSessions sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("SaveSessions close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("SaveSessions rename: %w", err)
	}
	return nil
}

// LoadSessions parses the snapshot. A missing file is an empty snapshot;
// malformed lines are logged and skipped.
func (s *SnapshotStore) LoadSessions(_ context.Context) ([]types.AttendanceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LoadSessions open: %w", err)
	}
	defer f.Close()

	var out []types.AttendanceSession
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		sess, err := ParseSessionLine(line)
		if err != nil {
			s.logger.Warnf("snapshot %s:%d skipped: %v", s.path, lineNo, err)
			continue
		}
		out = append(out, sess)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("LoadSessions scan: %w", err)
	}
	return out, nil
}

// MarshalSessionLine renders one snapshot line without the trailing newline.
func MarshalSessionLine(sess types.AttendanceSession) (string, error) {
	p := sessionPayload{
		Entry:             formatTime(sess.EntryTime),
		Name:              sess.Name,
		OnBreak:           sess.OnBreak,
		TotalBreakSeconds: sess.TotalBreakSeconds,
		Breaks:            make([]breakPayload, 0, len(sess.Breaks)),
	}
	if sess.BreakStart != nil {
		v := formatTime(*sess.BreakStart)
		p.CurrentBreakStart = &v
	}
	for _, br := range sess.Breaks {
		p.Breaks = append(p.Breaks, breakPayload{Start: formatTime(br.Start), End: formatTime(br.End)})
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal session %s: %w", sess.CardID, err)
	}

	return displayName(sess.Name) + fieldSep + sess.CardID + fieldSep + string(payload), nil
}

// displayName keeps the readable prefix on one line and free of the field
// separator. The payload carries the exact name.
func displayName(name string) string {
	name = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '|' || unicode.IsControl(r) {
			return ' '
		}
		return r
	}, name))
	if name == "" {
		return "Unknown"
	}
	return name
}

// ParseSessionLine is the inverse of MarshalSessionLine.
func ParseSessionLine(line string) (types.AttendanceSession, error) {
	idx := strings.Index(line, fieldSep+"{")
	if idx < 0 {
		return types.AttendanceSession{}, errors.New("missing payload")
	}
	head := line[:idx]
	raw := line[idx+len(fieldSep):]

	var prefixName, cardID string
	if cut := strings.LastIndex(head, fieldSep); cut >= 0 {
		prefixName = strings.TrimSpace(head[:cut])
		cardID = strings.TrimSpace(head[cut+len(fieldSep):])
	} else {
		cardID = strings.TrimSpace(head)
	}
	if cardID == "" {
		return types.AttendanceSession{}, errors.New("missing card uid")
	}

	var p sessionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return types.AttendanceSession{}, fmt.Errorf("payload: %w", err)
	}

	entry, err := parseTime(p.Entry)
	if err != nil {
		return types.AttendanceSession{}, fmt.Errorf("entry: %w", err)
	}

	sess := types.AttendanceSession{
		CardID:            cardID,
		Name:              p.Name,
		EntryTime:         entry,
		OnBreak:           p.OnBreak,
		TotalBreakSeconds: p.TotalBreakSeconds,
	}
	if sess.Name == "" {
		sess.Name = prefixName
	}
	if sess.Name == "" {
		sess.Name = "Unknown"
	}
	if p.CurrentBreakStart != nil && *p.CurrentBreakStart != "" {
		t, err := parseTime(*p.CurrentBreakStart)
		if err != nil {
			return types.AttendanceSession{}, fmt.Errorf("current_break_start: %w", err)
		}
		sess.BreakStart = &t
	}
	for i, br := range p.Breaks {
		start, err := parseTime(br.Start)
		if err != nil {
			return types.AttendanceSession{}, fmt.Errorf("breaks[%d].start: %w", i, err)
		}
		end, err := parseTime(br.End)
		if err != nil {
			return types.AttendanceSession{}, fmt.Errorf("breaks[%d].end: %w", i, err)
		}
		sess.Breaks = append(sess.Breaks, types.BreakInterval{Start: start, End: end})
	}
	return sess, nil
}

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

// Offset-less layouts cover snapshots written by the earlier daemon,
// whose timestamps were local wall-clock ISO-8601.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
