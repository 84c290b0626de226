package types

import "time"

// Dashboard HTTP bodies.

type RedeemRequest struct {
	Token string `json:"token"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type SettingsBody struct {
	AttendanceThreshold string `json:"attendance_threshold"`
}

type BreakView struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// RecordView is one completed cycle as served by /v1/attendance_logs.
type RecordView struct {
	CardID            string      `json:"card_id"`
	Name              string      `json:"name"`
	Entry             time.Time   `json:"entry"`
	Exit              time.Time   `json:"exit"`
	DurationSeconds   float64     `json:"duration_seconds"`
	TotalBreakSeconds float64     `json:"total_break_seconds"`
	Breaks            []BreakView `json:"breaks"`
}

func NewRecordView(rec AttendanceRecord) RecordView {
	v := RecordView{
		CardID:            rec.CardID,
		Name:              rec.Name,
		Entry:             rec.Entry,
		Exit:              rec.Exit,
		DurationSeconds:   rec.NetDurationSeconds,
		TotalBreakSeconds: rec.TotalBreakSeconds,
		Breaks:            make([]BreakView, 0, len(rec.Breaks)),
	}
	for _, b := range rec.Breaks {
		v.Breaks = append(v.Breaks, BreakView{Start: b.Start, End: b.End, DurationSeconds: b.Duration().Seconds()})
	}
	return v
}

type SessionView struct {
	CardID            string     `json:"card_id"`
	Name              string     `json:"name"`
	EntryTime         time.Time  `json:"entry_time"`
	OnBreak           bool       `json:"on_break"`
	BreakStart        *time.Time `json:"break_start,omitempty"`
	TotalBreakSeconds float64    `json:"total_break_seconds"`
}

type StatusResponse struct {
	SystemActive          bool          `json:"system_active"`
	InteractionInProgress bool          `json:"interaction_in_progress"`
	DoorOperationActive   bool          `json:"door_operation_active"`
	ActiveSessions        []SessionView `json:"active_sessions"`
}

type DevScanRequest struct {
	CardID string `json:"card_id"`
}

type DevScanResponse struct {
	Queued bool `json:"queued"`
}

type DevPresenceRequest struct {
	DistanceCM *float64 `json:"distance_cm"`
}
