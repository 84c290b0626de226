package cloudsink

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatProtobuf Format = "protobuf"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatProtobuf:
		return FormatProtobuf, nil
	default:
		return "", fmt.Errorf("cloudsink: unknown format %q", s)
	}
}

// RecordStruct builds the wire representation of a completed cycle:
// {card_id, name, entry, exit, duration_seconds, total_break_seconds,
// breaks: [{start, end, duration}]}.
func RecordStruct(rec types.AttendanceRecord) (*structpb.Struct, error) {
	breaks := make([]any, 0, len(rec.Breaks))
	for _, b := range rec.Breaks {
		breaks = append(breaks, map[string]any{
			"start":    b.Start.Format(time.RFC3339Nano),
			"end":      b.End.Format(time.RFC3339Nano),
			"duration": b.Duration().Seconds(),
		})
	}
	st, err := structpb.NewStruct(map[string]any{
		"card_id":             rec.CardID,
		"name":                rec.Name,
		"entry":               rec.Entry.Format(time.RFC3339Nano),
		"exit":                rec.Exit.Format(time.RFC3339Nano),
		"duration_seconds":    rec.NetDurationSeconds,
		"total_break_seconds": rec.TotalBreakSeconds,
		"breaks":              breaks,
	})
	if err != nil {
		return nil, fmt.Errorf("cloudsink: build payload: %w", err)
	}
	return st, nil
}

func EncodeRecord(rec types.AttendanceRecord, f Format) ([]byte, error) {
	st, err := RecordStruct(rec)
	if err != nil {
		return nil, err
	}
	return encodeStruct(st, f)
}

// EncodeStatus builds the system status payload {active, at}.
func EncodeStatus(active bool, at time.Time, f Format) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"active": active,
		"at":     at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("cloudsink: build status: %w", err)
	}
	return encodeStruct(st, f)
}

func encodeStruct(st *structpb.Struct, f Format) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	switch f {
	case FormatProtobuf:
		b, err = proto.Marshal(st)
	default:
		b, err = protojson.Marshal(st)
	}
	if err != nil {
		return nil, fmt.Errorf("cloudsink: encode %s: %w", f, err)
	}
	return b, nil
}

// DecodeStruct parses a payload produced by EncodeRecord or EncodeStatus.
func DecodeStruct(b []byte, f Format) (*structpb.Struct, error) {
	st := &structpb.Struct{}
	var err error
	switch f {
	case FormatProtobuf:
		err = proto.Unmarshal(b, st)
	default:
		err = protojson.Unmarshal(b, st)
	}
	if err != nil {
		return nil, fmt.Errorf("cloudsink: decode %s: %w", f, err)
	}
	return st, nil
}
