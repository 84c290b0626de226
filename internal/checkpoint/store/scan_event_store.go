package store

import (
	"context"
	"time"
)

// ScanEventRecord captures one decision taken on a card scan or a user
// action for the audit log. The raw card UID is never stored; CardIDHash
// is a 32-byte blake3 digest of it.
type ScanEventRecord struct {
	CardIDHash []byte
	Outcome    string
	Reason     string
	Name       string
	OccurredAt time.Time
}

// ScanEventStore persists scan decisions as an append-only audit log.
type ScanEventStore interface {
	RecordEvent(ctx context.Context, rec ScanEventRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
