// Package history keeps the payments made during one session.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitwit/x402pay/types"
)

// Log is an append-only, in-memory list of payment records. It is safe for
// concurrent use.
type Log struct {
	mu      sync.RWMutex
	records []types.PaymentRecord
	now     func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append stores rec and returns the stored copy. An empty ID is replaced by
// a fresh UUID and a zero Timestamp by the current time.
func (l *Log) Append(rec types.PaymentRecord) types.PaymentRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.clock().UTC()
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	return rec
}

// List returns the records oldest first. The slice is a copy.
func (l *Log) List() []types.PaymentRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.PaymentRecord, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *Log) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}
