package store

import (
	"context"
	"sync"
	"time"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// MemoryMirror is an in-process Mirror.
// Records past their TTL are dropped lazily on read.
type MemoryMirror struct {
	records sync.Map // map[string]memoryRecord
	clock   windowfence.Clock
}

type memoryRecord struct {
	rec       Record
	expiresAt time.Time
}

// Ensure MemoryMirror implements Mirror interface
var _ Mirror = (*MemoryMirror)(nil)

// NewMemoryMirror creates an in-memory mirror; TTLs are measured on clock (system clock if nil).
func NewMemoryMirror(clock windowfence.Clock) *MemoryMirror {
	if clock == nil {
		clock = windowfence.SystemClock{}
	}
	return &MemoryMirror{clock: clock}
}

// Save stores rec. A non-positive ttl removes the record instead.
func (m *MemoryMirror) Save(_ context.Context, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		m.records.Delete(rec.Identity)
		return nil
	}
	m.records.Store(rec.Identity, memoryRecord{rec: rec, expiresAt: m.clock.Now().Add(ttl)})
	return nil
}

// Get returns the record for identity unless it has expired.
func (m *MemoryMirror) Get(_ context.Context, identity string) (Record, bool, error) {
	val, ok := m.records.Load(identity)
	if !ok {
		return Record{}, false, nil
	}
	mr := val.(memoryRecord)
	if !m.clock.Now().Before(mr.expiresAt) {
		m.records.CompareAndDelete(identity, mr)
		return Record{}, false, nil
	}
	return mr.rec, true, nil
}

// Delete removes the record for identity.
func (m *MemoryMirror) Delete(_ context.Context, identity string) error {
	m.records.Delete(identity)
	return nil
}

// Clear removes all records.
func (m *MemoryMirror) Clear(_ context.Context) (int, error) {
	n := 0
	m.records.Range(func(key, _ any) bool {
		if _, loaded := m.records.LoadAndDelete(key); loaded {
			n++
		}
		return true
	})
	return n, nil
}
