package audit

import (
	"context"
	"sync"
)

// DefaultRetention is how many records a store keeps when none is configured.
const DefaultRetention = 10000

// Store is the persistence boundary of the audit trail. Stores keep at most
// their retention count of records and drop the oldest first.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// Recent returns up to limit of the newest records, oldest first.
	// limit <= 0 returns every retained record.
	Recent(ctx context.Context, limit int) ([]Record, error)
	Len(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// MemoryStore is a bounded in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []Record
	start     int
	retention int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{retention: retention}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) < s.retention {
		s.records = append(s.records, rec)
		return nil
	}
	s.records[s.start] = rec
	s.start = (s.start + 1) % s.retention
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - limit; i < n; i++ {
		out = append(out, s.records[(s.start+i)%n])
	}
	return out, nil
}

func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
