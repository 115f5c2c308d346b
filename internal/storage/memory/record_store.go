package memory

import (
	"context"
	"sync"

	"github.com/papertrawl/papertrawl/internal/scholar"
)

// RecordStore keeps extracted records in memory, per job, in append order.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string][]scholar.Record
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string][]scholar.Record),
	}
}

// AppendRecords appends records for a job.
func (s *RecordStore) AppendRecords(_ context.Context, jobID string, records []scholar.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[jobID] = append(s.records[jobID], records...)
	return nil
}

// ListRecords returns all records for a job in append order.
func (s *RecordStore) ListRecords(_ context.Context, jobID string) ([]scholar.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.records[jobID]
	out := make([]scholar.Record, len(records))
	copy(out, records)
	return out, nil
}

var _ scholar.RecordStore = (*RecordStore)(nil)
