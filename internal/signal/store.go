package signal

import (
	"context"
	"sync"
	"time"
)

// Store persists signal records. The engine writes every evaluation and the
// retrainer reads back resolved ones.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, rec *Record) error
	ListResolved(ctx context.Context, symbol, timeframe string, limit int) ([]*Record, error)
	ListRecent(ctx context.Context, limit int) ([]*Record, error)
}

// MemoryStore is the in-process store used when no database is configured
// and in tests
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		return &NotFoundError{ID: rec.ID}
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

// ListResolved returns resolved records for one instrument in chronological
// order, oldest first. limit <= 0 means no limit.
func (s *MemoryStore) ListResolved(_ context.Context, symbol, timeframe string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0)
	for _, id := range s.order {
		rec := s.records[id]
		if !rec.Resolved() {
			continue
		}
		if symbol != "" && rec.Symbol != symbol {
			continue
		}
		if timeframe != "" && rec.Timeframe != timeframe {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ListRecent returns the newest records first
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, limit)
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *s.records[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

// Prune drops resolved records older than cutoff and returns how many were
// removed
func (s *MemoryStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Resolved() && rec.Timestamp.Before(cutoff) {
			delete(s.records, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}
