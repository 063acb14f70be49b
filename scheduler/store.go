package scheduler

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/michaelpento.lv/backrunner/types"
	"github.com/michaelpento.lv/backrunner/utils/metrics"
)

// Store holds scored opportunities until the next scheduler cycle. Entries
// keep insertion order; when full the oldest entry is dropped.
type Store struct {
	mu       sync.Mutex
	items    []*types.ArbitrageOpportunity
	index    map[uint64]struct{}
	capacity int
	metrics  *metrics.SchedulerMetrics
}

func NewStore(capacity int, m *metrics.SchedulerMetrics) *Store {
	return &Store{
		index:    make(map[uint64]struct{}),
		capacity: capacity,
		metrics:  m,
	}
}

// Fingerprint identifies an opportunity by its origin transaction and the
// route it trades.
func Fingerprint(opp *types.ArbitrageOpportunity) uint64 {
	d := xxhash.New()
	d.Write(opp.OriginTx.Bytes())
	for _, token := range opp.Path {
		d.Write(token.Bytes())
	}
	for _, router := range opp.Routers {
		d.Write(router.Bytes())
	}
	return d.Sum64()
}

// Add appends opp unless an identical opportunity is already waiting.
func (s *Store) Add(opp *types.ArbitrageOpportunity) bool {
	key := Fingerprint(opp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; ok {
		return false
	}
	if s.capacity > 0 && len(s.items) >= s.capacity {
		oldest := s.items[0]
		s.items[0] = nil
		s.items = s.items[1:]
		delete(s.index, Fingerprint(oldest))
		s.metrics.Evicted.Inc()
	}
	s.items = append(s.items, opp)
	s.index[key] = struct{}{}
	s.metrics.StoreSize.Set(float64(len(s.items)))
	return true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns a copy of the waiting opportunities in insertion order.
func (s *Store) Snapshot() []*types.ArbitrageOpportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.ArbitrageOpportunity, len(s.items))
	copy(out, s.items)
	return out
}

// Drain returns every waiting opportunity and empties the store.
func (s *Store) Drain() []*types.ArbitrageOpportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items
	s.items = nil
	s.index = make(map[uint64]struct{})
	s.metrics.StoreSize.Set(0)
	return out
}
