package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps entries in process memory. Useful for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	chains map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chains: make(map[string][]Entry)}
}

func (s *MemoryStore) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.chains[e.ChainID] {
		if existing.Sequence == e.Sequence {
			return fmt.Errorf("audit: duplicate sequence %d in chain %s", e.Sequence, e.ChainID)
		}
	}
	s.chains[e.ChainID] = append(s.chains[e.ChainID], e)
	return nil
}

func (s *MemoryStore) ReadChain(ctx context.Context, chainID string, afterSequence uint64, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	all := make([]Entry, len(s.chains[chainID]))
	copy(all, s.chains[chainID])
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Sequence < all[j].Sequence })

	out := make([]Entry, 0, max(limit, 0))
	for _, e := range all {
		if e.Sequence <= afterSequence {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}
