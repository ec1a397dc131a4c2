package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Head is the position of the most recently appended entry of a chain.
type Head struct {
	Sequence uint64 `json:"sequence"`
	Hash     string `json:"hash"`
}

// EmptyHead is the head of a chain that has no entries yet.
var EmptyHead = Head{Sequence: 0, Hash: GenesisHash}

func (h Head) IsEmpty() bool {
	return h.Sequence == 0
}

// String encodes the head as "<sequence>:<hash>", the form stored by the trackers.
func (h Head) String() string {
	return strconv.FormatUint(h.Sequence, 10) + ":" + h.Hash
}

// ParseHead decodes the String form.
func ParseHead(s string) (Head, error) {
	seq, hash, ok := strings.Cut(s, ":")
	if !ok || hash == "" {
		return Head{}, fmt.Errorf("audit: malformed head %q", s)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return Head{}, fmt.Errorf("audit: malformed head sequence %q: %w", seq, err)
	}
	return Head{Sequence: n, Hash: hash}, nil
}

// HeadOf returns the head an entry establishes once it is appended.
func HeadOf(e Entry) Head {
	return Head{Sequence: e.Sequence, Hash: e.IntegrityHash}
}

// HeadTracker holds the current head per chain in a store shared by every
// writer instance.
type HeadTracker interface {
	// CurrentHead returns EmptyHead for a chain that has never been advanced.
	CurrentHead(ctx context.Context, chainID string) (Head, error)
	// Advance replaces expected with next atomically. It returns
	// ErrChainConflict when the stored head is no longer expected.
	Advance(ctx context.Context, chainID string, expected, next Head) error
}

// MemoryHeadTracker is a single-process tracker for tests and local development.
// It gives no guarantees across process instances.
type MemoryHeadTracker struct {
	mu    sync.Mutex
	heads map[string]Head
}

func NewMemoryHeadTracker() *MemoryHeadTracker {
	return &MemoryHeadTracker{heads: make(map[string]Head)}
}

func (m *MemoryHeadTracker) CurrentHead(ctx context.Context, chainID string) (Head, error) {
	if err := ctx.Err(); err != nil {
		return Head{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.heads[chainID]; ok {
		return h, nil
	}
	return EmptyHead, nil
}

func (m *MemoryHeadTracker) Advance(ctx context.Context, chainID string, expected, next Head) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.heads[chainID]
	if !ok {
		current = EmptyHead
	}
	if current != expected {
		return ErrChainConflict
	}
	m.heads[chainID] = next
	return nil
}
