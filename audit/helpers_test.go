package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-0123456789abcdef-0123456789"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(testSecret)
	require.NoError(t, err)
	return h
}

type fixture struct {
	rec   *Recorder
	heads *MemoryHeadTracker
	store *MemoryStore
	sink  *captureSink
	hash  *Hasher
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		heads: NewMemoryHeadTracker(),
		store: NewMemoryStore(),
		sink:  &captureSink{},
		hash:  newTestHasher(t),
	}
	opts := Options{
		Heads:  f.heads,
		Store:  f.store,
		Sink:   f.sink,
		Hasher: f.hash,
		Logger: quietLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	rec, err := NewRecorder(opts)
	require.NoError(t, err)
	f.rec = rec
	return f
}

func (f *fixture) chain(t *testing.T, chainID string) []Entry {
	t.Helper()
	entries, err := f.store.ReadChain(context.Background(), chainID, 0, 0)
	require.NoError(t, err)
	return entries
}

func webhookCreated() Event {
	return Event{
		Actor:          Actor{ID: "u1", Type: ActorUser},
		Action:         ActionWebhookCreated,
		Target:         &Target{ID: "w1", Type: "webhook"},
		OrganizationID: "o1",
		Status:         StatusSuccess,
		Changes: Changes{
			{Name: "url", Value: "https://x"},
			{Name: "name", Value: "demo"},
		},
	}
}

func recordN(t *testing.T, rec *Recorder, n int) []Entry {
	t.Helper()
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		e := webhookCreated()
		e.Changes = Changes{{Name: "n", Value: i}}
		entry, err := rec.Record(context.Background(), e)
		require.NoError(t, err)
		out = append(out, entry)
	}
	return out
}

// captureSink records emitted entries and can be told to fail.
type captureSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (s *captureSink) Emit(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *captureSink) emitted() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

type failingStore struct {
	err error
}

func (s failingStore) Append(context.Context, Entry) error { return s.err }

// hookTracker runs beforeFirst exactly once, at the start of the first Advance.
type hookTracker struct {
	HeadTracker
	fired       atomic.Bool
	advances    atomic.Int32
	beforeFirst func()
}

func (h *hookTracker) Advance(ctx context.Context, chainID string, expected, next Head) error {
	if h.fired.CompareAndSwap(false, true) && h.beforeFirst != nil {
		h.beforeFirst()
	}
	h.advances.Add(1)
	return h.HeadTracker.Advance(ctx, chainID, expected, next)
}

type conflictTracker struct {
	HeadTracker
	advances atomic.Int32
}

func (c *conflictTracker) Advance(context.Context, string, Head, Head) error {
	c.advances.Add(1)
	return ErrChainConflict
}

// lossyTracker applies the swap and then reports a transport error, the way
// a timed-out network call might.
type lossyTracker struct {
	HeadTracker
}

func (l lossyTracker) Advance(ctx context.Context, chainID string, expected, next Head) error {
	if err := l.HeadTracker.Advance(ctx, chainID, expected, next); err != nil {
		return err
	}
	return errors.New("i/o timeout")
}

// cancelTracker cancels the caller's context right after a successful swap.
type cancelTracker struct {
	HeadTracker
	cancel context.CancelFunc
}

func (c cancelTracker) Advance(ctx context.Context, chainID string, expected, next Head) error {
	err := c.HeadTracker.Advance(ctx, chainID, expected, next)
	c.cancel()
	return err
}

type brokenTracker struct{}

func (brokenTracker) CurrentHead(context.Context, string) (Head, error) {
	return Head{}, errors.New("connection refused")
}

func (brokenTracker) Advance(context.Context, string, Head, Head) error {
	return errors.New("connection refused")
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
