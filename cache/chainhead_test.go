package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SaurabhJain708/formbricks/audit"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func head(seq uint64, c byte) audit.Head {
	h := make([]byte, 64)
	for i := range h {
		h[i] = c
	}
	return audit.Head{Sequence: seq, Hash: string(h)}
}

func TestRedisHeadTracker_CompareAndSwap(t *testing.T) {
	_, rdb := newTestRedis(t)
	tr := NewRedisHeadTracker(rdb)
	ctx := context.Background()

	got, err := tr.CurrentHead(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, audit.EmptyHead, got)

	// --- first advance from the empty chain
	require.NoError(t, tr.Advance(ctx, "o1", audit.EmptyHead, head(1, 'a')))
	got, err = tr.CurrentHead(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, head(1, 'a'), got)

	// --- stale expectation
	err = tr.Advance(ctx, "o1", audit.EmptyHead, head(1, 'b'))
	assert.ErrorIs(t, err, audit.ErrChainConflict)

	// --- right hash, wrong sequence
	err = tr.Advance(ctx, "o1", audit.Head{Sequence: 7, Hash: head(1, 'a').Hash}, head(2, 'b'))
	assert.ErrorIs(t, err, audit.ErrChainConflict)

	require.NoError(t, tr.Advance(ctx, "o1", head(1, 'a'), head(2, 'b')))

	// --- chains are independent
	got, err = tr.CurrentHead(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, audit.EmptyHead, got)
}

func TestRedisHeadTracker_OneWinnerPerHead(t *testing.T) {
	_, rdb := newTestRedis(t)
	tr := NewRedisHeadTracker(rdb)
	ctx := context.Background()

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := tr.Advance(ctx, "o1", audit.EmptyHead, head(1, byte('a'+i)))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, audit.ErrChainConflict)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRedisHeadTracker_MalformedValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	tr := NewRedisHeadTracker(rdb)
	require.NoError(t, mr.Set(headKeyPrefix+"o1", "garbage"))

	_, err := tr.CurrentHead(context.Background(), "o1")
	assert.Error(t, err)
}

func TestRedisHeadTracker_UnreachableStore(t *testing.T) {
	mr, rdb := newTestRedis(t)
	tr := NewRedisHeadTracker(rdb)
	mr.Close()

	_, err := tr.CurrentHead(context.Background(), "o1")
	assert.Error(t, err)
	err = tr.Advance(context.Background(), "o1", audit.EmptyHead, head(1, 'a'))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, audit.ErrChainConflict)
}

func TestRedisHeadTracker_DrivesRecorder(t *testing.T) {
	_, rdb := newTestRedis(t)
	hasher, err := audit.NewHasher("redis-test-secret-0123456789abcdef0123")
	require.NoError(t, err)
	store := audit.NewMemoryStore()
	rec, err := audit.NewRecorder(audit.Options{
		Heads:       NewRedisHeadTracker(rdb),
		Store:       store,
		Hasher:      hasher,
		MaxAttempts: 32,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rec.Record(context.Background(), audit.Event{
				Actor:          audit.Actor{ID: "svc", Type: audit.ActorSystem},
				Action:         audit.ActionSurveyUpdated,
				OrganizationID: "o1",
				Status:         audit.StatusSuccess,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := store.ReadChain(context.Background(), "o1", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 12)
	res := audit.NewVerifier(hasher, nil, nil).Verify(entries)
	assert.True(t, res.Valid, res.String())
}

func TestConfigOptions(t *testing.T) {
	opts, err := Config{URL: "redis://:pw@cache:6380/3"}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)

	_, err = Config{URL: "http://nope"}.options()
	assert.Error(t, err)
}
