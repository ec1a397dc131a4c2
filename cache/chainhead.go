package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/SaurabhJain708/formbricks/audit"
)

const headKeyPrefix = "audit:chain:head:"

// luaHeadCAS swaps the head only when the stored value equals the expected one.
// A missing key is the empty chain.
var luaHeadCAS = redis.NewScript(`
	local key = KEYS[1]
	local expected = ARGV[1]
	local replacement = ARGV[2]
	local empty = ARGV[3]

	local current = redis.call("GET", key)
	if not current then
		current = empty
	end

	if current ~= expected then
		return 0
	end

	redis.call("SET", key, replacement)
	return 1
`)

// RedisHeadTracker keeps chain heads in Redis. The swap runs as one Lua
// script, which Redis executes atomically with respect to every other client.
type RedisHeadTracker struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisHeadTracker(rdb redis.UniversalClient) *RedisHeadTracker {
	return &RedisHeadTracker{rdb: rdb, prefix: headKeyPrefix}
}

func (t *RedisHeadTracker) key(chainID string) string {
	return t.prefix + chainID
}

func (t *RedisHeadTracker) CurrentHead(ctx context.Context, chainID string) (audit.Head, error) {
	raw, err := t.rdb.Get(ctx, t.key(chainID)).Result()
	if errors.Is(err, redis.Nil) {
		return audit.EmptyHead, nil
	}
	if err != nil {
		return audit.Head{}, fmt.Errorf("cache: read chain head: %w", err)
	}
	return audit.ParseHead(raw)
}

func (t *RedisHeadTracker) Advance(ctx context.Context, chainID string, expected, next audit.Head) error {
	ok, err := luaHeadCAS.Run(ctx, t.rdb,
		[]string{t.key(chainID)},
		expected.String(), next.String(), audit.EmptyHead.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("cache: advance chain head: %w", err)
	}
	if ok != 1 {
		return audit.ErrChainConflict
	}
	return nil
}
