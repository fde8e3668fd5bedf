package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "contact_rate_limit:"

// consumeScript prunes the sorted set, checks every (window, limit) pair and
// records the attempt only when all pass.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local member = ARGV[2]
	local horizon = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - horizon)

	for i = 4, #ARGV, 2 do
		local window = tonumber(ARGV[i])
		local limit = tonumber(ARGV[i + 1])
		local count = redis.call('ZCOUNT', key, '(' .. (now - window), '+inf')
		if count >= limit then
			return 0
		end
	end

	redis.call('ZADD', key, now, member)
	redis.call('EXPIRE', key, horizon)
	return 1
`)

// RedisStore shares rate limit state between instances through Redis.
type RedisStore struct {
	client redis.Scripter
}

func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Consume(ctx context.Context, key string, now time.Time, rules []Rule) (bool, error) {
	ts := now.Unix()
	args := []interface{}{ts, fmt.Sprintf("%d:%s", ts, uuid.NewString()), maxWindow(rules)}
	for _, r := range rules {
		args = append(args, int64(r.Window/time.Second), r.Limit)
	}

	res, err := consumeScript.Run(ctx, s.client, []string{keyPrefix + key}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to execute rate limit script: %w", err)
	}
	return res == 1, nil
}
