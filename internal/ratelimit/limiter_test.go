package ratelimit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"file": func() Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "storage", ".rate_limits"), nil)
			require.NoError(t, err)
			return s
		},
	}
}

func TestLimiter_TwoPerMinute(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			l := NewLimiter(newStore(), nil, nil, WithClock(clock.Now))

			ok, err := l.Allow(ctx, "203.0.113.1")
			require.NoError(t, err)
			assert.True(t, ok)

			clock.Advance(10 * time.Second)
			ok, err = l.Allow(ctx, "203.0.113.1")
			require.NoError(t, err)
			assert.True(t, ok)

			clock.Advance(10 * time.Second)
			ok, err = l.Allow(ctx, "203.0.113.1")
			require.NoError(t, err)
			assert.False(t, ok, "third submission inside a minute must be rejected")

			ok, err = l.Allow(ctx, "198.51.100.9")
			require.NoError(t, err)
			assert.True(t, ok, "other IPs are unaffected")
		})
	}
}

func TestLimiter_FivePerTenMinutes(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			l := NewLimiter(newStore(), nil, nil, WithClock(clock.Now))

			for i := 0; i < 5; i++ {
				ok, err := l.Allow(ctx, "203.0.113.1")
				require.NoError(t, err)
				require.True(t, ok, "submission %d", i+1)
				clock.Advance(61 * time.Second)
			}

			// 5 * 61s = 305s after the first submission: all five are inside 600s.
			ok, err := l.Allow(ctx, "203.0.113.1")
			require.NoError(t, err)
			assert.False(t, ok)

			// Once the first one leaves the ten minute window a slot frees up.
			clock.Advance(296 * time.Second)
			ok, err = l.Allow(ctx, "203.0.113.1")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestLimiter_RejectedAttemptsAreNotRecorded(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewLimiter(NewMemoryStore(), nil, nil, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "ip")
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := 0; i < 10; i++ {
		ok, err := l.Allow(ctx, "ip")
		require.NoError(t, err)
		require.False(t, ok)
	}

	clock.Advance(61 * time.Second)
	ok, err := l.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, ok, "rejections must not extend the window")
}

func TestMemoryStore_ForgetsIdleKeys(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	l := NewLimiter(store, nil, nil, WithClock(clock.Now))

	_, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	clock.Advance(11 * time.Minute)
	_, err = l.Allow(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, 1, store.Len())
}

func TestFileStore_PersistsAndPrunes(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), ".rate_limits")
	store, err := NewFileStore(path, nil)
	require.NoError(t, err)
	l := NewLimiter(store, nil, nil, WithClock(clock.Now))

	_, err = l.Allow(ctx, "old")
	require.NoError(t, err)
	clock.Advance(601 * time.Second)
	_, err = l.Allow(ctx, "new")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries map[string][]int64
	require.NoError(t, json.Unmarshal(raw, &entries))

	assert.NotContains(t, entries, "old")
	assert.Equal(t, []int64{clock.Now().Unix()}, entries["new"])

	// A second store over the same file sees the persisted state.
	other, err := NewFileStore(path, nil)
	require.NoError(t, err)
	l2 := NewLimiter(other, nil, nil, WithClock(clock.Now))
	ok, err := l2.Allow(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l2.Allow(ctx, "new")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".rate_limits")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o640))

	store, err := NewFileStore(path, nil)
	require.NoError(t, err)

	ok, err := NewLimiter(store, nil, nil).Allow(context.Background(), "ip")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_ConcurrentStoresShareOneBudget(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), ".rate_limits")

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		// Separate stores stand in for separate processes: only the flock
		// serialises them.
		store, err := NewFileStore(path, nil)
		require.NoError(t, err)
		l := NewLimiter(store, nil, nil, WithClock(clock.Now))

		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Allow(ctx, "203.0.113.50")
			assert.NoError(t, err)
			if ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), allowed.Load())
}

func TestLimiter_CustomRules(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewLimiter(NewMemoryStore(), []Rule{{Window: 30 * time.Second, Limit: 1}}, nil, WithClock(clock.Now))

	ok, err := l.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(30 * time.Second)
	ok, err = l.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, ok, "a timestamp exactly one window old no longer counts")
	assert.Len(t, l.Rules(), 1)
}

func TestLimiter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLimiter(NewMemoryStore(), nil, nil).Allow(ctx, "ip")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	ip := "test-" + time.Now().Format("150405.000000")
	defer client.Del(ctx, keyPrefix+ip)

	clock := newFakeClock()
	l := NewLimiter(NewRedisStore(client), nil, nil, WithClock(clock.Now))

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, ip)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, ip)
	require.NoError(t, err)
	assert.False(t, ok)
}
