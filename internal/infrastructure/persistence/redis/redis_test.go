package redis

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shop"
	"github.com/alem-hub/school-gamification/pkg/circuitbreaker"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client), mr
}

// ═══════════════════════════════════════════════════════════════════════════
// Cache
// ═══════════════════════════════════════════════════════════════════════════

func TestCacheSetGet(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", map[string]int{"coins": 12}, time.Minute))

	var got map[string]int
	require.NoError(t, cache.Get(ctx, "k", &got))
	assert.Equal(t, 12, got["coins"])

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, cache.Get(ctx, "k", &got), ErrCacheMiss)
	assert.ErrorIs(t, cache.Set(ctx, "", 1, 0), ErrCacheKeyEmpty)
}

func TestCacheGetRejectsGarbage(t *testing.T) {
	cache, mr := newTestCache(t)
	require.NoError(t, mr.Set("k", "{not json"))

	var got map[string]int
	assert.ErrorIs(t, cache.Get(context.Background(), "k", &got), ErrCacheSerialization)
}

// ═══════════════════════════════════════════════════════════════════════════
// ProfileFeed
// ═══════════════════════════════════════════════════════════════════════════

func TestProfileFeedRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	feed := NewProfileFeed(cache, nil)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []progress.ProfileUpdate
	)
	sub, err := feed.SubscribeProfileChanges(ctx, "u1", func(u progress.ProfileUpdate) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, u)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, mr.PubSubNumSub(ProfileChannel("u1"))[ProfileChannel("u1")])

	require.NoError(t, feed.PublishProfileChange(ctx, progress.ProfileUpdate{
		UserID: "u1", CurrentXP: progress.IntPtr(120), CurrentLevel: progress.IntPtr(2), Version: 4,
	}))
	require.NoError(t, feed.PublishProfileChange(ctx, progress.ProfileUpdate{
		UserID: "u2", Coins: progress.IntPtr(99), Version: 1,
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	u := got[0]
	mu.Unlock()
	assert.Equal(t, "u1", u.UserID)
	require.NotNil(t, u.CurrentXP)
	assert.Equal(t, 120, *u.CurrentXP)
	assert.Nil(t, u.Coins)
	assert.Equal(t, int64(4), u.Version)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0, mr.PubSubNumSub(ProfileChannel("u1"))[ProfileChannel("u1")])
}

func TestProfileFeedSkipsMalformedMessages(t *testing.T) {
	cache, mr := newTestCache(t)
	feed := NewProfileFeed(cache, nil)

	var count atomic.Int32
	sub, err := feed.SubscribeProfileChanges(context.Background(), "u1", func(progress.ProfileUpdate) {
		count.Add(1)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	mr.Publish(ProfileChannel("u1"), "garbage")
	mr.Publish(ProfileChannel("u1"), `{"coins":5,"version":2}`)

	assert.Eventually(t, func() bool { return count.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestProfileFeedPublishTripsBreaker(t *testing.T) {
	cache, mr := newTestCache(t)
	feed := NewProfileFeed(cache, nil)
	ctx := context.Background()
	mr.Close()

	update := progress.ProfileUpdate{UserID: "u1", Coins: progress.IntPtr(3), Version: 1}
	for i := 0; i < 5; i++ {
		err := feed.PublishProfileChange(ctx, update)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	}
	assert.ErrorIs(t, feed.PublishProfileChange(ctx, update), circuitbreaker.ErrCircuitOpen)
}

func TestProfileFeedSubscribeFailsWhenRedisIsDown(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	_, err := NewProfileFeed(cache, nil).SubscribeProfileChanges(context.Background(), "u1", func(progress.ProfileUpdate) {})
	assert.Error(t, err)
}

// ═══════════════════════════════════════════════════════════════════════════
// CatalogCache
// ═══════════════════════════════════════════════════════════════════════════

type countingCatalog struct {
	calls atomic.Int32
	items []*shop.Item
	err   error
}

func (c *countingCatalog) ListShopItems(context.Context, bool) ([]*shop.Item, error) {
	c.calls.Add(1)
	return c.items, c.err
}

func TestCatalogCacheHitAndMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	source := &countingCatalog{items: []*shop.Item{
		{ID: "frame", Name: "Gold frame", Cost: 150, MinLevel: 3, Active: true},
	}}
	catalog := NewCatalogCache(source, cache, time.Minute, nil)
	ctx := context.Background()

	first, err := catalog.ListShopItems(ctx, true)
	require.NoError(t, err)
	second, err := catalog.ListShopItems(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, int32(1), source.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, 150, second[0].Cost)

	mr.FastForward(2 * time.Minute)
	_, err = catalog.ListShopItems(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())

	require.NoError(t, catalog.Invalidate(ctx))
	_, err = catalog.ListShopItems(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int32(3), source.calls.Load())
}

func TestCatalogCacheFallsBackWhenRedisIsDown(t *testing.T) {
	cache, mr := newTestCache(t)
	source := &countingCatalog{items: []*shop.Item{{ID: "badge", Name: "Badge", Cost: 10, MinLevel: 1, Active: true}}}
	catalog := NewCatalogCache(source, cache, 0, nil)
	mr.Close()

	items, err := catalog.ListShopItems(context.Background(), true)

	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestCatalogCacheDoesNotCacheSourceErrors(t *testing.T) {
	cache, _ := newTestCache(t)
	source := &countingCatalog{err: errors.New("db down")}
	catalog := NewCatalogCache(source, cache, time.Minute, nil)
	ctx := context.Background()

	_, err := catalog.ListShopItems(ctx, false)
	assert.Error(t, err)
	_, err = catalog.ListShopItems(ctx, false)
	assert.Error(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache.school.local"
	cfg.DB = 2

	opts := cfg.Options()
	assert.Equal(t, "cache.school.local:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
}

func TestNewCacheFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port, _ = strconv.Atoi(port)
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.MaxRetries = -1

	_, err = NewCache(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCacheConnection)
}
