package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*models.Subscription
	gets    int
	err     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*models.Subscription)}
}

func (c *fakeCache) Get(_ context.Context, userID string) (*models.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	return c.entries[userID].Clone(), nil
}

func (c *fakeCache) Set(_ context.Context, sub *models.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.entries[sub.UserID] = sub.Clone()
	return nil
}

func (c *fakeCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return c.err
}

func TestCached_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	base := NewInMemorySubscriptionRepository(logger.NewNop())
	cache := newFakeCache()
	repo := NewCachedSubscriptionRepository(base, cache, logger.NewNop())

	require.NoError(t, repo.Create(ctx, models.NewDefaultSubscription("user-1")))
	assert.Empty(t, cache.entries)

	_, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.Contains(t, cache.entries, "user-1")

	sub, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	sub.Plan = plans.Pro
	require.NoError(t, repo.Update(ctx, sub))
	assert.NotContains(t, cache.entries, "user-1")

	fresh, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, plans.Pro, fresh.Plan)
}

func TestCached_CacheErrorsDoNotFailCalls(t *testing.T) {
	ctx := context.Background()
	base := NewInMemorySubscriptionRepository(logger.NewNop())
	cache := newFakeCache()
	cache.err = errors.New("redis down")
	repo := NewCachedSubscriptionRepository(base, cache, logger.NewNop())

	require.NoError(t, repo.Create(ctx, models.NewDefaultSubscription("user-1")))
	require.NoError(t, repo.SetCustomerID(ctx, "user-1", "cus_1"))

	sub, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", sub.CustomerID())
}

func TestCached_MissIsNotCached(t *testing.T) {
	cache := newFakeCache()
	repo := NewCachedSubscriptionRepository(NewInMemorySubscriptionRepository(logger.NewNop()), cache, logger.NewNop())

	_, err := repo.GetByUserID(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, cache.entries)
}

func TestCached_GetByUserIDFromStoreSkipsStaleEntry(t *testing.T) {
	ctx := context.Background()
	base := NewInMemorySubscriptionRepository(logger.NewNop())
	cache := newFakeCache()
	repo := NewCachedSubscriptionRepository(base, cache, logger.NewNop())

	require.NoError(t, base.Create(ctx, models.NewDefaultSubscription("user-1")))
	stale := models.NewDefaultSubscription("user-1")
	stale.Status = "past_due"
	cache.entries["user-1"] = stale

	cached, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "past_due", cached.Status)

	gets := cache.gets
	fresh, err := GetByUserIDFromStore(ctx, repo, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, fresh.Status)
	assert.Equal(t, gets, cache.gets, "store read must not consult the cache")
	assert.Equal(t, "past_due", cache.entries["user-1"].Status, "store read must not refill the cache")

	plain, err := GetByUserIDFromStore(ctx, base, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, plain.Status)
}
