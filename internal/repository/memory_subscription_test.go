package repository

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_CreateAndLookups(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemorySubscriptionRepository(logger.NewNop())

	require.NoError(t, repo.Create(ctx, models.NewDefaultSubscription("user-1")))
	assert.ErrorIs(t, repo.Create(ctx, models.NewDefaultSubscription("user-1")), ErrDuplicate)

	require.NoError(t, repo.SetCustomerID(ctx, "user-1", "cus_1"))

	byCustomer, err := repo.GetByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byCustomer.UserID)

	_, err = repo.GetByStripeSubscriptionID(ctx, "sub_1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByCustomerID(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemory_CustomerIDIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemorySubscriptionRepository(logger.NewNop())

	require.NoError(t, repo.Create(ctx, models.NewDefaultSubscription("user-1")))
	require.NoError(t, repo.Create(ctx, models.NewDefaultSubscription("user-2")))
	require.NoError(t, repo.SetCustomerID(ctx, "user-1", "cus_1"))

	assert.ErrorIs(t, repo.SetCustomerID(ctx, "user-2", "cus_1"), ErrDuplicate)
	assert.ErrorIs(t, repo.SetCustomerID(ctx, "ghost", "cus_2"), ErrNotFound)
}

func TestInMemory_UpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemorySubscriptionRepository(logger.NewNop())

	require.NoError(t, repo.Create(ctx, models.NewDefaultSubscription("user-1")))
	before, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)

	periodEnd := time.Now().Add(720 * time.Hour).UTC()
	require.NoError(t, repo.UpsertByUserID(ctx, &models.Subscription{
		UserID:               "user-1",
		StripeCustomerID:     models.StringPtr("cus_1"),
		StripeSubscriptionID: models.StringPtr("sub_1"),
		Plan:                 plans.Premium,
		Status:               models.StatusActive,
		CurrentPeriodEnd:     &periodEnd,
	}))

	after, err := repo.GetByStripeSubscriptionID(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, plans.Premium, after.Plan)
	assert.Equal(t, periodEnd, *after.CurrentPeriodEnd)
}

func TestInMemory_UpsertInsertsMissingRow(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemorySubscriptionRepository(logger.NewNop())

	require.NoError(t, repo.UpsertByUserID(ctx, &models.Subscription{UserID: "user-9", Plan: plans.Pro, Status: "active"}))

	sub, err := repo.GetByUserID(ctx, "user-9")
	require.NoError(t, err)
	assert.Equal(t, plans.Pro, sub.Plan)
}

func TestInMemory_UpdateRequiresRow(t *testing.T) {
	repo := NewInMemorySubscriptionRepository(logger.NewNop())
	assert.ErrorIs(t, repo.Update(context.Background(), models.NewDefaultSubscription("ghost")), ErrNotFound)
}

func TestInMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemorySubscriptionRepository(logger.NewNop())
	require.NoError(t, repo.Create(ctx, models.NewDefaultSubscription("user-1")))

	sub, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	sub.Status = "mutated"

	again, err := repo.GetByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, again.Status)
}
