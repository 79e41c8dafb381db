package services_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/internal/services"
	"github.com/Dhoini/humanizer-billing/internal/stripe"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageCheck(t *testing.T) {
	repo := newFlakyRepo()
	svc := services.NewUsageService(repo, testCatalog(t), nil, logger.NewNop())

	sub := models.NewDefaultSubscription("premium-user")
	sub.Plan = plans.Premium
	require.NoError(t, repo.Create(context.Background(), sub))

	t.Run("user without row uses free limits", func(t *testing.T) {
		_, err := svc.Check(context.Background(), "new-user", 0, strings.Repeat("w ", 150))
		assert.ErrorIs(t, err, plans.ErrRequestTooLarge)
	})

	t.Run("paid plan allows larger requests", func(t *testing.T) {
		report, err := svc.Check(context.Background(), "premium-user", 1000, strings.Repeat("w ", 150))
		require.NoError(t, err)
		assert.Equal(t, plans.Premium, report.Plan)
		assert.Equal(t, 15000-1150, report.RemainingWords)
	})

	t.Run("monthly allocation", func(t *testing.T) {
		_, err := svc.Check(context.Background(), "premium-user", 14990, strings.Repeat("w ", 20))
		assert.ErrorIs(t, err, plans.ErrQuotaExceeded)
	})

	t.Run("store failure", func(t *testing.T) {
		repo.failReads = true
		defer func() { repo.failReads = false }()
		_, err := svc.Check(context.Background(), "premium-user", 0, "hello")
		assert.ErrorIs(t, err, services.ErrPersistence)
	})

	t.Run("missing user id", func(t *testing.T) {
		_, err := svc.Check(context.Background(), "", 0, "hello")
		assert.ErrorIs(t, err, services.ErrInvalidInput)
	})
}

func TestUsageCheck_CancelledSubscriptionFallsBackToFree(t *testing.T) {
	f := newWebhookFixture(t)
	f.seed(t, "user-1", "cus_1", "sub_1", plans.Pro)
	usage := services.NewUsageService(f.repo, testCatalog(t), nil, logger.NewNop())

	text := strings.Repeat("w ", 1200)
	report, err := usage.Check(context.Background(), "user-1", 0, text)
	require.NoError(t, err)
	assert.Equal(t, plans.Pro, report.Plan)

	obj := subscriptionObject("sub_1", "cus_1", "canceled", "price_pro")
	obj["cancel_at"] = time.Now().Add(-time.Hour).Unix()
	outcome, err := f.svc.HandleEvent(context.Background(), newEvent(t, "evt_del", stripe.EventSubscriptionDeleted, obj))
	require.NoError(t, err)
	require.Equal(t, services.OutcomeApplied, outcome)

	report, err = usage.Check(context.Background(), "user-1", 0, text)
	assert.ErrorIs(t, err, plans.ErrRequestTooLarge)
	assert.Equal(t, plans.Free, report.Plan)
	assert.Equal(t, 100, report.MaxWordsPerRequest)
}

func TestUsageCheck_ScheduledCancellationKeepsPlanUntilCancelAt(t *testing.T) {
	repo := newFlakyRepo()
	usage := services.NewUsageService(repo, testCatalog(t), nil, logger.NewNop())

	future := time.Now().Add(24 * time.Hour)
	sub := models.NewDefaultSubscription("user-1")
	sub.Plan = plans.Premium
	sub.CancelAt = &future
	require.NoError(t, repo.Create(context.Background(), sub))

	report, err := usage.Check(context.Background(), "user-1", 0, "hello")
	require.NoError(t, err)
	assert.Equal(t, plans.Premium, report.Plan)

	past := time.Now().Add(-time.Minute)
	sub.CancelAt = &past
	require.NoError(t, repo.Update(context.Background(), sub))

	report, err = usage.Check(context.Background(), "user-1", 0, "hello")
	require.NoError(t, err)
	assert.Equal(t, plans.Free, report.Plan)
}
