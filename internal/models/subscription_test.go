package models

import (
	"testing"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/stretchr/testify/assert"
)

func TestEffectivePlan(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	cases := []struct {
		name     string
		status   string
		plan     plans.Name
		cancelAt *time.Time
		want     plans.Name
	}{
		{"active paid", StatusActive, plans.Pro, nil, plans.Pro},
		{"trialing", "trialing", plans.Premium, nil, plans.Premium},
		{"past due keeps access", "past_due", plans.Premium, nil, plans.Premium},
		{"cancel scheduled in the future", StatusActive, plans.Pro, &future, plans.Pro},
		{"cancel time reached", StatusActive, plans.Pro, &past, plans.Free},
		{"cancel exactly now", StatusActive, plans.Pro, &now, plans.Free},
		{"cancelled by deletion", StatusCancelled, plans.Pro, &past, plans.Free},
		{"provider canceled", "canceled", plans.PremiumPlus, nil, plans.Free},
		{"unpaid", "unpaid", plans.Premium, nil, plans.Free},
		{"incomplete", "incomplete", plans.Premium, nil, plans.Free},
		{"paused", "paused", plans.Pro, nil, plans.Free},
		{"free stays free", StatusActive, plans.Free, nil, plans.Free},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := NewDefaultSubscription("user-1")
			sub.Status = tc.status
			sub.Plan = tc.plan
			sub.CancelAt = tc.cancelAt

			assert.Equal(t, tc.want, sub.EffectivePlan(now))
			assert.Equal(t, tc.plan, sub.Plan, "stored plan must not change")
		})
	}
}

func TestHasActivePaidSubscription(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	sub := NewDefaultSubscription("user-1")
	assert.False(t, sub.HasActivePaidSubscription(now), "default row")

	sub.Plan = plans.Premium
	assert.False(t, sub.HasActivePaidSubscription(now), "paid plan without a Stripe subscription")

	sub.StripeSubscriptionID = StringPtr("sub_1")
	assert.True(t, sub.HasActivePaidSubscription(now))

	sub.CancelAt = &past
	assert.False(t, sub.HasActivePaidSubscription(now), "ended subscription")

	sub.CancelAt = nil
	sub.Status = StatusCancelled
	assert.False(t, sub.HasActivePaidSubscription(now))
}
