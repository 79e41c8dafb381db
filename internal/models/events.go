package models

import "time"

// SubscriptionChangedEvent публикуется в Kafka после применения изменения подписки.
type SubscriptionChangedEvent struct {
	EventID              string     `json:"event_id"`
	StripeEventID        string     `json:"stripe_event_id,omitempty"`
	StripeEventType      string     `json:"stripe_event_type"`
	UserID               string     `json:"user_id"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	Plan                 string     `json:"plan"`
	Status               string     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAt             *time.Time `json:"cancel_at,omitempty"`
	OccurredAt           time.Time  `json:"occurred_at"`
}
