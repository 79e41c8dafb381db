package models

import (
	"time"

	"github.com/Dhoini/humanizer-billing/internal/plans"
)

// Статусы, которые сервис выставляет сам. Остальные значения приходят от Stripe как есть.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
)

// entitledStatuses статусы Stripe, при которых платный план дает свои лимиты.
// past_due оставляет доступ на время повторных попыток оплаты.
var entitledStatuses = map[string]bool{
	StatusActive: true,
	"trialing":   true,
	"past_due":   true,
}

// Subscription представляет запись о подписке пользователя. Одна запись на пользователя,
// строки никогда не удаляются.
type Subscription struct {
	// UserID ID пользователя в Supabase, неизменяем
	UserID string `db:"user_id" json:"user_id"`
	// StripeCustomerID пуст до первого checkout
	StripeCustomerID     *string    `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	Plan                 plans.Name `db:"plan" json:"plan"`
	Status               string     `db:"status" json:"status"`
	CurrentPeriodEnd     *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	// CancelAt момент окончания, если отмена запланирована
	CancelAt  *time.Time `db:"cancel_at" json:"cancel_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// NewDefaultSubscription создает запись по умолчанию: план free, статус active.
func NewDefaultSubscription(userID string) *Subscription {
	now := time.Now().UTC()
	return &Subscription{
		UserID:    userID,
		Plan:      plans.Free,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// HasCustomer сообщает, привязан ли к записи клиент Stripe.
func (s *Subscription) HasCustomer() bool {
	return s.StripeCustomerID != nil && *s.StripeCustomerID != ""
}

// EffectivePlan возвращает план, лимиты которого действуют на момент now.
// Отмененная, неоплаченная или истекшая по cancel_at подписка дает free,
// при этом сохраненный Plan не меняется.
func (s *Subscription) EffectivePlan(now time.Time) plans.Name {
	if s.Plan == plans.Free || !entitledStatuses[s.Status] {
		return plans.Free
	}
	if s.CancelAt != nil && !now.Before(*s.CancelAt) {
		return plans.Free
	}
	return s.Plan
}

// HasActivePaidSubscription сообщает, что у пользователя уже есть действующая
// платная подписка Stripe. Повторный checkout для него запрещен.
func (s *Subscription) HasActivePaidSubscription(now time.Time) bool {
	return s.StripeSubscriptionID != nil && *s.StripeSubscriptionID != "" && s.EffectivePlan(now) != plans.Free
}

// CustomerID возвращает ID клиента Stripe или пустую строку.
func (s *Subscription) CustomerID() string {
	if s.StripeCustomerID == nil {
		return ""
	}
	return *s.StripeCustomerID
}

// Clone возвращает глубокую копию записи.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.StripeCustomerID = cloneString(s.StripeCustomerID)
	c.StripeSubscriptionID = cloneString(s.StripeSubscriptionID)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.CancelAt = cloneTime(s.CancelAt)
	return &c
}

// StringPtr возвращает nil для пустой строки.
func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
