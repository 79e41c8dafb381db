package stripe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
)

// expandableID принимает как строковый ID, так и развернутый объект с полем id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

// unixSeconds время в секундах Unix; 0 и null означают отсутствие значения.
type unixSeconds struct {
	t *time.Time
}

func (u *unixSeconds) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		u.t = nil
		return nil
	}
	var sec int64
	if err := json.Unmarshal(data, &sec); err != nil {
		return err
	}
	u.t = unixTime(sec)
	return nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

type priceRef struct {
	ID string `json:"id"`
}

type subscriptionItem struct {
	Price priceRef `json:"price"`
}

// SubscriptionObject data.object событий customer.subscription.*.
type SubscriptionObject struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []subscriptionItem `json:"data"`
	} `json:"items"`

	CancelAt         *time.Time `json:"-"`
	CurrentPeriodEnd *time.Time `json:"-"`
}

func (s *SubscriptionObject) UnmarshalJSON(data []byte) error {
	type plain SubscriptionObject
	aux := struct {
		*plain
		CancelAt         unixSeconds `json:"cancel_at"`
		CurrentPeriodEnd unixSeconds `json:"current_period_end"`
	}{plain: (*plain)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.CancelAt = aux.CancelAt.t
	s.CurrentPeriodEnd = aux.CurrentPeriodEnd.t
	return nil
}

// CustomerID ID клиента Stripe.
func (s *SubscriptionObject) CustomerID() string { return string(s.Customer) }

// PriceID price первого элемента подписки или пустая строка.
func (s *SubscriptionObject) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// EffectiveCancelAt явный cancel_at, иначе current_period_end при
// cancel_at_period_end, иначе nil.
func (s *SubscriptionObject) EffectiveCancelAt() *time.Time {
	if s.CancelAt != nil {
		return s.CancelAt
	}
	if s.CancelAtPeriodEnd && s.CurrentPeriodEnd != nil {
		return s.CurrentPeriodEnd
	}
	return nil
}

// CheckoutSessionObject data.object события checkout.session.completed.
type CheckoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	CustomerEmail     string            `json:"customer_email"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

func (c *CheckoutSessionObject) CustomerID() string     { return string(c.Customer) }
func (c *CheckoutSessionObject) SubscriptionID() string { return string(c.Subscription) }

// UserID client_reference_id, а если он пуст, metadata.user_id.
func (c *CheckoutSessionObject) UserID() string {
	if c.ClientReferenceID != "" {
		return c.ClientReferenceID
	}
	return c.Metadata[metadataUserIDKey]
}

// PriceID price_id из метаданных сессии.
func (c *CheckoutSessionObject) PriceID() string {
	return c.Metadata[metadataPriceIDKey]
}

// PaymentIntentObject минимальный набор полей payment_intent.succeeded для логов.
type PaymentIntentObject struct {
	ID       string       `json:"id"`
	Amount   int64        `json:"amount"`
	Currency string       `json:"currency"`
	Customer expandableID `json:"customer"`
}

func (p *PaymentIntentObject) CustomerID() string { return string(p.Customer) }

// DecodeObject декодирует data.object события в v.
func DecodeObject(event stripe.Event, v any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("%w: event %s has no data.object", ErrMalformedObject, event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("%w: event %s: %v", ErrMalformedObject, event.ID, err)
	}
	return nil
}
