package stripe

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// Типы событий, на которые реагирует сервис.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventSubscriptionPaused       = "customer.subscription.paused"
	EventSubscriptionResumed      = "customer.subscription.resumed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
)

const (
	SignatureHeader         = "Stripe-Signature"
	DefaultWebhookTolerance = webhook.DefaultTolerance
)

// ParseWebhook проверяет подпись Stripe-Signature (HMAC-SHA256 над "{t}.{body}")
// и разбирает событие. Любая ошибка проверки дает ErrInvalidSignature.
func ParseWebhook(payload []byte, header, secret string, tolerance time.Duration) (stripe.Event, error) {
	if header == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Type == "" {
		return stripe.Event{}, fmt.Errorf("%w: event without type", ErrInvalidSignature)
	}
	return event, nil
}
