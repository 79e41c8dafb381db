package stripe

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings настройки circuit breaker вокруг вызовов Stripe.
type BreakerSettings struct {
	// MaxFailures подряд идущих ошибок, после которых breaker открывается.
	MaxFailures uint32
	// OpenTimeout время в открытом состоянии до пробного запроса.
	OpenTimeout time.Duration
	// OnStateChange вызывается при смене состояния (метрики).
	OnStateChange func(from, to string)
}

// breakerClient оборачивает Client в gobreaker. Ошибки запроса (4xx) не
// считаются отказом провайдера и breaker не открывают.
type breakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker[any]
	log  *logger.Logger
}

// NewBreakerClient создает Client с circuit breaker.
func NewBreakerClient(next Client, settings BreakerSettings, log *logger.Logger) Client {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if settings.OnStateChange != nil {
				settings.OnStateChange(from.String(), to.String())
			}
		},
	})

	return &breakerClient{next: next, cb: cb, log: log}
}

func (b *breakerClient) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	res, err := b.execute(func() (any, error) { return b.next.CreateCustomer(ctx, userID, email) })
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (b *breakerClient) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*Session, error) {
	res, err := b.execute(func() (any, error) { return b.next.CreateCheckoutSession(ctx, in) })
	if err != nil {
		return nil, err
	}
	return res.(*Session), nil
}

func (b *breakerClient) CreatePortalSession(ctx context.Context, customerID string) (*Session, error) {
	res, err := b.execute(func() (any, error) { return b.next.CreatePortalSession(ctx, customerID) })
	if err != nil {
		return nil, err
	}
	return res.(*Session), nil
}

func (b *breakerClient) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error) {
	res, err := b.execute(func() (any, error) { return b.next.GetSubscription(ctx, subscriptionID) })
	if err != nil {
		return nil, err
	}
	return res.(*SubscriptionObject), nil
}

func (b *breakerClient) execute(fn func() (any, error)) (any, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.log.Warnw("Stripe call rejected by circuit breaker", "state", b.cb.State().String())
		return nil, ErrProviderUnavailable
	}
	return res, err
}
