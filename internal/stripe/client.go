package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	// Ключ метаданных для связи Stripe Customer с UserID
	metadataUserIDKey  = "user_id"
	metadataPriceIDKey = "price_id"

	defaultTimeout = 10 * time.Second
)

// idempotencyNamespace пространство имен для детерминированных ключей идемпотентности.
var idempotencyNamespace = uuid.MustParse("6f1c7f5e-2a8b-4d0e-9a51-3f0c2b7d8e11")

// Client определяет методы для взаимодействия со Stripe API.
type Client interface {
	// CreateCustomer создает клиента в Stripe и возвращает его ID.
	// Повторный вызов для того же userID возвращает того же клиента.
	CreateCustomer(ctx context.Context, userID, email string) (string, error)

	// CreateCheckoutSession создает hosted checkout в режиме subscription.
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*Session, error)

	// CreatePortalSession создает сессию портала самообслуживания.
	CreatePortalSession(ctx context.Context, customerID string) (*Session, error)

	// GetSubscription читает текущее состояние подписки.
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error)
}

// CheckoutSessionInput параметры checkout-сессии.
type CheckoutSessionInput struct {
	UserID     string
	CustomerID string
	PriceID    string
}

// Session ответ Stripe, нужный браузеру для редиректа.
type Session struct {
	ID  string `json:"sessionId,omitempty"`
	URL string `json:"url"`
}

// Options настройки клиента Stripe.
type Options struct {
	APIKey          string
	Timeout         time.Duration
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	// BackendURL переопределяет адрес API (stripe-mock, тесты).
	BackendURL string
}

// stripeClient реализует интерфейс Client.
type stripeClient struct {
	client  *client.API
	opts    Options
	timeout time.Duration
	log     *logger.Logger
}

// NewStripeClient создает новый экземпляр клиента Stripe.
// Встроенные повторы SDK выключены: повторами управляет вызывающий сервис.
func NewStripeClient(opts Options, log *logger.Logger) Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if opts.BackendURL != "" {
		cfg.URL = stripe.String(opts.BackendURL)
	}

	sc := &client.API{}
	sc.Init(opts.APIKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	})

	return &stripeClient{
		client:  sc,
		opts:    opts,
		timeout: timeout,
		log:     log,
	}
}

// IdempotencyKey возвращает стабильный ключ для операции над пользователем.
func IdempotencyKey(operation, userID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(operation+":"+userID)).String()
}

func (sc *stripeClient) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			metadataUserIDKey: userID,
		},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(IdempotencyKey("create-customer", userID))

	cus, err := sc.client.Customers.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCustomer", err)
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	sc.log.Infow("Stripe customer created", "stripeCustomerID", cus.ID, "userID", userID)
	return cus.ID, nil
}

func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(in.CustomerID),
		ClientReferenceID: stripe.String(in.UserID),
		SuccessURL:        stripe.String(sc.opts.SuccessURL),
		CancelURL:         stripe.String(sc.opts.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataUserIDKey:  in.UserID,
				metadataPriceIDKey: in.PriceID,
			},
		},
	}
	params.AddMetadata(metadataUserIDKey, in.UserID)
	params.AddMetadata(metadataPriceIDKey, in.PriceID)
	params.Context = ctx

	s, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCheckoutSession", err)
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	sc.log.Infow("Stripe checkout session created", "sessionID", s.ID, "userID", in.UserID, "priceID", in.PriceID)
	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (sc *stripeClient) CreatePortalSession(ctx context.Context, customerID string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(sc.opts.PortalReturnURL),
	}
	params.Context = ctx

	s, err := sc.client.BillingPortalSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreatePortalSession", err)
		return nil, fmt.Errorf("stripe: failed to create portal session: %w", err)
	}

	sc.log.Infow("Stripe portal session created", "sessionID", s.ID, "stripeCustomerID", customerID)
	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (sc *stripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := sc.client.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		logStripeError(sc.log, "GetSubscription", err)
		return nil, fmt.Errorf("stripe: failed to get subscription: %w", err)
	}
	return subscriptionFromAPI(sub), nil
}

func subscriptionFromAPI(sub *stripe.Subscription) *SubscriptionObject {
	obj := &SubscriptionObject{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          unixTime(sub.CancelAt),
		CurrentPeriodEnd:  unixTime(sub.CurrentPeriodEnd),
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		obj.Customer = expandableID(sub.Customer.ID)
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil {
				obj.Items.Data = append(obj.Items.Data, subscriptionItem{Price: priceRef{ID: item.Price.ID}})
			}
		}
	}
	return obj
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
