package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/metrics"
	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/internal/repository"
	"github.com/Dhoini/humanizer-billing/internal/stripe"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
)

// CheckoutInput запрос на создание checkout-сессии.
type CheckoutInput struct {
	UserID  string `validate:"required"`
	Email   string `validate:"omitempty,email"`
	PriceID string `validate:"required"`
}

// RetryPolicy параметры повторов вызовов Stripe. Повторяются только
// сетевые ошибки, 429 и 5xx.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy три попытки с экспоненциальной задержкой.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

// SubscriptionView запись подписки вместе с действующим планом и его лимитами.
// EffectivePlan может отличаться от Subscription.Plan после отмены.
type SubscriptionView struct {
	Subscription  *models.Subscription `json:"subscription"`
	EffectivePlan plans.Name           `json:"effectivePlan"`
	Limits        plans.Plan           `json:"limits"`
}

// BillingService создает сессии Stripe и отдает состояние подписки.
type BillingService struct {
	repo     repository.SubscriptionRepository
	stripe   stripe.Client
	catalog  *plans.Catalog
	metrics  metrics.BillingMetrics
	retry    RetryPolicy
	validate *validator.Validate
	log      *logger.Logger
}

// NewBillingService конструктор сервиса
func NewBillingService(
	repo repository.SubscriptionRepository,
	stripeClient stripe.Client,
	catalog *plans.Catalog,
	m metrics.BillingMetrics,
	retry RetryPolicy,
	log *logger.Logger,
) *BillingService {
	if m == nil {
		m = metrics.NopBillingMetrics{}
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &BillingService{
		repo:     repo,
		stripe:   stripeClient,
		catalog:  catalog,
		metrics:  m,
		retry:    retry,
		validate: validator.New(),
		log:      log,
	}
}

// CreateCheckoutSession гарантирует наличие записи и клиента Stripe,
// затем создает checkout-сессию на выбранную цену.
func (s *BillingService) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*stripe.Session, error) {
	if err := s.validate.Struct(in); err != nil {
		s.metrics.IncSession("checkout", "invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !s.catalog.IsPaidPrice(in.PriceID) {
		s.metrics.IncSession("checkout", "invalid")
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrice, in.PriceID)
	}

	log := s.log.With("userID", in.UserID, "priceID", in.PriceID)

	sub, err := s.ensureSubscription(ctx, in.UserID)
	if err != nil {
		log.Errorw("Failed to ensure subscription record", "error", err)
		s.metrics.IncSession("checkout", "error")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if sub.HasActivePaidSubscription(time.Now()) {
		log.Warnw("User already has an active paid subscription, rejecting checkout",
			"stripeSubscriptionID", *sub.StripeSubscriptionID, "plan", sub.Plan)
		s.metrics.IncSession("checkout", "conflict")
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, *sub.StripeSubscriptionID)
	}

	customerID := sub.CustomerID()
	if customerID == "" {
		customerID, err = withRetry(ctx, s, "create_customer", func() (string, error) {
			return s.stripe.CreateCustomer(ctx, in.UserID, in.Email)
		})
		if err != nil {
			log.Errorw("Failed to create Stripe customer", "error", err)
			s.metrics.IncSession("checkout", "error")
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}
		if err := s.repo.SetCustomerID(ctx, in.UserID, customerID); err != nil {
			log.Errorw("Failed to save Stripe customer ID", "error", err, "customerID", customerID)
			s.metrics.IncSession("checkout", "error")
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		log.Infow("Stripe customer linked", "customerID", customerID)
	}

	session, err := withRetry(ctx, s, "create_checkout_session", func() (*stripe.Session, error) {
		return s.stripe.CreateCheckoutSession(ctx, stripe.CheckoutSessionInput{
			UserID:     in.UserID,
			CustomerID: customerID,
			PriceID:    in.PriceID,
		})
	})
	if err != nil {
		log.Errorw("Failed to create checkout session", "error", err)
		s.metrics.IncSession("checkout", "error")
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	log.Infow("Checkout session created", "sessionID", session.ID)
	s.metrics.IncSession("checkout", "ok")
	return session, nil
}

// CreatePortalSession открывает портал Stripe для пользователя с привязанным клиентом.
func (s *BillingService) CreatePortalSession(ctx context.Context, userID string) (*stripe.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	sub, err := s.repo.GetByUserID(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.metrics.IncSession("portal", "no_customer")
		return nil, ErrNoSubscription
	case err != nil:
		s.log.Errorw("Failed to load subscription for portal", "error", err, "userID", userID)
		s.metrics.IncSession("portal", "error")
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !sub.HasCustomer() {
		s.metrics.IncSession("portal", "no_customer")
		return nil, ErrNoSubscription
	}

	session, err := withRetry(ctx, s, "create_portal_session", func() (*stripe.Session, error) {
		return s.stripe.CreatePortalSession(ctx, sub.CustomerID())
	})
	if err != nil {
		s.log.Errorw("Failed to create portal session", "error", err, "userID", userID)
		s.metrics.IncSession("portal", "error")
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	s.metrics.IncSession("portal", "ok")
	return session, nil
}

// GetSubscription возвращает запись пользователя. Для пользователя без записи
// отдается free/active по умолчанию, в базу при этом ничего не пишется.
func (s *BillingService) GetSubscription(ctx context.Context, userID string) (*SubscriptionView, error) {
	sub, err := s.loadOrDefault(ctx, userID)
	if err != nil {
		return nil, err
	}
	effective := sub.EffectivePlan(time.Now())
	return &SubscriptionView{
		Subscription:  sub,
		EffectivePlan: effective,
		Limits:        s.catalog.Limits(effective),
	}, nil
}

// Plans отдает таблицу планов.
func (s *BillingService) Plans() []plans.Plan {
	return s.catalog.All()
}

func (s *BillingService) loadOrDefault(ctx context.Context, userID string) (*models.Subscription, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	sub, err := s.repo.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.NewDefaultSubscription(userID), nil
	}
	if err != nil {
		s.log.Errorw("Failed to load subscription", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return sub, nil
}

// ensureSubscription создает запись free/active, если ее нет.
// Параллельное создание той же записи разрешается повторным чтением.
func (s *BillingService) ensureSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.repo.GetByUserID(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	sub = models.NewDefaultSubscription(userID)
	if err := s.repo.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.repo.GetByUserID(ctx, userID)
		}
		return nil, err
	}
	s.log.Infow("Created default subscription record", "userID", userID)
	return sub, nil
}

// withRetry повторяет вызов Stripe по политике сервиса. Неповторяемые ошибки
// останавливают цикл сразу через backoff.Permanent.
func withRetry[T any](ctx context.Context, s *BillingService, operation string, fn func() (T, error)) (T, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = s.retry.InitialInterval
	expBackoff.MaxInterval = s.retry.MaxInterval
	expBackoff.MaxElapsedTime = s.retry.MaxElapsedTime

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(s.retry.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryWithData[T](func() (T, error) {
		attempt++
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !stripe.IsRetryable(err) {
			return result, backoff.Permanent(err)
		}
		s.log.Warnw("Retryable Stripe error occurred, retrying", "operation", operation, "attempt", attempt, "error", err)
		return result, err
	}, policy)
}
