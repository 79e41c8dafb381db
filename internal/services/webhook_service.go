package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/kafka"
	"github.com/Dhoini/humanizer-billing/internal/metrics"
	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/internal/repository"
	"github.com/Dhoini/humanizer-billing/internal/stripe"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/google/uuid"
	stripego "github.com/stripe/stripe-go/v78"
)

// Outcome результат обработки события вебхука. Любой Outcome подтверждается Stripe ответом 200.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

const publishTimeout = 10 * time.Second

// WebhookService сверяет состояние подписок с событиями Stripe.
type WebhookService struct {
	repo     repository.SubscriptionRepository
	stripe   stripe.Client // может быть nil, тогда checkout не дополняется данными подписки
	catalog  *plans.Catalog
	producer kafka.Producer // может быть nil, если Kafka выключена
	metrics  metrics.BillingMetrics
	log      *logger.Logger

	publishWG sync.WaitGroup
}

// NewWebhookService конструктор сервиса
func NewWebhookService(
	repo repository.SubscriptionRepository,
	stripeClient stripe.Client,
	catalog *plans.Catalog,
	producer kafka.Producer,
	m metrics.BillingMetrics,
	log *logger.Logger,
) *WebhookService {
	if producer == nil {
		log.Warnw("Kafka producer is nil, subscription events will not be published")
	}
	if m == nil {
		m = metrics.NopBillingMetrics{}
	}
	return &WebhookService{
		repo:     repo,
		stripe:   stripeClient,
		catalog:  catalog,
		producer: producer,
		metrics:  m,
		log:      log,
	}
}

// HandleEvent обрабатывает проверенное событие Stripe. Ошибка возвращается
// только для неразборчивого data.object (ErrMalformedEvent). Сбой хранилища
// дает OutcomeFailed без ошибки: Stripe не должен повторять доставку.
func (s *WebhookService) HandleEvent(ctx context.Context, event stripego.Event) (Outcome, error) {
	eventType := string(event.Type)
	log := s.log.With("eventID", event.ID, "eventType", eventType)

	var (
		outcome Outcome
		err     error
	)

	switch eventType {
	case stripe.EventCheckoutSessionCompleted:
		outcome, err = s.handleCheckoutCompleted(ctx, event, log)
	case stripe.EventSubscriptionUpdated,
		stripe.EventSubscriptionCreated,
		stripe.EventSubscriptionPaused,
		stripe.EventSubscriptionResumed:
		outcome, err = s.handleSubscriptionChanged(ctx, event, false, log)
	case stripe.EventSubscriptionDeleted:
		outcome, err = s.handleSubscriptionChanged(ctx, event, true, log)
	case stripe.EventPaymentIntentSucceeded:
		outcome = s.handlePaymentSucceeded(event, log)
	default:
		log.Infow("Unhandled webhook event type, acknowledging")
		outcome = OutcomeIgnored
		eventType = "other"
	}

	if err != nil {
		s.metrics.IncWebhookEvent(eventType, "malformed")
		return outcome, err
	}
	s.metrics.IncWebhookEvent(eventType, string(outcome))
	return outcome, nil
}

// Wait дожидается фоновой публикации событий. Вызывается при остановке сервиса.
func (s *WebhookService) Wait() {
	s.publishWG.Wait()
}

func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, event stripego.Event, log *logger.Logger) (Outcome, error) {
	var session stripe.CheckoutSessionObject
	if err := stripe.DecodeObject(event, &session); err != nil {
		log.Warnw("Malformed checkout session object", "error", err)
		return OutcomeSkipped, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if session.Mode != "" && session.Mode != "subscription" {
		log.Infow("Checkout session is not a subscription checkout, ignoring", "mode", session.Mode)
		return OutcomeIgnored, nil
	}

	log = log.With("sessionID", session.ID, "stripeCustomerID", session.CustomerID(), "stripeSubscriptionID", session.SubscriptionID())

	existing, userID, err := s.findCheckoutOwner(ctx, &session)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Warnw("Cannot resolve user for completed checkout, skipping")
		return OutcomeSkipped, nil
	case err != nil:
		log.Errorw("Failed to look up subscription for checkout", "error", err, "userID", userID)
		return OutcomeFailed, nil
	}

	sub := existing
	if sub == nil {
		sub = models.NewDefaultSubscription(userID)
	}
	if id := session.CustomerID(); id != "" {
		sub.StripeCustomerID = models.StringPtr(id)
	}
	if id := session.SubscriptionID(); id != "" {
		sub.StripeSubscriptionID = models.StringPtr(id)
	}
	sub.Plan = s.catalog.PlanForPrice(session.PriceID())
	sub.Status = models.StatusActive

	if id := session.SubscriptionID(); id != "" && s.stripe != nil {
		snapshot, err := s.stripe.GetSubscription(ctx, id)
		if err != nil {
			log.Warnw("Failed to fetch subscription details, applying session data only", "error", err)
		} else {
			s.applySnapshot(sub, snapshot)
		}
	}

	if err := s.repo.UpsertByUserID(ctx, sub); err != nil {
		log.Errorw("Failed to persist completed checkout", "error", err, "userID", sub.UserID)
		return OutcomeFailed, nil
	}

	log.Infow("Checkout completion applied", "userID", sub.UserID, "plan", sub.Plan, "status", sub.Status)
	s.publish(ctx, event, sub)
	return OutcomeApplied, nil
}

// findCheckoutOwner определяет пользователя: client_reference_id, metadata.user_id,
// затем поиск по клиенту Stripe. Отсутствие записи для известного userID не ошибка.
func (s *WebhookService) findCheckoutOwner(ctx context.Context, session *stripe.CheckoutSessionObject) (*models.Subscription, string, error) {
	if userID := session.UserID(); userID != "" {
		sub, err := repository.GetByUserIDFromStore(ctx, s.repo, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, userID, nil
		}
		return sub, userID, err
	}

	if session.CustomerID() == "" {
		return nil, "", repository.ErrNotFound
	}
	sub, err := s.repo.GetByCustomerID(ctx, session.CustomerID())
	if err != nil {
		return nil, "", err
	}
	return sub, sub.UserID, nil
}

func (s *WebhookService) applySnapshot(sub *models.Subscription, snapshot *stripe.SubscriptionObject) {
	if price := snapshot.PriceID(); price != "" {
		sub.Plan = s.catalog.PlanForPrice(price)
	}
	if snapshot.Status != "" {
		sub.Status = snapshot.Status
	}
	if snapshot.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = snapshot.CurrentPeriodEnd
	}
	sub.CancelAt = snapshot.EffectiveCancelAt()
}

func (s *WebhookService) handleSubscriptionChanged(ctx context.Context, event stripego.Event, deleted bool, log *logger.Logger) (Outcome, error) {
	var obj stripe.SubscriptionObject
	if err := stripe.DecodeObject(event, &obj); err != nil {
		log.Warnw("Malformed subscription object", "error", err)
		return OutcomeSkipped, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if obj.ID == "" && obj.CustomerID() == "" {
		log.Warnw("Subscription object carries neither id nor customer")
		return OutcomeSkipped, fmt.Errorf("%w: subscription object without id", ErrMalformedEvent)
	}

	log = log.With("stripeSubscriptionID", obj.ID, "stripeCustomerID", obj.CustomerID())

	sub, byCustomer, err := s.findBySubscriptionOrCustomer(ctx, obj.ID, obj.CustomerID())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Warnw("No subscription record for event, skipping")
		return OutcomeSkipped, nil
	case err != nil:
		log.Errorw("Failed to look up subscription record", "error", err)
		return OutcomeFailed, nil
	}

	// Запись найдена по клиенту, но уже ссылается на другую подписку:
	// событие относится к замененной подписке и не должно ее перезаписать.
	if byCustomer && sub.StripeSubscriptionID != nil && obj.ID != "" && *sub.StripeSubscriptionID != obj.ID {
		log.Warnw("Event refers to a superseded subscription, skipping", "userID", sub.UserID, "currentSubscriptionID", *sub.StripeSubscriptionID)
		return OutcomeSkipped, nil
	}

	cancelAt := obj.EffectiveCancelAt()

	if deleted {
		if cancelAt == nil {
			log.Warnw("Cannot derive cancellation time for deleted subscription, leaving record untouched", "userID", sub.UserID)
			return OutcomeSkipped, nil
		}
		sub.Status = models.StatusCancelled
		sub.CancelAt = cancelAt
	} else {
		if obj.Status != "" {
			sub.Status = obj.Status
		}
		if price := obj.PriceID(); price != "" {
			sub.Plan = s.catalog.PlanForPrice(price)
		}
		sub.CancelAt = cancelAt
	}
	if obj.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = obj.CurrentPeriodEnd
	}
	if obj.ID != "" {
		sub.StripeSubscriptionID = models.StringPtr(obj.ID)
	}
	if !sub.HasCustomer() && obj.CustomerID() != "" {
		sub.StripeCustomerID = models.StringPtr(obj.CustomerID())
	}

	if err := s.repo.Update(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warnw("Subscription record disappeared before update, skipping", "userID", sub.UserID)
			return OutcomeSkipped, nil
		}
		log.Errorw("Failed to update subscription record", "error", err, "userID", sub.UserID)
		return OutcomeFailed, nil
	}

	log.Infow("Subscription change applied", "userID", sub.UserID, "plan", sub.Plan, "status", sub.Status)
	s.publish(ctx, event, sub)
	return OutcomeApplied, nil
}

func (s *WebhookService) findBySubscriptionOrCustomer(ctx context.Context, subscriptionID, customerID string) (*models.Subscription, bool, error) {
	if subscriptionID != "" {
		sub, err := s.repo.GetByStripeSubscriptionID(ctx, subscriptionID)
		if err == nil {
			return sub, false, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, err
		}
	}
	if customerID == "" {
		return nil, false, repository.ErrNotFound
	}
	sub, err := s.repo.GetByCustomerID(ctx, customerID)
	return sub, true, err
}

// handlePaymentSucceeded только логирует: состояние подписки меняют события customer.subscription.*.
func (s *WebhookService) handlePaymentSucceeded(event stripego.Event, log *logger.Logger) Outcome {
	var pi stripe.PaymentIntentObject
	if err := stripe.DecodeObject(event, &pi); err != nil {
		log.Warnw("Could not decode payment intent", "error", err)
		return OutcomeIgnored
	}
	log.Infow("Payment succeeded", "paymentIntentID", pi.ID, "amount", pi.Amount, "currency", pi.Currency, "stripeCustomerID", pi.CustomerID())
	return OutcomeIgnored
}

// publish отправляет SubscriptionChanged в фоне. Ошибки Kafka не влияют на ответ вебхуку.
func (s *WebhookService) publish(ctx context.Context, event stripego.Event, sub *models.Subscription) {
	if s.producer == nil {
		return
	}

	msg := &models.SubscriptionChangedEvent{
		EventID:          uuid.NewString(),
		StripeEventID:    event.ID,
		StripeEventType:  string(event.Type),
		UserID:           sub.UserID,
		StripeCustomerID: sub.CustomerID(),
		Plan:             string(sub.Plan),
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		CancelAt:         sub.CancelAt,
		OccurredAt:       time.Now().UTC(),
	}
	if sub.StripeSubscriptionID != nil {
		msg.StripeSubscriptionID = *sub.StripeSubscriptionID
	}

	s.publishWG.Add(1)
	go func() {
		defer s.publishWG.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		if err := s.producer.PublishSubscriptionEvent(pubCtx, msg); err != nil {
			s.log.Errorw("Failed to publish subscription event", "error", err, "userID", msg.UserID, "stripeEventID", msg.StripeEventID)
		}
	}()
}
