package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/Dhoini/humanizer-billing/internal/repository"
	"github.com/Dhoini/humanizer-billing/internal/stripe"
	"github.com/Dhoini/humanizer-billing/pkg/logger"

	stripego "github.com/stripe/stripe-go/v78"
	"github.com/stretchr/testify/require"
)

var errDBDown = errors.New("connection refused")

func testCatalog(t *testing.T) *plans.Catalog {
	t.Helper()
	c, err := plans.NewCatalog([]plans.Plan{
		{Name: plans.Free, MonthlyWords: 500, MaxWordsPerRequest: 100},
		{Name: plans.Premium, Price: 9.99, PriceID: "price_premium", MonthlyWords: 15000, MaxWordsPerRequest: 500},
		{Name: plans.PremiumPlus, Price: 19.99, PriceID: "price_premium_plus", MonthlyWords: 30000, MaxWordsPerRequest: 1000},
		{Name: plans.Pro, Price: 29.99, PriceID: "price_pro", MonthlyWords: 60000, MaxWordsPerRequest: 1500},
	})
	require.NoError(t, err)
	return c
}

func newEvent(t *testing.T, id, eventType string, object any) stripego.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripego.Event{
		ID:   id,
		Type: stripego.EventType(eventType),
		Data: &stripego.EventData{Raw: raw},
	}
}

// flakyRepo оборачивает репозиторий в памяти и отдает ошибку хранилища по флагам.
type flakyRepo struct {
	*repository.InMemorySubscriptionRepository
	failReads  bool
	failWrites bool
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{InMemorySubscriptionRepository: repository.NewInMemorySubscriptionRepository(logger.NewNop())}
}

func (r *flakyRepo) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	if r.failReads {
		return nil, errDBDown
	}
	return r.InMemorySubscriptionRepository.GetByUserID(ctx, userID)
}

func (r *flakyRepo) GetByStripeSubscriptionID(ctx context.Context, id string) (*models.Subscription, error) {
	if r.failReads {
		return nil, errDBDown
	}
	return r.InMemorySubscriptionRepository.GetByStripeSubscriptionID(ctx, id)
}

func (r *flakyRepo) UpsertByUserID(ctx context.Context, sub *models.Subscription) error {
	if r.failWrites {
		return errDBDown
	}
	return r.InMemorySubscriptionRepository.UpsertByUserID(ctx, sub)
}

func (r *flakyRepo) Update(ctx context.Context, sub *models.Subscription) error {
	if r.failWrites {
		return errDBDown
	}
	return r.InMemorySubscriptionRepository.Update(ctx, sub)
}

func (r *flakyRepo) SetCustomerID(ctx context.Context, userID, customerID string) error {
	if r.failWrites {
		return errDBDown
	}
	return r.InMemorySubscriptionRepository.SetCustomerID(ctx, userID, customerID)
}

// fakeStripe программируемый stripe.Client.
type fakeStripe struct {
	mu sync.Mutex

	customerID   string
	customerErrs []error
	checkoutErrs []error
	portalErr    error
	snapshot     *stripe.SubscriptionObject
	snapshotErr  error

	customerCalls int
	checkoutCalls int
	portalCalls   int
	lastCheckout  stripe.CheckoutSessionInput
}

func (f *fakeStripe) CreateCustomer(_ context.Context, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerCalls++
	if len(f.customerErrs) > 0 {
		err := f.customerErrs[0]
		f.customerErrs = f.customerErrs[1:]
		return "", err
	}
	return f.customerID, nil
}

func (f *fakeStripe) CreateCheckoutSession(_ context.Context, in stripe.CheckoutSessionInput) (*stripe.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutCalls++
	f.lastCheckout = in
	if len(f.checkoutErrs) > 0 {
		err := f.checkoutErrs[0]
		f.checkoutErrs = f.checkoutErrs[1:]
		return nil, err
	}
	return &stripe.Session{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (f *fakeStripe) CreatePortalSession(_ context.Context, _ string) (*stripe.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portalCalls++
	if f.portalErr != nil {
		return nil, f.portalErr
	}
	return &stripe.Session{ID: "bps_1", URL: "https://billing.stripe.test/p/bps_1"}, nil
}

func (f *fakeStripe) GetSubscription(_ context.Context, _ string) (*stripe.SubscriptionObject, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.snapshot, nil
}

type fakeProducer struct {
	mu     sync.Mutex
	events []*models.SubscriptionChangedEvent
	err    error
}

func (p *fakeProducer) PublishSubscriptionEvent(_ context.Context, e *models.SubscriptionChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *fakeProducer) Close() error { return nil }

func (p *fakeProducer) published() []*models.SubscriptionChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.SubscriptionChangedEvent(nil), p.events...)
}

// staleCache всегда отдает одну и ту же запись, как кеш, не успевший сброситься.
type staleCache struct {
	entry *models.Subscription
}

func (c *staleCache) Get(context.Context, string) (*models.Subscription, error) {
	return c.entry.Clone(), nil
}

func (c *staleCache) Set(context.Context, *models.Subscription) error { return nil }

func (c *staleCache) Delete(context.Context, string) error { return nil }
