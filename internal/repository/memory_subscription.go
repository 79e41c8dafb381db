package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
)

// InMemorySubscriptionRepository реализация репозитория подписок в памяти.
// Используется в dev-режиме (database.driver=memory) и в тестах.
type InMemorySubscriptionRepository struct {
	subscriptions map[string]*models.Subscription
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions: make(map[string]*models.Subscription),
		log:           log,
	}
}

func (r *InMemorySubscriptionRepository) PingContext(context.Context) error { return nil }

func (r *InMemorySubscriptionRepository) GetByUserID(_ context.Context, userID string) (*models.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sub, ok := r.subscriptions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (r *InMemorySubscriptionRepository) GetByCustomerID(_ context.Context, customerID string) (*models.Subscription, error) {
	return r.find(func(s *models.Subscription) bool { return s.CustomerID() == customerID && customerID != "" })
}

func (r *InMemorySubscriptionRepository) GetByStripeSubscriptionID(_ context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	return r.find(func(s *models.Subscription) bool {
		return s.StripeSubscriptionID != nil && *s.StripeSubscriptionID == stripeSubscriptionID
	})
}

func (r *InMemorySubscriptionRepository) find(match func(*models.Subscription) bool) (*models.Subscription, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, sub := range r.subscriptions {
		if match(sub) {
			return sub.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Create сохраняет новую запись
func (r *InMemorySubscriptionRepository) Create(_ context.Context, sub *models.Subscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.subscriptions[sub.UserID]; exists {
		return fmt.Errorf("%w: subscription for user %s", ErrDuplicate, sub.UserID)
	}
	if err := r.checkCustomerUnique(sub.UserID, sub.CustomerID()); err != nil {
		return err
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	r.subscriptions[sub.UserID] = sub.Clone()

	r.log.Debugw("Subscription created in memory", "userID", sub.UserID)
	return nil
}

func (r *InMemorySubscriptionRepository) SetCustomerID(_ context.Context, userID, customerID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sub, ok := r.subscriptions[userID]
	if !ok {
		return ErrNotFound
	}
	if err := r.checkCustomerUnique(userID, customerID); err != nil {
		return err
	}
	sub.StripeCustomerID = models.StringPtr(customerID)
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemorySubscriptionRepository) UpsertByUserID(_ context.Context, sub *models.Subscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.checkCustomerUnique(sub.UserID, sub.CustomerID()); err != nil {
		return err
	}

	now := time.Now().UTC()
	if existing, ok := r.subscriptions[sub.UserID]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	r.subscriptions[sub.UserID] = sub.Clone()
	return nil
}

func (r *InMemorySubscriptionRepository) Update(_ context.Context, sub *models.Subscription) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	existing, ok := r.subscriptions[sub.UserID]
	if !ok {
		return ErrNotFound
	}
	if err := r.checkCustomerUnique(sub.UserID, sub.CustomerID()); err != nil {
		return err
	}

	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()
	r.subscriptions[sub.UserID] = sub.Clone()
	return nil
}

// checkCustomerUnique вызывается под блокировкой записи.
func (r *InMemorySubscriptionRepository) checkCustomerUnique(userID, customerID string) error {
	if customerID == "" {
		return nil
	}
	for id, other := range r.subscriptions {
		if id != userID && other.CustomerID() == customerID {
			return fmt.Errorf("%w: customer %s", ErrDuplicate, customerID)
		}
	}
	return nil
}
