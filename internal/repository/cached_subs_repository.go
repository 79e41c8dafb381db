package repository

import (
	"context"

	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
)

// CachedSubscriptionRepository кеширует чтение по user_id и сбрасывает кеш при записи.
// Ошибки кеша только логируются.
type CachedSubscriptionRepository struct {
	repo  SubscriptionRepository
	cache SubscriptionCache
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает новый репозиторий с кешированием
func NewCachedSubscriptionRepository(repo SubscriptionRepository, cache SubscriptionCache, log *logger.Logger) *CachedSubscriptionRepository {
	return &CachedSubscriptionRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// PingContext проксирует проверку соединения к основному хранилищу.
func (r *CachedSubscriptionRepository) PingContext(ctx context.Context) error {
	if p, ok := r.repo.(Pinger); ok {
		return p.PingContext(ctx)
	}
	return nil
}

// GetByUserID сначала смотрит в кеш, потом в БД
func (r *CachedSubscriptionRepository) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	cached, err := r.cache.Get(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting subscription from cache", "error", err, "userID", userID)
	}
	if cached != nil {
		r.log.Debugw("Subscription found in cache", "userID", userID)
		return cached, nil
	}

	sub, err := r.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache subscription after fetching", "error", err, "userID", userID)
	}
	return sub, nil
}

// GetByUserIDFromStore читает запись из основного хранилища и не трогает кеш.
func (r *CachedSubscriptionRepository) GetByUserIDFromStore(ctx context.Context, userID string) (*models.Subscription, error) {
	return r.repo.GetByUserID(ctx, userID)
}

// Поиск по ID Stripe идет мимо кеша: вебхукам нужна свежая запись.
func (r *CachedSubscriptionRepository) GetByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	return r.repo.GetByCustomerID(ctx, customerID)
}

func (r *CachedSubscriptionRepository) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	return r.repo.GetByStripeSubscriptionID(ctx, stripeSubscriptionID)
}

func (r *CachedSubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if err := r.repo.Create(ctx, sub); err != nil {
		return err
	}
	r.invalidate(ctx, sub.UserID)
	return nil
}

func (r *CachedSubscriptionRepository) SetCustomerID(ctx context.Context, userID, customerID string) error {
	if err := r.repo.SetCustomerID(ctx, userID, customerID); err != nil {
		return err
	}
	r.invalidate(ctx, userID)
	return nil
}

func (r *CachedSubscriptionRepository) UpsertByUserID(ctx context.Context, sub *models.Subscription) error {
	if err := r.repo.UpsertByUserID(ctx, sub); err != nil {
		return err
	}
	r.invalidate(ctx, sub.UserID)
	return nil
}

func (r *CachedSubscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	if err := r.repo.Update(ctx, sub); err != nil {
		return err
	}
	r.invalidate(ctx, sub.UserID)
	return nil
}

func (r *CachedSubscriptionRepository) invalidate(ctx context.Context, userID string) {
	if err := r.cache.Delete(ctx, userID); err != nil {
		r.log.Warnw("Failed to invalidate subscription cache", "error", err, "userID", userID)
	}
}
