package repository

import (
	"context"

	"github.com/Dhoini/humanizer-billing/internal/models"
)

// SubscriptionRepository определяет методы для работы с хранилищем подписок.
// Одна запись на пользователя, записи не удаляются.
type SubscriptionRepository interface {
	// GetByUserID возвращает запись пользователя или ErrNotFound.
	GetByUserID(ctx context.Context, userID string) (*models.Subscription, error)

	// GetByCustomerID ищет запись по ID клиента Stripe.
	GetByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error)

	// GetByStripeSubscriptionID ищет запись по ID подписки Stripe (нужно для вебхуков).
	GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)

	// Create сохраняет новую запись. Повтор user_id или stripe_customer_id дает ErrDuplicate.
	Create(ctx context.Context, sub *models.Subscription) error

	// SetCustomerID привязывает клиента Stripe к записи пользователя.
	SetCustomerID(ctx context.Context, userID, customerID string) error

	// UpsertByUserID вставляет запись или перезаписывает изменяемые поля существующей.
	UpsertByUserID(ctx context.Context, sub *models.Subscription) error

	// Update перезаписывает изменяемые поля записи с тем же user_id.
	Update(ctx context.Context, sub *models.Subscription) error
}

// StoreReader реализуют декораторы с кешем: чтение идет прямо в основное хранилище.
type StoreReader interface {
	GetByUserIDFromStore(ctx context.Context, userID string) (*models.Subscription, error)
}

// GetByUserIDFromStore читает запись мимо кеша, если repo его поддерживает.
// Нужен там, где прочитанная запись целиком пишется обратно (вебхуки).
func GetByUserIDFromStore(ctx context.Context, repo SubscriptionRepository, userID string) (*models.Subscription, error) {
	if sr, ok := repo.(StoreReader); ok {
		return sr.GetByUserIDFromStore(ctx, userID)
	}
	return repo.GetByUserID(ctx, userID)
}

// Pinger реализуют хранилища, умеющие проверять соединение.
type Pinger interface {
	PingContext(ctx context.Context) error
}
