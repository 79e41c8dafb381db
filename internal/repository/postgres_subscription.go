package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const pgUniqueViolation = "23505"

const subscriptionColumns = `user_id, stripe_customer_id, stripe_subscription_id, plan, status,
        current_period_end, cancel_at, created_at, updated_at`

// postgresSubscriptionRepo реализует SubscriptionRepository для PostgreSQL.
type postgresSubscriptionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый экземпляр репозитория для PostgreSQL.
func NewPostgresSubscriptionRepository(db *sqlx.DB, log *logger.Logger) SubscriptionRepository {
	return &postgresSubscriptionRepo{
		db:  db,
		log: log,
	}
}

func (r *postgresSubscriptionRepo) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *postgresSubscriptionRepo) GetByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	return r.getOne(ctx, "user_id", userID)
}

func (r *postgresSubscriptionRepo) GetByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	return r.getOne(ctx, "stripe_customer_id", customerID)
}

func (r *postgresSubscriptionRepo) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	return r.getOne(ctx, "stripe_subscription_id", stripeSubscriptionID)
}

// getOne выбирает запись по одному из индексированных столбцов.
// column всегда константа из этого файла, пользовательский ввод идет только в $1.
func (r *postgresSubscriptionRepo) getOne(ctx context.Context, column, value string) (*models.Subscription, error) {
	var sub models.Subscription
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE %s = $1 LIMIT 1`, subscriptionColumns, column)

	if err := r.db.GetContext(ctx, &sub, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Debugw("Subscription not found", "by", column, "value", value)
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription from DB", "error", err, "by", column, "value", value)
		return nil, fmt.Errorf("repository: failed to get subscription by %s: %w", column, err)
	}
	return &sub, nil
}

// Create сохраняет новую подписку в базе данных.
func (r *postgresSubscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	query := `
        INSERT INTO subscriptions (` + subscriptionColumns + `)
        VALUES (
            :user_id, :stripe_customer_id, :stripe_subscription_id, :plan, :status,
            :current_period_end, :cancel_at, :created_at, :updated_at
        )`

	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		if isUniqueViolation(err) {
			r.log.Warnw("Subscription already exists", "userID", sub.UserID)
			return fmt.Errorf("%w: subscription for user %s", ErrDuplicate, sub.UserID)
		}
		r.log.Errorw("Failed to create subscription in DB", "error", err, "userID", sub.UserID)
		return fmt.Errorf("repository: failed to create subscription: %w", err)
	}

	r.log.Debugw("Successfully created subscription in DB", "userID", sub.UserID, "plan", sub.Plan)
	return nil
}

// SetCustomerID записывает ID клиента Stripe.
func (r *postgresSubscriptionRepo) SetCustomerID(ctx context.Context, userID, customerID string) error {
	query := `UPDATE subscriptions SET stripe_customer_id = $1, updated_at = $2 WHERE user_id = $3`

	result, err := r.db.ExecContext(ctx, query, customerID, time.Now().UTC(), userID)
	if err != nil {
		if isUniqueViolation(err) {
			r.log.Warnw("Stripe customer already linked to another user", "userID", userID, "customerID", customerID)
			return fmt.Errorf("%w: customer %s", ErrDuplicate, customerID)
		}
		r.log.Errorw("Failed to set customer ID", "error", err, "userID", userID, "customerID", customerID)
		return fmt.Errorf("repository: failed to set customer id: %w", err)
	}
	return r.expectAffected(result, "userID", userID)
}

// UpsertByUserID используется при завершении checkout: запись создается,
// если ее еще нет, иначе перезаписываются все изменяемые поля.
func (r *postgresSubscriptionRepo) UpsertByUserID(ctx context.Context, sub *models.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	query := `
        INSERT INTO subscriptions (` + subscriptionColumns + `)
        VALUES (
            :user_id, :stripe_customer_id, :stripe_subscription_id, :plan, :status,
            :current_period_end, :cancel_at, :created_at, :updated_at
        )
        ON CONFLICT (user_id) DO UPDATE SET
            stripe_customer_id = EXCLUDED.stripe_customer_id,
            stripe_subscription_id = EXCLUDED.stripe_subscription_id,
            plan = EXCLUDED.plan,
            status = EXCLUDED.status,
            current_period_end = EXCLUDED.current_period_end,
            cancel_at = EXCLUDED.cancel_at,
            updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		if isUniqueViolation(err) {
			r.log.Warnw("Upsert violates unique customer constraint", "userID", sub.UserID, "customerID", sub.CustomerID())
			return fmt.Errorf("%w: customer %s", ErrDuplicate, sub.CustomerID())
		}
		r.log.Errorw("Failed to upsert subscription", "error", err, "userID", sub.UserID)
		return fmt.Errorf("repository: failed to upsert subscription: %w", err)
	}

	r.log.Debugw("Subscription upserted", "userID", sub.UserID, "plan", sub.Plan, "status", sub.Status)
	return nil
}

// Update обновляет изменяемые поля. user_id и created_at не меняются.
func (r *postgresSubscriptionRepo) Update(ctx context.Context, sub *models.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	query := `
        UPDATE subscriptions SET
            stripe_customer_id = :stripe_customer_id,
            stripe_subscription_id = :stripe_subscription_id,
            plan = :plan,
            status = :status,
            current_period_end = :current_period_end,
            cancel_at = :cancel_at,
            updated_at = :updated_at
        WHERE user_id = :user_id`

	result, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: customer %s", ErrDuplicate, sub.CustomerID())
		}
		r.log.Errorw("Failed to update subscription in DB", "error", err, "userID", sub.UserID)
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}
	return r.expectAffected(result, "userID", sub.UserID)
}

func (r *postgresSubscriptionRepo) expectAffected(result sql.Result, keysAndValues ...any) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.log.Errorw("Failed to get rows affected", append([]any{"error", err}, keysAndValues...)...)
		return fmt.Errorf("repository: rows affected: %w", err)
	}
	if rowsAffected == 0 {
		r.log.Warnw("Subscription update affected 0 rows", keysAndValues...)
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
