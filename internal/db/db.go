package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/humanizer-billing/pkg/logger"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// schema создает таблицу подписок, если ее еще нет.
// Уникальные индексы держат инварианты: одна запись на пользователя,
// один клиент Stripe на пользователя.
const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
    user_id                TEXT PRIMARY KEY,
    stripe_customer_id     TEXT UNIQUE,
    stripe_subscription_id TEXT,
    plan                   TEXT NOT NULL DEFAULT 'free',
    status                 TEXT NOT NULL DEFAULT 'active',
    current_period_end     TIMESTAMPTZ,
    cancel_at              TIMESTAMPTZ,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS subscriptions_stripe_subscription_id_idx
    ON subscriptions (stripe_subscription_id);
`

// Options параметры пула соединений.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DBClient представляет клиент для работы с базой данных.
type DBClient struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewDBClient подключается к Postgres через pgx stdlib и проверяет соединение.
func NewDBClient(ctx context.Context, dsn string, opts Options, log *logger.Logger) (*DBClient, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		log.Errorw("Failed to connect to database", "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	log.Infow("Connected to PostgreSQL", "maxOpenConns", opts.MaxOpenConns)
	return &DBClient{db: db, log: log}, nil
}

// DB возвращает пул sqlx для репозиториев.
func (dc *DBClient) DB() *sqlx.DB {
	return dc.db
}

// Migrate применяет схему. Все операторы идемпотентны.
func (dc *DBClient) Migrate(ctx context.Context) error {
	if _, err := dc.db.ExecContext(ctx, schema); err != nil {
		dc.log.Errorw("Failed to apply database schema", "error", err)
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	dc.log.Infow("Database schema is up to date")
	return nil
}

// PingContext проверяет соединение с базой данных.
func (dc *DBClient) PingContext(ctx context.Context) error {
	return dc.db.PingContext(ctx)
}

// Close закрывает соединение с базой данных.
func (dc *DBClient) Close() error {
	if err := dc.db.Close(); err != nil {
		dc.log.Errorw("Failed to close database connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
