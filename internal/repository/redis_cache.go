package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/models"
	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префикс ключа записи пользователя
	userSubscriptionKeyPrefix = "billing:subscription:user:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// SubscriptionCache хранилище для кеша записей по user_id.
// Промах кеша возвращает (nil, nil).
type SubscriptionCache interface {
	Get(ctx context.Context, userID string) (*models.Subscription, error)
	Set(ctx context.Context, sub *models.Subscription) error
	Delete(ctx context.Context, userID string) error
}

var (
	_ SubscriptionCache = (*RedisCacheRepository)(nil)
	_ Pinger            = (*RedisCacheRepository)(nil)
)

// RedisCacheRepository реализует SubscriptionCache на Redis
type RedisCacheRepository struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCacheRepository создает клиента Redis и проверяет соединение
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, ttl time.Duration, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err, "addr", redisAddr)
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return NewRedisCacheFromClient(client, ttl, log), nil
}

// NewRedisCacheFromClient оборачивает уже созданный клиент.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCacheRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCacheRepository{client: client, ttl: ttl, log: log}
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// PingContext проверяет соединение. Health-обработчик показывает
// недоступный Redis как деградацию, не как отказ.
func (r *RedisCacheRepository) PingContext(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCacheRepository) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	data, err := r.client.Get(ctx, userSubscriptionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription from cache: %w", err)
	}

	var sub models.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached subscription: %w", err)
	}
	return &sub, nil
}

func (r *RedisCacheRepository) Set(ctx context.Context, sub *models.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}
	if err := r.client.Set(ctx, userSubscriptionKey(sub.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache subscription: %w", err)
	}
	return nil
}

func (r *RedisCacheRepository) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, userSubscriptionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete subscription from cache: %w", err)
	}
	return nil
}

func userSubscriptionKey(userID string) string {
	return userSubscriptionKeyPrefix + userID
}
