package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/Dhoini/humanizer-billing/internal/plans"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port            string        `mapstructure:"port" validate:"required"`
		Env             string        `mapstructure:"env"`
		LogLevel        string        `mapstructure:"logLevel"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	} `mapstructure:"app"`
	HTTP struct {
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
		IdleTimeout     time.Duration `mapstructure:"idleTimeout"`
		WebhookMaxBytes int64         `mapstructure:"webhookMaxBytes" validate:"gt=0"`
		AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	} `mapstructure:"http"`
	Database struct {
		Driver          string        `mapstructure:"driver" validate:"oneof=postgres memory"`
		DSN             string        `mapstructure:"dsn" validate:"required_if=Driver postgres"`
		MaxOpenConns    int           `mapstructure:"maxOpenConns"`
		MaxIdleConns    int           `mapstructure:"maxIdleConns"`
		ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
		Migrate         bool          `mapstructure:"migrate"`
	} `mapstructure:"database"`
	Redis struct {
		Enabled  bool          `mapstructure:"enabled"`
		Addr     string        `mapstructure:"addr" validate:"required_if=Enabled true"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
	Kafka struct {
		Enabled           bool     `mapstructure:"enabled"`
		Brokers           []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
		Topic             string   `mapstructure:"topic"`
		Partitions        int      `mapstructure:"partitions"`
		ReplicationFactor int      `mapstructure:"replicationFactor"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey           string        `mapstructure:"apiKey" validate:"required"`
		WebhookSecret    string        `mapstructure:"webhookSecret" validate:"required"`
		WebhookTolerance time.Duration `mapstructure:"webhookTolerance"`
		Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
		SuccessURL       string        `mapstructure:"successUrl" validate:"required,url"`
		CancelURL        string        `mapstructure:"cancelUrl" validate:"required,url"`
		PortalReturnURL  string        `mapstructure:"portalReturnUrl" validate:"required,url"`
		MaxRetries       int           `mapstructure:"maxRetries" validate:"gte=1"`
		Breaker          struct {
			MaxFailures uint32        `mapstructure:"maxFailures"`
			OpenTimeout time.Duration `mapstructure:"openTimeout"`
		} `mapstructure:"breaker"`
		Prices struct {
			Premium     string `mapstructure:"premium"`
			PremiumPlus string `mapstructure:"premiumPlus"`
			Pro         string `mapstructure:"pro"`
		} `mapstructure:"prices"`
	} `mapstructure:"stripe"`
	GRPC struct {
		Enabled bool   `mapstructure:"enabled"`
		Port    string `mapstructure:"port"`
	} `mapstructure:"grpc"`
	Auth struct {
		JWTSecret  string `mapstructure:"jwtSecret" validate:"required"`
		CookieName string `mapstructure:"cookieName"`
	} `mapstructure:"auth"`
	Plans []plans.Plan `mapstructure:"plans" validate:"required,min=1"`
}

// LoadConfig загружает конфигурацию: .env (кроме production), затем config.yml
// из каталога path (если есть), затем переменные окружения вида STRIPE_APIKEY.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// .env читается до viper, поэтому окружение смотрим напрямую.
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(path + "/.env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	config.applyPriceOverrides()

	return &config, nil
}

// Validate проверяет обязательные ключи и таблицу планов. Вызывается до старта сервисов.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := plans.NewCatalog(c.Plans); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IsProduction сообщает, запущен ли сервис в production-окружении.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// applyPriceOverrides подставляет price ID из stripe.prices.* поверх таблицы планов.
// Так price ID можно задать переменными окружения, не переписывая весь список.
func (c *Config) applyPriceOverrides() {
	overrides := map[plans.Name]string{
		plans.Premium:     c.Stripe.Prices.Premium,
		plans.PremiumPlus: c.Stripe.Prices.PremiumPlus,
		plans.Pro:         c.Stripe.Prices.Pro,
	}
	for i := range c.Plans {
		if id := overrides[plans.Name(strings.ToLower(string(c.Plans[i].Name)))]; id != "" {
			c.Plans[i].PriceID = id
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("app.shutdownTimeout", 10*time.Second)

	v.SetDefault("http.readTimeout", 10*time.Second)
	v.SetDefault("http.writeTimeout", 15*time.Second)
	v.SetDefault("http.idleTimeout", 60*time.Second)
	v.SetDefault("http.webhookMaxBytes", 65536)
	v.SetDefault("http.allowedOrigins", []string{"http://localhost:5173"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxOpenConns", 10)
	v.SetDefault("database.maxIdleConns", 2)
	v.SetDefault("database.connMaxLifetime", time.Hour)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 15*time.Minute)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "subscription_changed")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replicationFactor", 1)

	v.SetDefault("stripe.apiKey", "")
	v.SetDefault("stripe.webhookSecret", "")
	v.SetDefault("stripe.webhookTolerance", 5*time.Minute)
	v.SetDefault("stripe.timeout", 10*time.Second)
	v.SetDefault("stripe.successUrl", "http://localhost:5173/billing/success")
	v.SetDefault("stripe.cancelUrl", "http://localhost:5173/pricing")
	v.SetDefault("stripe.portalReturnUrl", "http://localhost:5173/account")
	v.SetDefault("stripe.maxRetries", 3)
	v.SetDefault("stripe.breaker.maxFailures", 5)
	v.SetDefault("stripe.breaker.openTimeout", 30*time.Second)
	v.SetDefault("stripe.prices.premium", "")
	v.SetDefault("stripe.prices.premiumPlus", "")
	v.SetDefault("stripe.prices.pro", "")

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", "9090")

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.cookieName", "sb-access-token")

	v.SetDefault("plans", []map[string]any{
		{"name": "free", "price": 0, "price_id": "", "monthly_words": 1000, "max_words_per_request": 250},
		{"name": "premium", "price": 9.99, "price_id": "", "monthly_words": 15000, "max_words_per_request": 500},
		{"name": "premium+", "price": 19.99, "price_id": "", "monthly_words": 30000, "max_words_per_request": 1000},
		{"name": "pro", "price": 29.99, "price_id": "", "monthly_words": 60000, "max_words_per_request": 1500},
	})
}
