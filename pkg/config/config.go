package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Commerce     CommerceConfig
	Breaker      BreakerConfig
	SSLCommerz   SSLCommerzConfig
	Stripe       StripeConfig
	PayPal       PayPalConfig
	Bkash        BkashConfig
	Square       SquareConfig
	Courier      CourierConfig
	Tasks        TasksConfig
	Cron         CronConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	Kafka        KafkaConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Commerce.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Breaker.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env           string `envconfig:"COMMERCE_APP_ENV" required:"true"`
	Port          string `envconfig:"COMMERCE_APP_PORT" default:"8080"`
	LogLevel      string `envconfig:"COMMERCE_LOG_LEVEL" default:"info"`
	LogWarnStack  bool   `envconfig:"COMMERCE_LOG_WARN_STACK" default:"false"`
	InternalToken string `envconfig:"COMMERCE_INTERNAL_TOKEN"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"COMMERCE_DB_DSN"`

	Host     string `envconfig:"COMMERCE_DB_HOST"`
	Port     int    `envconfig:"COMMERCE_DB_PORT" default:"5432"`
	User     string `envconfig:"COMMERCE_DB_USER"`
	Password string `envconfig:"COMMERCE_DB_PASSWORD"`
	Name     string `envconfig:"COMMERCE_DB_NAME"`
	SSLMode  string `envconfig:"COMMERCE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COMMERCE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COMMERCE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COMMERCE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COMMERCE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COMMERCE_REDIS_URL" required:"true"`
	Password     string        `envconfig:"COMMERCE_REDIS_PASSWORD"`
	DB           int           `envconfig:"COMMERCE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COMMERCE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COMMERCE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COMMERCE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COMMERCE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COMMERCE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// CommerceConfig holds the marketplace settings consumed by the financial code paths.
type CommerceConfig struct {
	DefaultCommissionRate string        `envconfig:"COMMERCE_COMMISSION_DEFAULT_RATE" default:"0.10"`
	MinPayoutCents        int64         `envconfig:"COMMERCE_PAYOUT_MIN_AMOUNT_CENTS" default:"50000"`
	PayoutDayOfMonth      int           `envconfig:"COMMERCE_PAYOUT_DAY_OF_MONTH" default:"1"`
	LowStockThreshold     int           `envconfig:"COMMERCE_LOW_STOCK_THRESHOLD" default:"5"`
	ReservationTTL        time.Duration `envconfig:"COMMERCE_RESERVATION_TTL" default:"30m"`
	Currency              string        `envconfig:"COMMERCE_CURRENCY" default:"BDT"`
	WebhookDedupeTTL      time.Duration `envconfig:"COMMERCE_WEBHOOK_DEDUPE_TTL" default:"720h"`
}

// CommissionRate returns the parsed default commission rate.
func (c CommerceConfig) CommissionRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DefaultCommissionRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (c CommerceConfig) validate() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DefaultCommissionRate))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvCommissionRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be in [0, 1), got %s", EnvCommissionRate, rate)
	}
	if c.MinPayoutCents <= 0 {
		return fmt.Errorf("%s must be positive", EnvMinPayoutCents)
	}
	if c.PayoutDayOfMonth < 1 || c.PayoutDayOfMonth > 28 {
		return fmt.Errorf("%s must be between 1 and 28", EnvPayoutDayOfMonth)
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("%s must not be negative", EnvLowStockThreshold)
	}
	return nil
}

type BreakerConfig struct {
	FailureThreshold int           `envconfig:"COMMERCE_BREAKER_FAILURE_THRESHOLD" default:"5"`
	ResetTimeout     time.Duration `envconfig:"COMMERCE_BREAKER_RESET_TIMEOUT" default:"30s"`
	CallTimeout      time.Duration `envconfig:"COMMERCE_BREAKER_CALL_TIMEOUT" default:"10s"`
}

func (b BreakerConfig) validate() error {
	if b.FailureThreshold <= 0 {
		return fmt.Errorf("%s must be positive", EnvBreakerFailureThreshold)
	}
	if b.ResetTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvBreakerResetTimeout)
	}
	return nil
}

type SSLCommerzConfig struct {
	StoreID       string `envconfig:"COMMERCE_SSLCOMMERZ_STORE_ID"`
	StorePassword string `envconfig:"COMMERCE_SSLCOMMERZ_STORE_PASSWORD"`
	Sandbox       bool   `envconfig:"COMMERCE_SSLCOMMERZ_SANDBOX" default:"true"`
	SuccessURL    string `envconfig:"COMMERCE_SSLCOMMERZ_SUCCESS_URL"`
	FailURL       string `envconfig:"COMMERCE_SSLCOMMERZ_FAIL_URL"`
	CancelURL     string `envconfig:"COMMERCE_SSLCOMMERZ_CANCEL_URL"`
	IPNURL        string `envconfig:"COMMERCE_SSLCOMMERZ_IPN_URL"`
}

func (s SSLCommerzConfig) Enabled() bool {
	return strings.TrimSpace(s.StoreID) != "" && strings.TrimSpace(s.StorePassword) != ""
}

type StripeConfig struct {
	APIKey        string `envconfig:"COMMERCE_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"COMMERCE_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"COMMERCE_STRIPE_ENV" default:"test"`
}

func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	ClientID     string `envconfig:"COMMERCE_PAYPAL_CLIENT_ID"`
	ClientSecret string `envconfig:"COMMERCE_PAYPAL_CLIENT_SECRET"`
	WebhookID    string `envconfig:"COMMERCE_PAYPAL_WEBHOOK_ID"`
	Sandbox      bool   `envconfig:"COMMERCE_PAYPAL_SANDBOX" default:"true"`
	ReturnURL    string `envconfig:"COMMERCE_PAYPAL_RETURN_URL"`
	CancelURL    string `envconfig:"COMMERCE_PAYPAL_CANCEL_URL"`
}

func (p PayPalConfig) Enabled() bool {
	return strings.TrimSpace(p.ClientID) != "" && strings.TrimSpace(p.ClientSecret) != ""
}

type BkashConfig struct {
	AppKey        string `envconfig:"COMMERCE_BKASH_APP_KEY"`
	AppSecret     string `envconfig:"COMMERCE_BKASH_APP_SECRET"`
	Username      string `envconfig:"COMMERCE_BKASH_USERNAME"`
	Password      string `envconfig:"COMMERCE_BKASH_PASSWORD"`
	WebhookSecret string `envconfig:"COMMERCE_BKASH_WEBHOOK_SECRET"`
	Sandbox       bool   `envconfig:"COMMERCE_BKASH_SANDBOX" default:"true"`
	CallbackURL   string `envconfig:"COMMERCE_BKASH_CALLBACK_URL"`
}

func (b BkashConfig) Enabled() bool {
	return strings.TrimSpace(b.AppKey) != "" && strings.TrimSpace(b.AppSecret) != ""
}

type SquareConfig struct {
	AccessToken     string `envconfig:"COMMERCE_SQUARE_ACCESS_TOKEN"`
	WebhookSecret   string `envconfig:"COMMERCE_SQUARE_WEBHOOK_SIGNATURE_KEY"`
	NotificationURL string `envconfig:"COMMERCE_SQUARE_NOTIFICATION_URL"`
	LocationID      string `envconfig:"COMMERCE_SQUARE_LOCATION_ID"`
	Env             string `envconfig:"COMMERCE_SQUARE_ENV" default:"sandbox"`
}

func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type CourierConfig struct {
	Name          string `envconfig:"COMMERCE_COURIER_NAME" default:"steadfast"`
	BaseURL       string `envconfig:"COMMERCE_COURIER_BASE_URL"`
	APIKey        string `envconfig:"COMMERCE_COURIER_API_KEY"`
	SecretKey     string `envconfig:"COMMERCE_COURIER_SECRET_KEY"`
	WebhookSecret string `envconfig:"COMMERCE_COURIER_WEBHOOK_SECRET"`
}

type TasksConfig struct {
	PollInterval      time.Duration `envconfig:"COMMERCE_TASKS_POLL_INTERVAL" default:"1s"`
	BatchSize         int           `envconfig:"COMMERCE_TASKS_BATCH_SIZE" default:"20"`
	Concurrency       int           `envconfig:"COMMERCE_TASKS_CONCURRENCY" default:"4"`
	MaxAttempts       int           `envconfig:"COMMERCE_TASKS_MAX_ATTEMPTS" default:"8"`
	VisibilityTimeout time.Duration `envconfig:"COMMERCE_TASKS_VISIBILITY_TIMEOUT" default:"10m"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"COMMERCE_CRON_INTERVAL" default:"1m"`
	LockKey             string        `envconfig:"COMMERCE_CRON_LOCK_KEY" default:"commerce:cron:lock"`
	LockTTL             time.Duration `envconfig:"COMMERCE_CRON_LOCK_TTL" default:"10m"`
	SweepBatchSize      int           `envconfig:"COMMERCE_CRON_SWEEP_BATCH_SIZE" default:"200"`
	OutboxRetentionDays int           `envconfig:"COMMERCE_OUTBOX_RETENTION_DAYS" default:"30"`
}

type OutboxConfig struct {
	Sink           string `envconfig:"COMMERCE_OUTBOX_SINK" default:"pubsub"`
	Topic          string `envconfig:"COMMERCE_OUTBOX_TOPIC" default:"commerce-domain-events"`
	BatchSize      int    `envconfig:"COMMERCE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"COMMERCE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"COMMERCE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"COMMERCE_GCP_PROJECT_ID"`
}

type KafkaConfig struct {
	Brokers  []string `envconfig:"COMMERCE_KAFKA_BROKERS"`
	ClientID string   `envconfig:"COMMERCE_KAFKA_CLIENT_ID" default:"commerce-engine"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"COMMERCE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
