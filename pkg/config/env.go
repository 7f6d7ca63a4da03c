package config

const EnvPrefix = "COMMERCE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                  = "COMMERCE_APP_ENV"
	EnvPort                    = "COMMERCE_APP_PORT"
	EnvDBDSN                   = "COMMERCE_DB_DSN"
	EnvDBHost                  = "COMMERCE_DB_HOST"
	EnvDBUser                  = "COMMERCE_DB_USER"
	EnvDBName                  = "COMMERCE_DB_NAME"
	EnvRedisURL                = "COMMERCE_REDIS_URL"
	EnvCommissionRate          = "COMMERCE_COMMISSION_DEFAULT_RATE"
	EnvMinPayoutCents          = "COMMERCE_PAYOUT_MIN_AMOUNT_CENTS"
	EnvPayoutDayOfMonth        = "COMMERCE_PAYOUT_DAY_OF_MONTH"
	EnvLowStockThreshold       = "COMMERCE_LOW_STOCK_THRESHOLD"
	EnvBreakerFailureThreshold = "COMMERCE_BREAKER_FAILURE_THRESHOLD"
	EnvBreakerResetTimeout     = "COMMERCE_BREAKER_RESET_TIMEOUT"
	EnvStripeAPIKey            = "COMMERCE_STRIPE_API_KEY"
	EnvKafkaBrokers            = "COMMERCE_KAFKA_BROKERS"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
