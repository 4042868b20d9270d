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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Payments     PaymentsConfig
	Commission   CommissionConfig
	Orders       OrdersConfig
	Withdrawals  WithdrawalsConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Commission.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Payments.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SETTLEMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"SETTLEMENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SETTLEMENT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SETTLEMENT_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"SETTLEMENT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SETTLEMENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SETTLEMENT_DB_DSN"`
	Driver string `envconfig:"SETTLEMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SETTLEMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"SETTLEMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SETTLEMENT_DB_USER"`
	LegacyPassword string `envconfig:"SETTLEMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SETTLEMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SETTLEMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SETTLEMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SETTLEMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver is the embedded sqlite one.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"SETTLEMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SETTLEMENT_REDIS_ADDR"`
	Password     string        `envconfig:"SETTLEMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SETTLEMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SETTLEMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SETTLEMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SETTLEMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies principal tokens minted by the identity service.
type JWTConfig struct {
	Secret            string `envconfig:"SETTLEMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SETTLEMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SETTLEMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SETTLEMENT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SETTLEMENT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"SETTLEMENT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SETTLEMENT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SETTLEMENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SETTLEMENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic       string `envconfig:"SETTLEMENT_PUBSUB_SETTLEMENT_TOPIC" default:"settlement-events"`
	AnalyticsSubscription string `envconfig:"SETTLEMENT_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"settlement-events-analytics"`
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"SETTLEMENT_BIGQUERY_DATASET" default:"settlement"`
	SettlementTable string `envconfig:"SETTLEMENT_BIGQUERY_SETTLEMENT_TABLE" default:"settlement_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SETTLEMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"SETTLEMENT_STRIPE_API_KEY"`
	Secret string `envconfig:"SETTLEMENT_STRIPE_SECRET"`
	Env    string `envconfig:"SETTLEMENT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// PaymentsConfig selects the gateway used for online payments.
type PaymentsConfig struct {
	Gateway         string        `envconfig:"SETTLEMENT_PAYMENTS_GATEWAY" default:"hmac"`
	KeyID           string        `envconfig:"SETTLEMENT_PAYMENTS_KEY_ID"`
	KeySecret       string        `envconfig:"SETTLEMENT_PAYMENTS_KEY_SECRET"`
	Currency        string        `envconfig:"SETTLEMENT_PAYMENTS_CURRENCY" default:"INR"`
	GatewayTimeout  time.Duration `envconfig:"SETTLEMENT_PAYMENTS_GATEWAY_TIMEOUT" default:"10s"`
	DevMode         bool          `envconfig:"SETTLEMENT_PAYMENTS_DEV_MODE" default:"false"`
	AmountTolerance int64         `envconfig:"SETTLEMENT_PAYMENTS_AMOUNT_TOLERANCE_CENTS" default:"1"`
}

// GatewayName returns the normalized gateway identifier.
func (p PaymentsConfig) GatewayName() string {
	name := strings.ToLower(strings.TrimSpace(p.Gateway))
	if name == "" {
		return "hmac"
	}
	return name
}

func (p PaymentsConfig) validate() error {
	switch p.GatewayName() {
	case "hmac", "stripe":
	default:
		return fmt.Errorf("unsupported payment gateway %q", p.Gateway)
	}
	if p.GatewayTimeout <= 0 {
		return fmt.Errorf("payment gateway timeout must be positive")
	}
	return nil
}

type CommissionConfig struct {
	DefaultRate string        `envconfig:"SETTLEMENT_COMMISSION_DEFAULT_RATE" default:"10"`
	CacheTTL    time.Duration `envconfig:"SETTLEMENT_COMMISSION_CACHE_TTL" default:"5m"`
}

// Rate parses the configured default commission percentage.
func (c CommissionConfig) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DefaultRate))
	if err != nil {
		return decimal.NewFromInt(10)
	}
	return rate
}

func (c CommissionConfig) validate() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.DefaultRate))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", EnvCommissionDefaultRate, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%s must be between 0 and 100", EnvCommissionDefaultRate)
	}
	return nil
}

type OrdersConfig struct {
	ReturnWindowDays int `envconfig:"SETTLEMENT_ORDERS_RETURN_WINDOW_DAYS" default:"7"`
}

// ReturnWindow converts the configured return window into a duration.
func (o OrdersConfig) ReturnWindow() time.Duration {
	days := o.ReturnWindowDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

type WithdrawalsConfig struct {
	MinAmountCents int64 `envconfig:"SETTLEMENT_WITHDRAWALS_MIN_AMOUNT_CENTS" default:"1"`
}

// RateLimitConfig throttles money-moving endpoints per caller.
type RateLimitConfig struct {
	Window    time.Duration `envconfig:"SETTLEMENT_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit   int           `envconfig:"SETTLEMENT_RATE_LIMIT_IP" default:"120"`
	UserLimit int           `envconfig:"SETTLEMENT_RATE_LIMIT_USER" default:"20"`
}

type CronConfig struct {
	Interval    time.Duration `envconfig:"SETTLEMENT_CRON_INTERVAL" default:"5m"`
	LockTTL     time.Duration `envconfig:"SETTLEMENT_CRON_LOCK_TTL" default:"10m"`
	BatchSize   int           `envconfig:"SETTLEMENT_CRON_BATCH_SIZE" default:"100"`
	MetricsAddr string        `envconfig:"SETTLEMENT_CRON_METRICS_ADDR" default:":9102"`
	LockKey     string        `envconfig:"SETTLEMENT_CRON_LOCK_KEY" default:"settlement-cron"`

	CommissionGrace     time.Duration `envconfig:"SETTLEMENT_CRON_COMMISSION_GRACE" default:"10m"`
	RefundRetryAfter    time.Duration `envconfig:"SETTLEMENT_CRON_REFUND_RETRY_AFTER" default:"15m"`
	OutboxRetentionDays int           `envconfig:"SETTLEMENT_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
