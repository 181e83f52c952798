package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is handed to envconfig; every field below spells out its full
// variable name so the prefix only matters for envconfig's usage output.
const EnvPrefix = "MARKETCORE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv             = "MARKETCORE_APP_ENV"
	EnvPort               = "MARKETCORE_APP_PORT"
	EnvDBDSN              = "MARKETCORE_DB_DSN"
	EnvDBHost             = "MARKETCORE_DB_HOST"
	EnvDBUser             = "MARKETCORE_DB_USER"
	EnvDBName             = "MARKETCORE_DB_NAME"
	EnvRedisURL           = "MARKETCORE_REDIS_URL"
	EnvJWTSecret          = "MARKETCORE_JWT_SECRET"
	EnvJWTIssuer          = "MARKETCORE_JWT_ISSUER"
	EnvJWTExpMins         = "MARKETCORE_JWT_EXPIRATION_MINUTES"
	EnvGCPProjectID       = "MARKETCORE_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic  = "MARKETCORE_PUBSUB_ORDERS_TOPIC"
	EnvPubSubLedgerTopic  = "MARKETCORE_PUBSUB_LEDGER_TOPIC"
	EnvPubSubNotifySub    = "MARKETCORE_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPaymentBaseURL     = "MARKETCORE_PAYMENT_BASE_URL"
	EnvPaymentSecretName  = "MARKETCORE_PAYMENT_SECRET_NAME"
	EnvPaymentResultURL   = "MARKETCORE_PAYMENT_RESULT_BASE_URL"
	EnvCourierBaseURL     = "MARKETCORE_COURIER_BASE_URL"
	EnvCourierTokenSecret = "MARKETCORE_COURIER_TOKEN_SECRET_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Secrets      SecretsConfig
	Payment      PaymentConfig
	Courier      CourierConfig
	Ledger       LedgerConfig
	RateLimit    RateLimitConfig
	Maintenance  MaintenanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Payment.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Maintenance.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETCORE_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETCORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARKETCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETCORE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"MARKETCORE_LOG_FORMAT" default:"json"`
	// CORSOrigins is a comma separated list of browser origins allowed to call the API.
	CORSOrigins []string `envconfig:"MARKETCORE_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETCORE_DB_DSN"`
	Driver string `envconfig:"MARKETCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETCORE_DB_USER"`
	LegacyPassword string `envconfig:"MARKETCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// TxMaxAttempts bounds serialization-failure retries in WithTx.
	TxMaxAttempts int           `envconfig:"MARKETCORE_DB_TX_MAX_ATTEMPTS" default:"5"`
	TxRetryDelay  time.Duration `envconfig:"MARKETCORE_DB_TX_RETRY_DELAY" default:"25ms"`

	SlowQuery time.Duration `envconfig:"MARKETCORE_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETCORE_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MARKETCORE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARKETCORE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARKETCORE_JWT_EXPIRATION_MINUTES" required:"true"`
}

func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETCORE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETCORE_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARKETCORE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"MARKETCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARKETCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"MARKETCORE_PUBSUB_ORDERS_TOPIC" required:"true"`
	LedgerTopic              string `envconfig:"MARKETCORE_PUBSUB_LEDGER_TOPIC" required:"true"`
	PaymentsTopic            string `envconfig:"MARKETCORE_PUBSUB_PAYMENTS_TOPIC" default:"mc-payment-events"`
	NotificationSubscription string `envconfig:"MARKETCORE_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MARKETCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MARKETCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MARKETCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"MARKETCORE_OUTBOX_IDEMPOTENCY_TTL" default:"720h"`

	// PublishConcurrency bounds in-flight Pub/Sub publishes per batch.
	PublishConcurrency int `envconfig:"MARKETCORE_OUTBOX_PUBLISH_CONCURRENCY" default:"8"`
}

// SecretsConfig selects where gateway secrets and courier tokens come from.
// Provider "env" reads MARKETCORE_SECRET_<NAME> variables and exists for local runs.
type SecretsConfig struct {
	Provider string `envconfig:"MARKETCORE_SECRETS_PROVIDER" default:"gcp"`
	Version  string `envconfig:"MARKETCORE_SECRETS_VERSION" default:"latest"`
}

type PaymentConfig struct {
	BaseURL      string        `envconfig:"MARKETCORE_PAYMENT_BASE_URL" required:"true"`
	VoidURL      string        `envconfig:"MARKETCORE_PAYMENT_VOID_URL"`
	SecretName   string        `envconfig:"MARKETCORE_PAYMENT_SECRET_NAME" required:"true"`
	Currency     string        `envconfig:"MARKETCORE_PAYMENT_CURRENCY" default:"PHP"`
	PlatformKey  string        `envconfig:"MARKETCORE_PAYMENT_PLATFORM_KEY_ID"`
	Timeout      time.Duration `envconfig:"MARKETCORE_PAYMENT_TIMEOUT" default:"10s"`
	ResultURL    string        `envconfig:"MARKETCORE_PAYMENT_RESULT_BASE_URL" required:"true"`
	ReplayWindow time.Duration `envconfig:"MARKETCORE_PAYMENT_REPLAY_WINDOW" default:"24h"`
}

func (p PaymentConfig) validate() error {
	if _, err := url.ParseRequestURI(p.BaseURL); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvPaymentBaseURL, err)
	}
	if _, err := url.ParseRequestURI(p.ResultURL); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvPaymentResultURL, err)
	}
	return nil
}

// OutcomeURL builds the storefront page the buyer lands on after the processor
// redirect, keyed by purpose and outcome.
func (p PaymentConfig) OutcomeURL(purpose, outcome string) string {
	base := strings.TrimRight(p.ResultURL, "/")
	return fmt.Sprintf("%s/%s/%s", base, url.PathEscape(purpose), url.PathEscape(outcome))
}

type CourierConfig struct {
	BaseURL         string        `envconfig:"MARKETCORE_COURIER_BASE_URL"`
	TokenSecretName string        `envconfig:"MARKETCORE_COURIER_TOKEN_SECRET_NAME" default:"courier-auth-token"`
	Timeout         time.Duration `envconfig:"MARKETCORE_COURIER_TIMEOUT" default:"10s"`
	Enabled         bool          `envconfig:"MARKETCORE_COURIER_ENABLED" default:"true"`
}

// LedgerConfig tunes the near-threshold warning; the threshold itself lives on the merchant.
type LedgerConfig struct {
	NearMultiplier   string `envconfig:"MARKETCORE_LEDGER_NEAR_MULTIPLIER" default:"2"`
}

// RateLimitConfig bounds request bursts per policy. A zero limit disables it.
type RateLimitConfig struct {
	CheckoutWindow time.Duration `envconfig:"MARKETCORE_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutLimit  int           `envconfig:"MARKETCORE_RATE_LIMIT_CHECKOUT_LIMIT" default:"10"`
	CallbackWindow time.Duration `envconfig:"MARKETCORE_RATE_LIMIT_CALLBACK_WINDOW" default:"1m"`
	CallbackLimit  int           `envconfig:"MARKETCORE_RATE_LIMIT_CALLBACK_LIMIT" default:"600"`
	QuoteWindow    time.Duration `envconfig:"MARKETCORE_RATE_LIMIT_QUOTE_WINDOW" default:"1m"`
	QuoteLimit     int           `envconfig:"MARKETCORE_RATE_LIMIT_QUOTE_LIMIT" default:"60"`
}

// MaintenanceConfig drives the scheduled cleanup worker.
type MaintenanceConfig struct {
	Interval              time.Duration `envconfig:"MARKETCORE_MAINTENANCE_INTERVAL" default:"15m"`
	LockTTL               time.Duration `envconfig:"MARKETCORE_MAINTENANCE_LOCK_TTL" default:"10m"`
	JobTimeout            time.Duration `envconfig:"MARKETCORE_MAINTENANCE_JOB_TIMEOUT" default:"3m"`
	CleanupEvery          time.Duration `envconfig:"MARKETCORE_MAINTENANCE_CLEANUP_EVERY" default:"6h"`
	OutboxRetention       time.Duration `envconfig:"MARKETCORE_MAINTENANCE_OUTBOX_RETENTION" default:"168h"`
	NotificationRetention time.Duration `envconfig:"MARKETCORE_MAINTENANCE_NOTIFICATION_RETENTION" default:"720h"`
	UnpaidOrderTTL        time.Duration `envconfig:"MARKETCORE_MAINTENANCE_UNPAID_ORDER_TTL" default:"24h"`
	ExpiryBatchSize       int           `envconfig:"MARKETCORE_MAINTENANCE_EXPIRY_BATCH_SIZE" default:"100"`
}

// validate keeps a single job inside the scheduler lease.
func (m MaintenanceConfig) validate() error {
	if m.Interval <= 0 || m.LockTTL <= 0 {
		return fmt.Errorf("maintenance interval and lock ttl must be positive")
	}
	if m.JobTimeout <= 0 || m.JobTimeout >= m.LockTTL {
		return fmt.Errorf("maintenance job timeout %s must be positive and below lock ttl %s", m.JobTimeout, m.LockTTL)
	}
	if m.CleanupEvery < 0 {
		return fmt.Errorf("maintenance cleanup cadence cannot be negative")
	}
	return nil
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
