package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	CORS         CORSConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Ledger       LedgerConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GIFTLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"GIFTLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GIFTLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GIFTLEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"GIFTLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GIFTLEDGER_DB_DSN"`
	Driver string `envconfig:"GIFTLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GIFTLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"GIFTLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GIFTLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"GIFTLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"GIFTLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"GIFTLEDGER_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"GIFTLEDGER_SQLITE_PATH" default:"giftledger.db"`

	MaxOpenConns    int           `envconfig:"GIFTLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GIFTLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GIFTLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GIFTLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"GIFTLEDGER_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GIFTLEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GIFTLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"GIFTLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"GIFTLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GIFTLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GIFTLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GIFTLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GIFTLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GIFTLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret used to verify tokens minted by the
// identity provider.
type JWTConfig struct {
	Secret   string        `envconfig:"GIFTLEDGER_JWT_SECRET" required:"true"`
	Issuer   string        `envconfig:"GIFTLEDGER_JWT_ISSUER" required:"true"`
	Audience string        `envconfig:"GIFTLEDGER_JWT_AUDIENCE"`
	Leeway   time.Duration `envconfig:"GIFTLEDGER_JWT_LEEWAY" default:"30s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"GIFTLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"GIFTLEDGER_AUTO_MIGRATE" default:"false"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"GIFTLEDGER_CORS_ALLOWED_ORIGINS" default:"*"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GIFTLEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"GIFTLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GIFTLEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic      string `envconfig:"GIFTLEDGER_PUBSUB_LEDGER_TOPIC" default:"gl-ledger-events"`
	FulfillmentTopic string `envconfig:"GIFTLEDGER_PUBSUB_FULFILLMENT_TOPIC" default:"gl-fulfillment-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"GIFTLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"GIFTLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"GIFTLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"GIFTLEDGER_OUTBOX_RETENTION" default:"720h"`
}

type StripeConfig struct {
	APIKey          string        `envconfig:"GIFTLEDGER_STRIPE_API_KEY"`
	Secret          string        `envconfig:"GIFTLEDGER_STRIPE_SECRET"`
	Env             string        `envconfig:"GIFTLEDGER_STRIPE_ENV" default:"test"`
	Currency        string        `envconfig:"GIFTLEDGER_STRIPE_CURRENCY" default:"usd"`
	CheckoutTimeout time.Duration `envconfig:"GIFTLEDGER_STRIPE_CHECKOUT_TIMEOUT" default:"10s"`
	SuccessURL      string        `envconfig:"GIFTLEDGER_STRIPE_SUCCESS_URL" default:"http://localhost:3000/registry/{registry_id}/thanks"`
	CancelURL       string        `envconfig:"GIFTLEDGER_STRIPE_CANCEL_URL" default:"http://localhost:3000/registry/{registry_id}"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// LedgerConfig carries the money thresholds enforced by the ledger, in cents.
type LedgerConfig struct {
	MinContributionCents int64         `envconfig:"GIFTLEDGER_LEDGER_MIN_CONTRIBUTION_CENTS" default:"50"`
	MinRedemptionCents   int64         `envconfig:"GIFTLEDGER_LEDGER_MIN_REDEMPTION_CENTS" default:"100"`
	FlagThresholdCents   int64         `envconfig:"GIFTLEDGER_LEDGER_FLAG_THRESHOLD_CENTS" default:"100000"`
	WebhookIdempotency   time.Duration `envconfig:"GIFTLEDGER_LEDGER_WEBHOOK_IDEMPOTENCY_TTL" default:"168h"`
	StalePendingAfter    time.Duration `envconfig:"GIFTLEDGER_LEDGER_STALE_PENDING_AFTER" default:"24h"`
}

func (l LedgerConfig) validate() error {
	if l.MinContributionCents <= 0 {
		return fmt.Errorf("%s must be positive", EnvLedgerMinContribution)
	}
	if l.MinRedemptionCents <= 0 {
		return fmt.Errorf("%s must be positive", EnvLedgerMinRedemption)
	}
	if l.FlagThresholdCents < l.MinRedemptionCents {
		return fmt.Errorf("%s must be at least %s", EnvLedgerFlagThreshold, EnvLedgerMinRedemption)
	}
	return nil
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite || db.DSN != "" {
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
