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
	Eventing     EventingConfig
	Gateway      GatewayConfig
	Checkout     CheckoutConfig
	Reconcile    ReconcileConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	CORSOrigins       []string      `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
	LookupRateLimit   int           `envconfig:"STOREFRONT_LOOKUP_RATE_LIMIT" default:"30"`
	LookupRateWindow  time.Duration `envconfig:"STOREFRONT_LOOKUP_RATE_WINDOW" default:"1m"`
	MetricsListenAddr string        `envconfig:"STOREFRONT_METRICS_ADDR" default:":9090"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"STOREFRONT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookProcessedTTL  time.Duration `envconfig:"STOREFRONT_WEBHOOK_PROCESSED_TTL" default:"168h"`
	IdempotencyTTL       time.Duration `envconfig:"STOREFRONT_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

// GatewayConfig describes the single payment gateway the storefront talks to.
type GatewayConfig struct {
	BaseURL          string        `envconfig:"STOREFRONT_GATEWAY_BASE_URL" required:"true"`
	SecretKey        string        `envconfig:"STOREFRONT_GATEWAY_SECRET_KEY" required:"true"`
	WebhookSecret    string        `envconfig:"STOREFRONT_GATEWAY_WEBHOOK_SECRET"`
	CallbackURL      string        `envconfig:"STOREFRONT_GATEWAY_CALLBACK_URL"`
	Currency         string        `envconfig:"STOREFRONT_GATEWAY_CURRENCY" default:"NGN"`
	Timeout          time.Duration `envconfig:"STOREFRONT_GATEWAY_TIMEOUT" default:"10s"`
	BreakerFailures  uint32        `envconfig:"STOREFRONT_GATEWAY_BREAKER_FAILURES" default:"5"`
	BreakerOpenDelay time.Duration `envconfig:"STOREFRONT_GATEWAY_BREAKER_OPEN_DELAY" default:"30s"`
}

// SigningSecret returns the webhook secret, falling back to the API secret key.
func (g GatewayConfig) SigningSecret() string {
	if strings.TrimSpace(g.WebhookSecret) != "" {
		return g.WebhookSecret
	}
	return g.SecretKey
}

func (g GatewayConfig) validate() error {
	if _, err := url.ParseRequestURI(g.BaseURL); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvGatewayBaseURL, err)
	}
	return nil
}

type CheckoutConfig struct {
	TaxBasisPoints    int64 `envconfig:"STOREFRONT_CHECKOUT_TAX_BPS" default:"0"`
	ShippingFlatCents int64 `envconfig:"STOREFRONT_CHECKOUT_SHIPPING_CENTS" default:"0"`
}

type ReconcileConfig struct {
	VerifyInterval time.Duration `envconfig:"STOREFRONT_RECONCILE_VERIFY_INTERVAL" default:"10m"`
	VerifyGrace    time.Duration `envconfig:"STOREFRONT_RECONCILE_VERIFY_GRACE" default:"5m"`
	ExpiryInterval time.Duration `envconfig:"STOREFRONT_RECONCILE_EXPIRY_INTERVAL" default:"1h"`
	ExpiryAge      time.Duration `envconfig:"STOREFRONT_RECONCILE_EXPIRY_AGE" default:"30m"`
	BatchSize      int           `envconfig:"STOREFRONT_RECONCILE_BATCH_SIZE" default:"100"`
	RetentionDays  int           `envconfig:"STOREFRONT_OUTBOX_RETENTION_DAYS" default:"7"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"STOREFRONT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"STOREFRONT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"STOREFRONT_PUBSUB_NOTIFICATION_TOPIC" default:"sf-notification-events"`
	DLQTopic          string `envconfig:"STOREFRONT_PUBSUB_DLQ_TOPIC"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"STOREFRONT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
