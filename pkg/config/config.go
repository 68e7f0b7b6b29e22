package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	PubSub   PubSubConfig
	Queues   QueuesConfig
	Retry    RetryConfig
	Credit   CreditConfig
	Bidding  BiddingConfig
	Ingest   IngestConfig
	Recovery RecoveryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DUKALINK_APP_ENV" required:"true"`
	Port         string `envconfig:"DUKALINK_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"DUKALINK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DUKALINK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"DUKALINK_DB_DSN"`

	Host     string `envconfig:"DUKALINK_DB_HOST"`
	Port     int    `envconfig:"DUKALINK_DB_PORT" default:"5432"`
	User     string `envconfig:"DUKALINK_DB_USER"`
	Password string `envconfig:"DUKALINK_DB_PASSWORD"`
	Name     string `envconfig:"DUKALINK_DB_NAME"`
	SSLMode  string `envconfig:"DUKALINK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DUKALINK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DUKALINK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DUKALINK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DUKALINK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("database DSN or host/user/name are required")
	}
	userInfo := url.User(d.User)
	if d.Password != "" {
		userInfo = url.UserPassword(d.User, d.Password)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"DUKALINK_REDIS_URL"`
	Address      string        `envconfig:"DUKALINK_REDIS_ADDR"`
	Password     string        `envconfig:"DUKALINK_REDIS_PASSWORD"`
	DB           int           `envconfig:"DUKALINK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DUKALINK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DUKALINK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DUKALINK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DUKALINK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DUKALINK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type PubSubConfig struct {
	ProjectID           string `envconfig:"DUKALINK_PUBSUB_PROJECT_ID"`
	InboundSubscription string `envconfig:"DUKALINK_PUBSUB_INBOUND_SUBSCRIPTION" default:"gateway-inbound"`
	RepliesTopic        string `envconfig:"DUKALINK_PUBSUB_REPLIES_TOPIC" default:"gateway-replies"`
}

// QueuesConfig carries per-queue worker concurrency plus shared lease settings.
type QueuesConfig struct {
	IngestConcurrency          int `envconfig:"DUKALINK_QUEUE_INGEST_CONCURRENCY" default:"2"`
	OrderProcessingConcurrency int `envconfig:"DUKALINK_QUEUE_ORDER_PROCESSING_CONCURRENCY" default:"4"`
	VendorRoutingConcurrency   int `envconfig:"DUKALINK_QUEUE_VENDOR_ROUTING_CONCURRENCY" default:"4"`
	ReplyConcurrency           int `envconfig:"DUKALINK_QUEUE_REPLY_CONCURRENCY" default:"2"`

	LeaseTTL        time.Duration `envconfig:"DUKALINK_QUEUE_LEASE_TTL" default:"60s"`
	PollInterval    time.Duration `envconfig:"DUKALINK_QUEUE_POLL_INTERVAL" default:"500ms"`
	ReclaimInterval time.Duration `envconfig:"DUKALINK_QUEUE_RECLAIM_INTERVAL" default:"30s"`
	MaxAttempts     int           `envconfig:"DUKALINK_QUEUE_MAX_ATTEMPTS" default:"5"`
}

// RetryConfig is the shared declarative backoff policy every job type reuses.
type RetryConfig struct {
	BaseDelay   time.Duration `envconfig:"DUKALINK_RETRY_BASE_DELAY" default:"2s"`
	Multiplier  float64       `envconfig:"DUKALINK_RETRY_MULTIPLIER" default:"2.0"`
	MaxDelay    time.Duration `envconfig:"DUKALINK_RETRY_MAX_DELAY" default:"10m"`
	JitterRatio float64       `envconfig:"DUKALINK_RETRY_JITTER_RATIO" default:"0.2"`
}

type CreditConfig struct {
	ConflictRetries int `envconfig:"DUKALINK_CREDIT_CONFLICT_RETRIES" default:"3"`
}

type BiddingConfig struct {
	DefaultWindow time.Duration `envconfig:"DUKALINK_BIDDING_DEFAULT_WINDOW" default:"30m"`
}

type IngestConfig struct {
	ReplayWindow time.Duration `envconfig:"DUKALINK_INGEST_REPLAY_WINDOW" default:"2m"`
}

type RecoveryConfig struct {
	Interval      time.Duration `envconfig:"DUKALINK_RECOVERY_INTERVAL" default:"5m"`
	MaxRepairs    int           `envconfig:"DUKALINK_RECOVERY_MAX_REPAIRS" default:"200"`
	LockKey       string        `envconfig:"DUKALINK_RECOVERY_LOCK_KEY" default:"recovery:run"`
	LockTTL       time.Duration `envconfig:"DUKALINK_RECOVERY_LOCK_TTL" default:"10m"`
	BatchSize     int           `envconfig:"DUKALINK_RECOVERY_BATCH_SIZE" default:"100"`
	StaleWinnerBy time.Duration `envconfig:"DUKALINK_RECOVERY_STALE_WINNER_BY" default:"1m"`
}
