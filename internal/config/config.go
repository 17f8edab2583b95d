package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Auth       AuthConfig       `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Billing    BillingConfig    `validate:"required"`
	Stripe     StripeConfig
	Paystack   PaystackConfig
	Reminders  RemindersConfig `validate:"required"`
	Kafka      KafkaConfig
	Cache      CacheConfig
	Sentry     SentryConfig
	Pyroscope  PyroscopeConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type AuthConfig struct {
	// Secret signs tenant JWTs (HS256)
	Secret string `mapstructure:"secret" validate:"required"`
	// AdminAPIKeys maps the sha256 hex of a platform admin api key to the admin user id
	AdminAPIKeys map[string]string `mapstructure:"admin_api_keys"`
	// CronSecret guards the scheduler trigger endpoints
	CronSecret string `mapstructure:"cron_secret"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

type BillingConfig struct {
	// GraceDays is how long a subscription may stay past due before reminders start
	GraceDays int `mapstructure:"grace_days" validate:"min=0"`
	// GraceExpiryDays is how long after the grace window a past due subscription is closed
	GraceExpiryDays int `mapstructure:"grace_expiry_days" validate:"min=0"`
	// DunningLimit caps how many subscriptions one dunning run touches
	DunningLimit int `mapstructure:"dunning_limit" validate:"min=1"`
	// EntitlementDenyList is disabled for tenants that never subscribed
	EntitlementDenyList []string `mapstructure:"entitlement_deny_list"`
	// PullSyncConcurrency bounds concurrent provider lookups during pull sync
	PullSyncConcurrency int `mapstructure:"pull_sync_concurrency" validate:"min=1"`
}

type StripeConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SecretKey       string        `mapstructure:"secret_key"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	SuccessURL      string        `mapstructure:"success_url"`
	CancelURL       string        `mapstructure:"cancel_url"`
	PortalReturnURL string        `mapstructure:"portal_return_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type PaystackConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SecretKey   string        `mapstructure:"secret_key"`
	BaseURL     string        `mapstructure:"base_url"`
	CallbackURL string        `mapstructure:"callback_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// RequestsPerSecond throttles outbound calls
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

type RemindersConfig struct {
	Enabled         bool             `mapstructure:"enabled"`
	Topic           string           `mapstructure:"topic" validate:"required"`
	PubSub          types.PubSubType `mapstructure:"pubsub" validate:"required"`
	Endpoint        string           `mapstructure:"endpoint"`
	APIKey          string           `mapstructure:"api_key"`
	MaxRetries      int              `mapstructure:"max_retries"`
	InitialInterval time.Duration    `mapstructure:"initial_interval"`
	MaxInterval     time.Duration    `mapstructure:"max_interval"`
	Multiplier      float64          `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration    `mapstructure:"max_elapsed_time"`
}

// KafkaConfig is used when reminders.pubsub is kafka
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PyroscopeConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	ServerAddress   string   `mapstructure:"server_address"`
	ApplicationName string   `mapstructure:"application_name"`
	BasicAuthUser   string   `mapstructure:"basic_auth_user"`
	BasicAuthPass   string   `mapstructure:"basic_auth_pass"`
	SampleRate      uint32   `mapstructure:"sample_rate"`
	DisableGCRuns   bool     `mapstructure:"disable_gc_runs"`
	ProfileTypes    []string `mapstructure:"profile_types"`
}

func NewConfig() (*Configuration, error) {
	// a local .env is optional
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pewsoft")

	v.SetEnvPrefix("PEWSOFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		fmt.Printf("No config file found, using defaults and environment\n")
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	// Maps cannot be expressed as plain env values, so admin keys come in as JSON
	if raw := os.Getenv("PEWSOFT_AUTH_ADMIN_API_KEYS"); raw != "" {
		var keys map[string]string
		if err := json.Unmarshal([]byte(raw), &keys); err != nil {
			return nil, fmt.Errorf("parsing PEWSOFT_AUTH_ADMIN_API_KEYS: %w", err)
		}
		v.Set("auth.admin_api_keys", keys)
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", types.ModeLocal)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", types.LogLevelInfo)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_minutes", 30)
	v.SetDefault("billing.grace_days", 3)
	v.SetDefault("billing.grace_expiry_days", 14)
	v.SetDefault("billing.dunning_limit", 200)
	v.SetDefault("billing.pull_sync_concurrency", 4)
	v.SetDefault("stripe.timeout", 15*time.Second)
	v.SetDefault("paystack.base_url", "https://api.paystack.co")
	v.SetDefault("paystack.timeout", 15*time.Second)
	v.SetDefault("paystack.requests_per_second", 10)
	v.SetDefault("reminders.topic", "billing.reminders")
	v.SetDefault("reminders.pubsub", types.MemoryPubSub)
	v.SetDefault("reminders.max_retries", 3)
	v.SetDefault("reminders.initial_interval", time.Second)
	v.SetDefault("reminders.max_interval", 30*time.Second)
	v.SetDefault("reminders.multiplier", 2.0)
	v.SetDefault("reminders.max_elapsed_time", 2*time.Minute)
	v.SetDefault("kafka.consumer_group", "pewsoft-reminders")
	v.SetDefault("pyroscope.application_name", "pewsoft-subscriptions")
	v.SetDefault("pyroscope.sample_rate", 100)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 10*time.Minute)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a configuration for local development, scripts and tests
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Auth:       AuthConfig{Secret: "local-development-secret"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Billing: BillingConfig{
			GraceDays:           3,
			GraceExpiryDays:     14,
			DunningLimit:        200,
			PullSyncConcurrency: 4,
		},
		Stripe:   StripeConfig{Timeout: 15 * time.Second},
		Paystack: PaystackConfig{BaseURL: "https://api.paystack.co", Timeout: 15 * time.Second, RequestsPerSecond: 10},
		Reminders: RemindersConfig{
			Topic:           "billing.reminders",
			PubSub:          types.MemoryPubSub,
			MaxRetries:      3,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
			MaxElapsedTime:  2 * time.Minute,
		},
		Cache: CacheConfig{Enabled: true, TTL: 10 * time.Minute},
	}
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
