package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	linkenv "github.com/ManuelReschke/LinkFox/internal/pkg/env"
)

var ErrParsingConfig = errors.New("failed to parse configuration")

type Config struct {
	App      AppConfig      `envPrefix:"APP_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	Cache    CacheConfig    `envPrefix:"CACHE_"`
	Stripe   StripeConfig   `envPrefix:"STRIPE_"`
	Archive  ArchiveConfig  `envPrefix:"S3_"`
	Mail     MailConfig
	Metrics  MetricsConfig `envPrefix:"METRICS_"`
}

type AppConfig struct {
	Env       string `env:"ENV" envDefault:"prod"`
	Host      string `env:"HOST" envDefault:"localhost"`
	Port      string `env:"PORT" envDefault:"4000"`
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:4000"`
	DocsPath  string `env:"DOCS_PATH" envDefault:"./public/docs/v1/openapi.yml"`
}

func (c AppConfig) IsDev() bool { return c.Env == "dev" }

func (c AppConfig) ListenAddr() string { return fmt.Sprintf("%s:%s", c.Host, c.Port) }

type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"127.0.0.1"`
	Port     string `env:"PORT" envDefault:"3306"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME"`
}

// DSN returns the go-sql-driver data source name.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

type CacheConfig struct {
	Host        string        `env:"HOST" envDefault:"localhost"`
	Port        string        `env:"PORT" envDefault:"6379"`
	Password    string        `env:"PASSWORD"`
	CustomerTTL time.Duration `env:"CUSTOMER_TTL" envDefault:"24h"`
}

func (c CacheConfig) Addr() string { return fmt.Sprintf("%s:%s", c.Host, c.Port) }

type StripeConfig struct {
	SecretKey        string        `env:"SECRET_KEY"`
	WebhookSecret    string        `env:"WEBHOOK_SECRET"`
	MonthlyPriceID   string        `env:"PRICE_MONTHLY"`
	LifetimePriceID  string        `env:"PRICE_LIFETIME"`
	SuccessPath      string        `env:"SUCCESS_PATH" envDefault:"/billing/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelPath       string        `env:"CANCEL_PATH" envDefault:"/billing/cancelled"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
	MaxRetries       int64         `env:"MAX_RETRIES" envDefault:"2"`
}

type ArchiveConfig struct {
	Enabled         bool   `env:"ARCHIVE_ENABLED" envDefault:"false"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Region          string `env:"REGION" envDefault:"us-east-1"`
	BucketName      string `env:"BUCKET_NAME"`
	EndpointURL     string `env:"ENDPOINT_URL"`
	Prefix          string `env:"ARCHIVE_PREFIX" envDefault:"webhooks"`
}

type MailConfig struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"MAIL_SENDER" envDefault:"billing@linkfox.local"`
	SupportEmail         string `env:"MAIL_SUPPORT" envDefault:"support@linkfox.local"`
}

// Enabled reports whether Postmark credentials are present.
func (c MailConfig) Enabled() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}

type MetricsConfig struct {
	User     string `env:"USER" envDefault:"admin"`
	Password string `env:"PASSWORD"`
}

// Load parses the process environment, overlaid with the values read by
// env.SetupEnvFile, into a Config.
func Load() (*Config, error) {
	return Parse(linkenv.Environ())
}

// Parse builds a Config from an explicit variable map.
func Parse(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	if cfg.Archive.Enabled && cfg.Archive.BucketName == "" {
		return nil, errors.Join(ErrParsingConfig, errors.New("S3_BUCKET_NAME is required when S3_ARCHIVE_ENABLED is true"))
	}
	return &cfg, nil
}

// MustLoad works like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load required configuration: %v", err))
	}
	return cfg
}
