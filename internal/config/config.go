package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	// Sender is the primary verified address. FallbackSender is only used
	// when a send from the primary address errors.
	Sender         string `envconfig:"SENDER" default:""`
	FallbackSender string `envconfig:"FALLBACK_SENDER" default:"noreply@tareo-mail.com"`

	// ----------------------------
	// Delivery worker
	// ----------------------------
	BatchSize    int           `envconfig:"BATCH_SIZE" default:"50"`
	RateLimit    int           `envconfig:"RATE_LIMIT" default:"10"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"1m"`
	StuckTimeout time.Duration `envconfig:"STUCK_TIMEOUT" default:"10m"`

	// ----------------------------
	// Rendering defaults
	// ----------------------------
	AppName          string `envconfig:"APP_NAME" default:"Tareo"`
	LogoURL          string `envconfig:"LOGO_URL" default:"https://tareo.app/logo.png"`
	DefaultPlanName  string `envconfig:"DEFAULT_PLAN_NAME" default:"Pro"`
	DefaultPlanPrice string `envconfig:"DEFAULT_PLAN_PRICE" default:"$9.99"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// ----------------------------
	// Events (AMQP) + dedupe (Redis)
	// ----------------------------
	AMQPURL       string        `envconfig:"AMQP_URL" default:""`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	DedupeTTL     time.Duration `envconfig:"DEDUPE_TTL" default:"24h"`
}

func Load() (*Config, error) {
	// Best effort; production sets real env vars.
	_ = godotenv.Load()

	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}
