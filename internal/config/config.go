package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Redis configuration
	Redis RedisConfig `env:",prefix=REDIS_"`

	// Kafka configuration
	Kafka KafkaConfig `env:",prefix=KAFKA_"`

	// Consumer configuration
	Consumer ConsumerConfig `env:",prefix=CONSUMER_"`

	// Reconciler configuration
	Reconciler ReconcilerConfig `env:",prefix=RECONCILER_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           string `env:"PORT,default=8080"`
	Host           string `env:"HOST,default=0.0.0.0"`
	ReadTimeout    int    `env:"READ_TIMEOUT,default=30"`    // seconds
	WriteTimeout   int    `env:"WRITE_TIMEOUT,default=30"`   // seconds
	RequestTimeout int    `env:"REQUEST_TIMEOUT,default=1"`  // seconds, end-to-end issue deadline
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=postgres"`
	Password string `env:"PASSWORD,default=postgres"`
	Name     string `env:"NAME,default=coupon_rush"`
	SSLMode  string `env:"SSL_MODE,default=disable"`
	MaxConns int    `env:"MAX_CONNS,default=25"`
	MinConns int    `env:"MIN_CONNS,default=5"`
}

// RedisConfig holds the in-memory store configuration.
// Addrs takes a comma-separated node list; more than one address enables
// cluster mode so the hash-tagged keys stay co-located per event.
type RedisConfig struct {
	Addrs            []string `env:"ADDRS,default=localhost:6379"`
	Password         string   `env:"PASSWORD"`
	DialTimeout      int      `env:"DIAL_TIMEOUT,default=10"` // seconds
	ReadTimeout      int      `env:"READ_TIMEOUT,default=10"` // seconds
	PoolSize         int      `env:"POOL_SIZE,default=50"`
	ParticipationTTL int      `env:"PARTICIPATION_TTL,default=3600"` // seconds
}

// KafkaConfig holds event log configuration
type KafkaConfig struct {
	Brokers          []string `env:"BROKERS,default=localhost:9092"`
	Topic            string   `env:"TOPIC,default=coupon-events"`
	DeadLetterTopic  string   `env:"DEAD_LETTER_TOPIC,default=coupon-events-dlq"`
	PublishAttempts  int      `env:"PUBLISH_ATTEMPTS,default=3"`
	PublishBackoffMS int      `env:"PUBLISH_BACKOFF_MS,default=20"`
}

// ConsumerConfig holds durable writer configuration
type ConsumerConfig struct {
	GroupID     string `env:"GROUP_ID,default=coupon-consumer-group"`
	MaxAttempts int    `env:"MAX_ATTEMPTS,default=5"`
	BackoffBase int    `env:"BACKOFF_BASE,default=1"` // seconds
	BackoffCap  int    `env:"BACKOFF_CAP,default=30"` // seconds
}

// ReconcilerConfig holds reconciliation job configuration
type ReconcilerConfig struct {
	Interval int `env:"INTERVAL,default=60"` // seconds
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// Load loads configuration from environment variables.
// A .env file in the working directory is picked up when present.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("at least one redis address is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	if c.Kafka.PublishAttempts < 1 {
		return fmt.Errorf("kafka publish attempts must be at least 1")
	}
	if c.Consumer.MaxAttempts < 1 {
		return fmt.Errorf("consumer max attempts must be at least 1")
	}
	if c.Redis.ParticipationTTL < 1 {
		return fmt.Errorf("participation TTL must be positive")
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// GetRequestTimeout returns the end-to-end deadline for a single issue request
func (c *ServerConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetParticipationTTL returns the participant set TTL
func (c *RedisConfig) GetParticipationTTL() time.Duration {
	return time.Duration(c.ParticipationTTL) * time.Second
}

// GetInterval returns the reconciliation period
func (c *ReconcilerConfig) GetInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
