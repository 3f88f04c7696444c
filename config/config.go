package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	GRPC         GRPCConfig         `yaml:"grpc"`
	Storage      StorageConfig      `yaml:"storage"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Booking      BookingConfig      `yaml:"booking"`
	Worker       WorkerConfig       `yaml:"worker"`
	Payment      PaymentConfig      `yaml:"payment"`
	Ticketing    TicketingConfig    `yaml:"ticketing"`
	FlightSearch FlightSearchConfig `yaml:"flight_search"`
	Auth         AuthConfig         `yaml:"auth"`
	Log          LogConfig          `yaml:"log"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address"`
	SwaggerDir     string   `yaml:"swagger_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `yaml:"driver"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingEventsTopic string   `yaml:"booking_events_topic"`
	OperatorAlertTopic string   `yaml:"operator_alert_topic"`
	GroupID            string   `yaml:"group_id"`
}

type BookingConfig struct {
	PendingTTLMinutes       int     `yaml:"pending_ttl_minutes"`
	PriceToleranceMinor     int64   `yaml:"price_tolerance_minor"`
	PriceTolerancePercent   float64 `yaml:"price_tolerance_percent"`
	QuoteCacheTTLSeconds    int     `yaml:"quote_cache_ttl_seconds"`
	TicketingLeaseSeconds   int     `yaml:"ticketing_lease_seconds"`
	WebhookMarkerTTLMinutes int     `yaml:"webhook_marker_ttl_minutes"`
}

func (b BookingConfig) PendingTTL() time.Duration {
	return time.Duration(b.PendingTTLMinutes) * time.Minute
}

func (b BookingConfig) QuoteCacheTTL() time.Duration {
	return time.Duration(b.QuoteCacheTTLSeconds) * time.Second
}

func (b BookingConfig) TicketingLease() time.Duration {
	return time.Duration(b.TicketingLeaseSeconds) * time.Second
}

func (b BookingConfig) WebhookMarkerTTL() time.Duration {
	return time.Duration(b.WebhookMarkerTTLMinutes) * time.Minute
}

type WorkerConfig struct {
	ExpirationSweepMinutes int `yaml:"expiration_sweep_minutes"`
	CompletionSweepMinutes int `yaml:"completion_sweep_minutes"`
	SweepBatchSize         int `yaml:"sweep_batch_size"`
}

type PaymentConfig struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	WebhookSecret      string `yaml:"webhook_secret"`
	ReturnURL          string `yaml:"return_url"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	SignatureTolerance int    `yaml:"signature_tolerance_seconds"`
}

func (p PaymentConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// SignatureWindow is how far a webhook timestamp may drift from now.
func (p PaymentConfig) SignatureWindow() time.Duration {
	return time.Duration(p.SignatureTolerance) * time.Second
}

type TicketingConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (t TicketingConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

type FlightSearchConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (f FlightSearchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig(path string) (*Config, error) {
	// a missing .env is normal outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Database.Host, "DATABASE_HOST")
	setString(&c.Database.User, "DATABASE_USER")
	setString(&c.Database.Password, "DATABASE_PASSWORD")
	setString(&c.Database.Name, "DATABASE_NAME")
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	setString(&c.Payment.BaseURL, "PAYMENT_BASE_URL")
	setString(&c.Payment.APIKey, "PAYMENT_API_KEY")
	setString(&c.Payment.WebhookSecret, "PAYMENT_WEBHOOK_SECRET")
	setString(&c.Ticketing.BaseURL, "TICKETING_BASE_URL")
	setString(&c.Ticketing.APIKey, "TICKETING_API_KEY")
	setString(&c.FlightSearch.BaseURL, "FLIGHT_SEARCH_BASE_URL")
	setString(&c.FlightSearch.APIKey, "FLIGHT_SEARCH_API_KEY")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = ":9090"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "airticket-worker"
	}
	if c.Kafka.BookingEventsTopic == "" {
		c.Kafka.BookingEventsTopic = "booking.events"
	}
	if c.Kafka.OperatorAlertTopic == "" {
		c.Kafka.OperatorAlertTopic = "booking.alerts"
	}
	if c.Booking.PendingTTLMinutes <= 0 {
		c.Booking.PendingTTLMinutes = 30
	}
	if c.Booking.QuoteCacheTTLSeconds <= 0 {
		c.Booking.QuoteCacheTTLSeconds = 30
	}
	if c.Booking.TicketingLeaseSeconds <= 0 {
		c.Booking.TicketingLeaseSeconds = 120
	}
	if c.Booking.WebhookMarkerTTLMinutes <= 0 {
		c.Booking.WebhookMarkerTTLMinutes = 24 * 60
	}
	if c.Worker.ExpirationSweepMinutes <= 0 {
		c.Worker.ExpirationSweepMinutes = 1
	}
	if c.Worker.CompletionSweepMinutes <= 0 {
		c.Worker.CompletionSweepMinutes = 60
	}
	if c.Worker.SweepBatchSize <= 0 {
		c.Worker.SweepBatchSize = 100
	}
	if c.Payment.TimeoutSeconds <= 0 {
		c.Payment.TimeoutSeconds = 15
	}
	if c.Payment.SignatureTolerance <= 0 {
		c.Payment.SignatureTolerance = 300
	}
	if c.Ticketing.TimeoutSeconds <= 0 {
		c.Ticketing.TimeoutSeconds = 30
	}
	if c.FlightSearch.TimeoutSeconds <= 0 {
		c.FlightSearch.TimeoutSeconds = 10
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "airticket-auth"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate rejects configurations that would let the service start without
// the secrets it needs to authenticate providers and callers.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Payment.WebhookSecret == "" {
		return errors.New("payment.webhook_secret is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
