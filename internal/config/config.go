package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gelflistener/internal/broker"
	"gelflistener/internal/gelf"
)

// Config is resolved once at startup and shared read-only afterwards.
type Config struct {
	// Broker
	Broker     string `env:"KAFKA_BROKER" default:"localhost:9092"`
	BrokerKind string `env:"BROKER_KIND" default:"kafka"`
	Topic      string `env:"KAFKA_TOPIC" default:"gelf_messages"`

	// Listener
	ListenAddr string `env:"GELF_LISTEN_ADDR" default:"0.0.0.0:12201"`
	Protocol   string `env:"LISTENER_PROTO" default:"tcp"`
	HTTPPath   string `env:"HTTP_PATH" default:"/gelf"`

	// Pipeline
	MaxInFlight      int           `env:"MAX_IN_FLIGHT" default:"1024"`
	MaxFrameSize     int           `env:"MAX_FRAME_SIZE" default:"65536"`
	MaxMessageSize   int           `env:"MAX_MESSAGE_SIZE" default:"1048576"`
	AdmissionTimeout time.Duration `env:"ADMISSION_TIMEOUT" default:"1s"`
	DeliveryTimeout  time.Duration `env:"DELIVERY_TIMEOUT" default:"5s"`
	// PublishRetries allows one more attempt after a failed or timed out
	// publish. A timed out record may still be delivered by the broker
	// client later, so a retry can produce a duplicate with the same key:
	// delivery is at-least-once.
	PublishRetries   int           `env:"PUBLISH_RETRIES" default:"1"`
	ReadTimeout      time.Duration `env:"READ_TIMEOUT" default:"5m"`
	RateLimit        float64       `env:"RATE_LIMIT" default:"0"`
	RateBurst        int           `env:"RATE_BURST" default:"0"`

	// Process
	Verbose       bool   `env:"VERBOSE" default:"false"`
	Daemonize     bool   `env:"DAEMONIZE" default:"false"`
	LogPathPrefix string `env:"LOG_PATH_PREFIX" default:"/tmp"`
	MetricsListen string `env:"METRICS_LISTEN"`
	LogLevel      string `env:"LOG_LEVEL" default:"info"`
	LogFormat     string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig reads an optional .env file, then the environment. Values not
// set anywhere take their defaults.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(".env")
}

// LoadConfigFrom is LoadConfig with an explicit dotenv path.
func LoadConfigFrom(envFile string) (*Config, error) {
	if err := godotenv.Load(envFile); err != nil {
		// a missing .env is normal outside development
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		slog.Debug("dotenv_not_found", "path", envFile)
	}

	config := &Config{}

	// Broker
	loadEnvString(&config.Broker, "KAFKA_BROKER", "localhost:9092")
	loadEnvString(&config.BrokerKind, "BROKER_KIND", broker.KindKafka)
	loadEnvString(&config.Topic, "KAFKA_TOPIC", "gelf_messages")

	// Listener
	loadEnvString(&config.ListenAddr, "GELF_LISTEN_ADDR", "0.0.0.0:12201")
	loadEnvString(&config.Protocol, "LISTENER_PROTO", "tcp")
	loadEnvString(&config.HTTPPath, "HTTP_PATH", "/gelf")

	// Pipeline
	if err := loadEnvInt(&config.MaxInFlight, "MAX_IN_FLIGHT", 1024); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxFrameSize, "MAX_FRAME_SIZE", 64*1024); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxMessageSize, "MAX_MESSAGE_SIZE", 1024*1024); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.AdmissionTimeout, "ADMISSION_TIMEOUT", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.DeliveryTimeout, "DELIVERY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.PublishRetries, "PUBLISH_RETRIES", 1); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReadTimeout, "READ_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.RateLimit, "RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RateBurst, "RATE_BURST", 0); err != nil {
		return nil, err
	}

	// Process
	if err := loadEnvBool(&config.Verbose, "VERBOSE", false); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.Daemonize, "DAEMONIZE", false); err != nil {
		return nil, err
	}
	loadEnvString(&config.LogPathPrefix, "LOG_PATH_PREFIX", "/tmp")
	loadEnvString(&config.MetricsListen, "METRICS_LISTEN", "")
	loadEnvString(&config.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&config.LogFormat, "LOG_FORMAT", "text")

	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// MaxFrameLimit caps MAX_FRAME_SIZE and MAX_MESSAGE_SIZE; a frame is held
// in memory whole.
const MaxFrameLimit = gelf.MaxMessageSize

// Validate performs validation on the loaded configuration. The protocol
// is checked by the listener factory so that an unknown one exits with its
// own diagnostic.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Broker) == "" {
		errs = append(errs, "KAFKA_BROKER must not be empty")
	}
	if !broker.IsKind(c.BrokerKind) {
		errs = append(errs, fmt.Sprintf("BROKER_KIND must be one of: %s, %s, %s", broker.KindKafka, broker.KindRedis, broker.KindNATS))
	}
	if strings.TrimSpace(c.Topic) == "" {
		errs = append(errs, "KAFKA_TOPIC must not be empty")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, "GELF_LISTEN_ADDR must not be empty")
	}
	if !strings.HasPrefix(c.HTTPPath, "/") {
		errs = append(errs, "HTTP_PATH must start with /")
	}

	if c.MaxInFlight < 1 {
		errs = append(errs, "MAX_IN_FLIGHT must be positive")
	}
	if c.MaxFrameSize < 1 || c.MaxFrameSize > MaxFrameLimit {
		errs = append(errs, fmt.Sprintf("MAX_FRAME_SIZE must be between 1 and %d", MaxFrameLimit))
	}
	// zero falls back to the decoder default
	if c.MaxMessageSize < 0 || c.MaxMessageSize > MaxFrameLimit {
		errs = append(errs, fmt.Sprintf("MAX_MESSAGE_SIZE must be between 1 and %d", MaxFrameLimit))
	}
	if c.AdmissionTimeout < 0 {
		errs = append(errs, "ADMISSION_TIMEOUT may not be negative")
	}
	if c.DeliveryTimeout <= 0 {
		errs = append(errs, "DELIVERY_TIMEOUT must be positive")
	}
	if c.PublishRetries < 0 || c.PublishRetries > 1 {
		errs = append(errs, "PUBLISH_RETRIES must be 0 or 1")
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, "READ_TIMEOUT may not be negative")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, "RATE_LIMIT and RATE_BURST may not be negative")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Verbose always means debug.
func (c *Config) SlogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
