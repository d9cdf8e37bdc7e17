// Package config provides application configuration management.
package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/oremus-labs/lookout-stream/internal/lookout"
)

// Config holds all application configuration.
type Config struct {
	// Lookout API
	AppKey           string
	APIBaseURL       string
	TokenPath        string
	StreamPath       string
	HTTPTimeout      time.Duration
	IdleTimeout      time.Duration
	TokenRefreshSkew time.Duration

	// Redis sinks
	RedisAddr        string
	RedisUsername    string
	RedisPassword    string
	RedisDB          int
	RedisTLSEnabled  bool
	RedisTLSInsecure bool
	EventsChannel    string
	RedisEventStream string

	// Event archive
	DataStoreDriver string
	DataStoreDSN    string

	// Status server + validation
	MetricsAddr     string
	EventSchemaPath string
}

// Load reads an optional .env file from the working directory and then builds
// the configuration from environment variables with defaults. Variables already
// set in the environment win over the file.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Ignoring unreadable .env file: %v", err)
	}
	return &Config{
		AppKey:           os.Getenv("LOOKOUT_APP_KEY"),
		APIBaseURL:       strings.TrimRight(getEnv("LOOKOUT_API_URL", "https://api.lookout.com"), "/"),
		TokenPath:        getEnv("LOOKOUT_TOKEN_PATH", "/oauth2/token"),
		StreamPath:       getEnv("LOOKOUT_STREAM_PATH", "/mra/stream/v2/events"),
		HTTPTimeout:      getEnvDuration("LOOKOUT_HTTP_TIMEOUT", 30*time.Second),
		IdleTimeout:      getEnvDuration("LOOKOUT_IDLE_TIMEOUT", 0),
		TokenRefreshSkew: getEnvDuration("LOOKOUT_TOKEN_REFRESH_SKEW", lookout.DefaultRefreshSkew),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisUsername:    getEnv("REDIS_USERNAME", ""),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisTLSEnabled:  getEnvBool("REDIS_TLS_ENABLED", false),
		RedisTLSInsecure: getEnvBool("REDIS_TLS_INSECURE_SKIP_VERIFY", false),
		EventsChannel:    getEnv("EVENTS_CHANNEL", "lookout-events"),
		RedisEventStream: getEnv("REDIS_EVENT_STREAM", "lookout:events"),
		DataStoreDriver:  getEnv("DATASTORE_DRIVER", "sqlite"),
		DataStoreDSN:     getEnv("DATASTORE_DSN", "lookout-events.db"),
		MetricsAddr:      getEnv("METRICS_ADDR", ""),
		EventSchemaPath:  getEnv("EVENT_SCHEMA_PATH", ""),
	}
}

// Validate reports missing settings required to reach the API.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppKey) == "" {
		return lookout.NewConfigError("LOOKOUT_APP_KEY not found in environment variables")
	}
	if c.APIBaseURL == "" {
		return lookout.NewConfigError("LOOKOUT_API_URL must not be empty")
	}
	return nil
}

// TokenURL is the OAuth2 token endpoint.
func (c *Config) TokenURL() string {
	return c.APIBaseURL + c.TokenPath
}

// StreamURL is the event feed endpoint.
func (c *Config) StreamURL() string {
	return c.APIBaseURL + c.StreamPath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %s, using default %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		log.Printf("Invalid int for %s: %s, using default %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		default:
			log.Printf("Invalid bool for %s: %s, using default %t", key, value, defaultValue)
		}
	}
	return defaultValue
}
