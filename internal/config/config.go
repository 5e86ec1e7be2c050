package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Kamar-Folarin/strava-sync/pkg/utils"
)

type Config struct {
	Port               string `validate:"required,numeric"`
	DBConnectionString string `validate:"required_unless=StoreBackend memory"`
	StoreBackend       string `validate:"oneof=postgres memory"`
	LogLevel           string `validate:"oneof=trace debug info warn warning error"`
	Strava             *StravaConfig
	Sync               *SyncConfig
	Webhook            WebhookConfig
	Events             EventsConfig
	Accounts           []AccountConfig `validate:"dive"`
}

// WebhookConfig holds push subscription settings
type WebhookConfig struct {
	VerifyToken    string        `validate:"required"`
	CoalesceWindow time.Duration `validate:"gt=0"`
}

// EventsConfig selects where ingestion events are published. With no brokers
// events are only logged.
type EventsConfig struct {
	KafkaBrokers []string
	Topic        string `validate:"required_with=KafkaBrokers"`
}

var validate = validator.New()

func Load() (*Config, error) {
	strava, err := loadStravaConfig()
	if err != nil {
		return nil, err
	}
	sync, err := loadSyncConfig()
	if err != nil {
		return nil, err
	}
	coalesce, err := getEnvDuration("WEBHOOK_COALESCE_WINDOW", 30*time.Second)
	if err != nil {
		return nil, err
	}
	accounts, err := loadAccounts(utils.SplitList(getEnv("TRACKED_ACCOUNTS", "")))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBConnectionString: getEnv("DB_CONNECTION_STRING", ""),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", "postgres")),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Strava:             strava,
		Sync:               sync,
		Webhook: WebhookConfig{
			VerifyToken:    getEnv("STRAVA_WEBHOOK_VERIFY_TOKEN", ""),
			CoalesceWindow: coalesce,
		},
		Events: EventsConfig{
			KafkaBrokers: utils.SplitList(getEnv("KAFKA_BROKERS", "")),
			Topic:        getEnv("KAFKA_TOPIC", "strava.activities"),
		},
		Accounts: accounts,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return validateAccounts(c.Accounts)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// getEnvDuration accepts Go duration strings or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
