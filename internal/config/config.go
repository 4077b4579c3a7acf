package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"crm/internal/logger"
	"crm/internal/money"
)

type Config struct {
	// Ledger store
	LedgerStore string // memory, postgres
	LedgerFile  string // JSON snapshot used by the memory store
	DatabaseURL string

	// Money
	Currency           string
	CurrencyMinorUnits int

	// Change notifier
	Notifier         string // none, channel, kafka
	KafkaBrokers     []string
	KafkaTopicPrefix string
	NotifierBuffer   int

	// Reconciliation
	ReconcileWorkers int

	// Google Sheets import
	GoogleSheetURL string

	// Invoicing
	DefaultPaymentTermsDays int

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		LedgerStore:      strings.ToLower(getEnv("LEDGER_STORE", "memory")),
		LedgerFile:       getEnv("LEDGER_FILE", "ledger.json"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		Currency:         getEnv("CURRENCY", money.DefaultCurrency),
		Notifier:         strings.ToLower(getEnv("NOTIFIER", "none")),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC_PREFIX", "crm"),
		GoogleSheetURL:   getEnv("GOOGLE_SHEET_URL", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:    getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:        getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if config.CurrencyMinorUnits, err = getEnvInt("CURRENCY_MINOR_UNITS", 0); err != nil {
		return nil, err
	}
	if config.NotifierBuffer, err = getEnvInt("NOTIFIER_BUFFER", 256); err != nil {
		return nil, err
	}
	if config.ReconcileWorkers, err = getEnvInt("RECONCILE_WORKERS", 8); err != nil {
		return nil, err
	}
	if config.DefaultPaymentTermsDays, err = getEnvInt("DEFAULT_PAYMENT_TERMS_DAYS", 30); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	switch c.LedgerStore {
	case "memory":
		if c.LedgerFile == "" {
			return fmt.Errorf("LEDGER_FILE is required for the memory store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_STORE=postgres")
		}
	default:
		return fmt.Errorf("LEDGER_STORE must be memory or postgres, got %q", c.LedgerStore)
	}

	switch c.Notifier {
	case "none", "channel":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when NOTIFIER=kafka")
		}
	default:
		return fmt.Errorf("NOTIFIER must be none, channel or kafka, got %q", c.Notifier)
	}

	if c.NotifierBuffer < 1 {
		return fmt.Errorf("NOTIFIER_BUFFER must be positive")
	}
	if c.ReconcileWorkers < 1 {
		return fmt.Errorf("RECONCILE_WORKERS must be positive")
	}
	if c.DefaultPaymentTermsDays < 0 {
		return fmt.Errorf("DEFAULT_PAYMENT_TERMS_DAYS must not be negative")
	}
	if _, err := c.RoundingPolicy(); err != nil {
		return err
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// RoundingPolicy returns the money policy for the configured currency.
func (c *Config) RoundingPolicy() (money.Policy, error) {
	return money.NewPolicy(c.Currency, int32(c.CurrencyMinorUnits))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
