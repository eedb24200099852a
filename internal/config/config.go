package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"custody-vault/internal/validation"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	LogLevel   string
	LogFormat  string
	MaxRetries int
	RetryDelay time.Duration
	HTTP       HTTPConfig
	Ethereum   ChainConfig
	Vault      VaultConfig
	Kafka      KafkaConfig
	Ledger     LedgerConfig
	Database   DatabaseConfig
}

// HTTPConfig holds the API server and outbound HTTP client configuration
type HTTPConfig struct {
	ListenAddr string
	Timeout    time.Duration
}

// ChainConfig holds configuration for the watched EVM chain
type ChainConfig struct {
	RpcEndpoint         string
	ApiKey              string
	RateLimit           float64
	PollInterval        time.Duration
	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration
	Confirmations       uint64
	StartBlock          uint64
}

// VaultConfig holds the custody parameters
type VaultConfig struct {
	SigningKey       string
	PriceFeed        string
	MaxPriceAge      time.Duration
	WithdrawLimitUSD string
	DepositCapUSD    string
	Tokens           []string
	Admins           []string
	AccessControl    string
	JournalSize      int
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	Topic        string
	MaxAttempts  int
	BatchTimeout time.Duration
}

// LedgerConfig selects the ledger store
type LedgerConfig struct {
	Store string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// A missing .env file is fine, variables may be set externally
	_ = godotenv.Load()

	config := &Config{
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "console"),
		MaxRetries: getEnvAsInt("MAX_RETRIES", 3),
		RetryDelay: getEnvAsDuration("RETRY_DELAY", time.Second),
		HTTP: HTTPConfig{
			ListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
			Timeout:    getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),
		},
		Ethereum: ChainConfig{
			RpcEndpoint:         getEnv("ETHEREUM_RPC_ENDPOINT", "http://localhost:8545"),
			ApiKey:              getEnv("ETHEREUM_API_KEY", ""),
			RateLimit:           getEnvAsFloat("ETHEREUM_RATE_LIMIT", 4),
			PollInterval:        getEnvAsDuration("ETHEREUM_POLL_INTERVAL", 10*time.Second),
			ReceiptPollInterval: getEnvAsDuration("ETHEREUM_RECEIPT_POLL_INTERVAL", 2*time.Second),
			ReceiptTimeout:      getEnvAsDuration("ETHEREUM_RECEIPT_TIMEOUT", 2*time.Minute),
			Confirmations:       uint64(getEnvAsInt("ETHEREUM_CONFIRMATIONS", 2)),
			StartBlock:          uint64(getEnvAsInt("ETHEREUM_START_BLOCK", 0)),
		},
		Vault: VaultConfig{
			SigningKey:       getEnv("VAULT_SIGNING_KEY", ""),
			PriceFeed:        getEnv("VAULT_PRICE_FEED", ""),
			MaxPriceAge:      getEnvAsDuration("VAULT_MAX_PRICE_AGE", time.Hour),
			WithdrawLimitUSD: getEnv("VAULT_WITHDRAW_LIMIT_USD", "1000"),
			DepositCapUSD:    getEnv("VAULT_DEPOSIT_CAP_USD", "5000"),
			Tokens:           getEnvAsList("VAULT_TOKENS"),
			Admins:           getEnvAsList("VAULT_ADMINS"),
			AccessControl:    getEnv("VAULT_ACCESS_CONTROL", ""),
			JournalSize:      getEnvAsInt("VAULT_JOURNAL_SIZE", 10000),
		},
		Kafka: KafkaConfig{
			Enabled:      getEnvAsBool("KAFKA_ENABLED", false),
			Brokers:      getEnvAsListOr("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:        getEnv("KAFKA_TOPIC", "vault-events"),
			MaxAttempts:  getEnvAsInt("KAFKA_MAX_ATTEMPTS", 10),
			BatchTimeout: getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 10*time.Millisecond),
		},
		Ledger: LedgerConfig{
			Store: getEnv("LEDGER_STORE", StoreMemory),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "custody_vault"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration is complete and consistent
func (c *Config) Validate() error {
	var errs []error

	if err := validation.ValidateURL(c.Ethereum.RpcEndpoint); err != nil {
		errs = append(errs, fmt.Errorf("ETHEREUM_RPC_ENDPOINT: %w", err))
	}
	if c.Ethereum.RateLimit <= 0 {
		errs = append(errs, errors.New("ETHEREUM_RATE_LIMIT must be positive"))
	}
	if c.Vault.SigningKey == "" {
		errs = append(errs, errors.New("VAULT_SIGNING_KEY is required"))
	}
	if _, err := validation.ParseAddress(c.Vault.PriceFeed); err != nil {
		errs = append(errs, fmt.Errorf("VAULT_PRICE_FEED: %w", err))
	}
	if _, err := validation.ParseUSD(c.Vault.WithdrawLimitUSD); err != nil {
		errs = append(errs, fmt.Errorf("VAULT_WITHDRAW_LIMIT_USD: %w", err))
	}
	if _, err := validation.ParseUSD(c.Vault.DepositCapUSD); err != nil {
		errs = append(errs, fmt.Errorf("VAULT_DEPOSIT_CAP_USD: %w", err))
	}
	for _, token := range c.Vault.Tokens {
		if _, err := validation.ParseAddress(token); err != nil {
			errs = append(errs, fmt.Errorf("VAULT_TOKENS %q: %w", token, err))
		}
	}
	for _, admin := range c.Vault.Admins {
		if _, err := validation.ParseAddress(admin); err != nil {
			errs = append(errs, fmt.Errorf("VAULT_ADMINS %q: %w", admin, err))
		}
	}
	if c.Vault.AccessControl != "" {
		if _, err := validation.ParseAddress(c.Vault.AccessControl); err != nil {
			errs = append(errs, fmt.Errorf("VAULT_ACCESS_CONTROL: %w", err))
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required when Kafka is enabled"))
	}
	switch c.Ledger.Store {
	case StoreMemory, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("LEDGER_STORE must be %q or %q", StoreMemory, StorePostgres))
	}

	return errors.Join(errs...)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string) []string {
	return getEnvAsListOr(key, nil)
}

func getEnvAsListOr(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
