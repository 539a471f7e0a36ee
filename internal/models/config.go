package models

import "time"

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig
	Storage     StorageConfig
	Formance    FormanceConfig
	Fx          FxConfig
	Mint        MintConfig
	Prime       PrimeConfig
	Idempotency IdempotencyConfig
	Events      EventsConfig
	Sweeper     SweeperConfig
	Server      ServerConfig
	LogLevel    string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// StorageConfig selects the backends for deposits and the ledger
type StorageConfig struct {
	DepositBackend string // memory | sqlite
	LedgerBackend  string // memory | sqlite | formance
}

// FormanceConfig holds Formance Stack connection settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// FxConfig holds FX partner and simulated rate settings
type FxConfig struct {
	PartnerBaseURL string
	ApiKey         string
	Timeout        time.Duration
	QuoteTTL       time.Duration
	RatesFile      string
}

// MintConfig holds mint provider settings
type MintConfig struct {
	Backend       string // circle | prime
	Simulate      bool
	ApiKey        string
	BaseURL       string
	Timeout       time.Duration
	PollAttempts  int
	PollInterval  time.Duration
	SimulateDelay time.Duration
	Treasury      map[Stablecoin]string
}

// PrimeConfig holds the Prime portfolio used as a treasury
type PrimeConfig struct {
	AccessKey    string
	Passphrase   string
	SigningKey   string
	PortfolioId  string
	UsdWalletId  string
	UsdcWalletId string
}

// IdempotencyConfig holds claim store settings
type IdempotencyConfig struct {
	Backend       string // memory | redis
	TTL           time.Duration
	MaxKeys       int
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// EventsConfig holds conversion event publishing settings
type EventsConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// SweeperConfig holds background sweeper settings
type SweeperConfig struct {
	Enabled         bool
	PollingInterval time.Duration
	PendingGrace    time.Duration
	RetryFailed     bool
	MaxAttempts     int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	CleanupInterval time.Duration
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}
