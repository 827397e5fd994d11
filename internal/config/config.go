package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"dotbeacon/internal/database"
	"dotbeacon/internal/network"
	"dotbeacon/internal/pairing"
	"dotbeacon/internal/protocol"
)

// DefaultEnvPrefix is the default prefix for environment variables
const (
	DefaultEnvPrefix = "DOTBEACON_"
	MinPort          = 1024
	MaxPort          = 65535
	DefaultPort      = 8080
)

// Session store kinds
const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config represents the service configuration
type Config struct {
	// HTTP API
	Host string
	Port uint16

	// Logging
	LogLevel  string
	LogFormat string

	// Networks
	NetworksFile   string
	DefaultNetwork string

	// Chain client
	DialTimeout      time.Duration
	VerifySignatures bool
	WaitFinalized    bool

	// Pairing relay
	NATSURL          string
	SubjectPrefix    string
	PairingChannel   string
	RequestTimeout   time.Duration
	MinWalletVersion string

	// dApp identity sent with permission requests
	AppName    string
	AppIconURL string
	AppURL     string

	// Session store
	Store      string
	SessionKey string
	BadgerDir  string
	Redis      database.RedisConfig
	Database   DatabaseConfig

	// Local accounts
	KeyDir      string
	DevAccounts []string

	// Recipient prefilled in the transfer form
	Recipient string

	// Transfer endpoint rate limit, in requests per second
	TransferRate  float64
	TransferBurst int

	// Dev wallet
	WalletURI         string
	WalletAutoApprove bool
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host        string
	Port        uint16
	User        string
	Password    string
	Database    string
	MaxConns    int
	MaxIdleTime time.Duration
	HealthCheck time.Duration
	SSLMode     string
}

// DefaultDatabaseConfig returns the default database configuration
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:        "localhost",
		Port:        5432,
		User:        "postgres",
		Password:    "postgres",
		Database:    "dotbeacon",
		MaxConns:    10,
		MaxIdleTime: time.Minute * 3,
		HealthCheck: time.Second * 5,
		SSLMode:     "disable",
	}
}

// Default returns a configuration that runs locally with an in-memory store
func Default() *Config {
	return &Config{
		Host:             "0.0.0.0",
		Port:             DefaultPort,
		LogLevel:         "info",
		LogFormat:        "text",
		DefaultNetwork:   "westend",
		DialTimeout:      30 * time.Second,
		NATSURL:          "nats://127.0.0.1:4222",
		SubjectPrefix:    pairing.DefaultSubjectPrefix,
		PairingChannel:   "default",
		RequestTimeout:   pairing.DefaultRequestTimeout,
		MinWalletVersion: protocol.MinCompatibleVersion,
		AppName:          "dotbeacon",
		Store:            StoreMemory,
		SessionKey:       database.DefaultSessionKey,
		BadgerDir:        "data/session",
		Redis:            database.RedisConfig{Address: "localhost:6379"},
		Database:         DefaultDatabaseConfig(),
		TransferRate:     1,
		TransferBurst:    3,
		WalletURI:        "//Alice",
	}
}

// ListenAddr is the address the HTTP API binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PairingSubject is the relay subject dApp and wallet meet on
func (c *Config) PairingSubject() string {
	return pairing.Subject(c.SubjectPrefix, c.PairingChannel)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if err := OneOf("text", "json")(c.LogFormat); err != nil {
		return fmt.Errorf("invalid log format: %w", err)
	}
	if c.DefaultNetwork == "" {
		return fmt.Errorf("default network is required")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if err := ValidateURL(c.NATSURL); err != nil {
		return fmt.Errorf("invalid NATS URL: %w", err)
	}
	if c.PairingChannel == "" || strings.ContainsAny(c.PairingChannel, " *>") {
		return fmt.Errorf("pairing channel must be a single subject token")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if _, err := protocol.IsCompatible(c.MinWalletVersion, c.MinWalletVersion); err != nil {
		return fmt.Errorf("invalid minimum wallet version: %w", err)
	}
	if c.AppName == "" {
		return fmt.Errorf("app name is required")
	}
	if c.SessionKey == "" {
		return fmt.Errorf("session key is required")
	}

	switch c.Store {
	case StoreMemory:
	case StoreBadger:
		if c.BadgerDir == "" {
			return fmt.Errorf("badger directory is required")
		}
	case StoreRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
		if c.Redis.TTL < 0 {
			return fmt.Errorf("redis TTL must not be negative")
		}
	case StorePostgres:
		dbCfg := c.Database.ToDBConfig()
		if err := dbCfg.Validate(); err != nil {
			return fmt.Errorf("invalid database config: %w", err)
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Store)
	}

	if c.Recipient != "" {
		if err := ValidateSS58Address(c.Recipient); err != nil {
			return fmt.Errorf("invalid recipient: %w", err)
		}
	}
	if c.KeyDir != "" {
		if info, err := os.Stat(c.KeyDir); err != nil || !info.IsDir() {
			return fmt.Errorf("key directory %s does not exist", c.KeyDir)
		}
	}
	if c.TransferRate <= 0 {
		return fmt.Errorf("transfer rate must be positive")
	}
	if c.TransferBurst < 1 {
		return fmt.Errorf("transfer burst must be at least 1")
	}
	return nil
}

// ValidateWallet checks the settings the dev wallet needs on top of Validate
func (c *Config) ValidateWallet() error {
	if err := ValidateNotEmpty(c.WalletURI); err != nil {
		return fmt.Errorf("wallet URI: %w", err)
	}
	return nil
}

// Networks builds the network registry from the defaults and the networks file
func (c *Config) Networks() (*network.Registry, error) {
	registry, err := network.NewRegistry(network.Defaults()...)
	if err != nil {
		return nil, err
	}
	if c.NetworksFile != "" {
		networks, err := network.LoadFile(c.NetworksFile)
		if err != nil {
			return nil, err
		}
		if err := registry.Merge(networks); err != nil {
			return nil, err
		}
	}
	if n, ok := registry.Find(c.DefaultNetwork); !ok || n.Disabled {
		return nil, fmt.Errorf("default network %q is not available", c.DefaultNetwork)
	}
	return registry, nil
}

// Logger builds a logger with the configured level and format
func (c *Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// Load loads configuration from a .env file, if present, and environment variables
func Load(envFiles ...string) (*Config, error) {
	// a missing .env file is fine
	_ = godotenv.Load(envFiles...)

	loader := NewEnvLoader(DefaultEnvPrefix)
	loader.LoadAll()
	return FromEnv(loader)
}

// FromEnv reads the configuration from loader on top of Default
func FromEnv(loader *EnvLoader) (*Config, error) {
	cfg := Default()
	var err error

	cfg.Host = loader.GetString("HOST", cfg.Host)
	if cfg.Port, err = loader.GetPort("PORT", cfg.Port); err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}

	cfg.LogLevel = loader.GetString("LOG_LEVEL", cfg.LogLevel)
	if cfg.LogFormat, err = loader.GetStringValidated("LOG_FORMAT", cfg.LogFormat, OneOf("text", "json")); err != nil {
		return nil, err
	}

	cfg.NetworksFile = loader.GetString("NETWORKS_FILE", "")
	cfg.DefaultNetwork = loader.GetString("NETWORK", cfg.DefaultNetwork)
	if cfg.DialTimeout, err = loader.GetDuration("DIAL_TIMEOUT", cfg.DialTimeout); err != nil {
		return nil, fmt.Errorf("invalid dial timeout: %w", err)
	}
	cfg.VerifySignatures = loader.GetBool("VERIFY_SIGNATURES", cfg.VerifySignatures)
	cfg.WaitFinalized = loader.GetBool("WAIT_FINALIZED", cfg.WaitFinalized)

	if cfg.NATSURL, err = loader.GetStringValidated("NATS_URL", cfg.NATSURL, ValidateURL); err != nil {
		return nil, err
	}
	cfg.SubjectPrefix = loader.GetString("SUBJECT_PREFIX", cfg.SubjectPrefix)
	cfg.PairingChannel = loader.GetString("PAIRING_CHANNEL", cfg.PairingChannel)
	if cfg.RequestTimeout, err = loader.GetDuration("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, fmt.Errorf("invalid request timeout: %w", err)
	}
	cfg.MinWalletVersion = loader.GetString("MIN_WALLET_VERSION", cfg.MinWalletVersion)

	cfg.AppName = loader.GetString("APP_NAME", cfg.AppName)
	cfg.AppIconURL = loader.GetString("APP_ICON_URL", "")
	cfg.AppURL = loader.GetString("APP_URL", "")

	if cfg.Store, err = loader.GetStringValidated("STORE", cfg.Store, OneOf(StoreMemory, StoreBadger, StoreRedis, StorePostgres)); err != nil {
		return nil, err
	}
	cfg.SessionKey = loader.GetString("SESSION_KEY", cfg.SessionKey)
	cfg.BadgerDir = loader.GetString("BADGER_DIR", cfg.BadgerDir)

	cfg.Redis.Address = loader.GetString("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = loader.GetString("REDIS_PASSWORD", "")
	if cfg.Redis.DB, err = loader.GetInt("REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("invalid redis db: %w", err)
	}
	if cfg.Redis.TTL, err = loader.GetDuration("REDIS_TTL", 0); err != nil {
		return nil, fmt.Errorf("invalid redis TTL: %w", err)
	}

	db := &cfg.Database
	db.Host = loader.GetString("DB_HOST", db.Host)
	if db.Port, err = loader.GetPort("DB_PORT", db.Port); err != nil {
		return nil, fmt.Errorf("invalid database port: %w", err)
	}
	db.User = loader.GetString("DB_USER", db.User)
	db.Password = loader.GetString("DB_PASSWORD", db.Password)
	db.Database = loader.GetString("DB_NAME", db.Database)
	db.SSLMode = loader.GetString("DB_SSLMODE", db.SSLMode)
	if db.MaxConns, err = loader.GetInt("DB_MAX_CONNS", db.MaxConns); err != nil {
		return nil, fmt.Errorf("invalid database max conns: %w", err)
	}

	cfg.Recipient = loader.GetString("RECIPIENT", "")
	cfg.KeyDir = loader.GetString("KEY_DIR", "")
	cfg.DevAccounts = loader.GetStrings("DEV_ACCOUNTS", nil)

	if cfg.TransferRate, err = loader.GetFloat64("TRANSFER_RATE", cfg.TransferRate); err != nil {
		return nil, fmt.Errorf("invalid transfer rate: %w", err)
	}
	if cfg.TransferBurst, err = loader.GetInt("TRANSFER_BURST", cfg.TransferBurst); err != nil {
		return nil, fmt.Errorf("invalid transfer burst: %w", err)
	}

	cfg.WalletURI = loader.GetString("WALLET_URI", cfg.WalletURI)
	cfg.WalletAutoApprove = loader.GetBool("WALLET_AUTO_APPROVE", cfg.WalletAutoApprove)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ToDBConfig converts to the database package configuration
func (c *DatabaseConfig) ToDBConfig() database.Config {
	return database.Config{
		Host:        c.Host,
		Port:        int(c.Port),
		User:        c.User,
		Password:    c.Password,
		Database:    c.Database,
		MaxConns:    int32(c.MaxConns),
		MaxIdleTime: c.MaxIdleTime,
		HealthCheck: c.HealthCheck,
		SSLMode:     c.SSLMode,
	}
}
