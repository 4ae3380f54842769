package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	AES           AESConfig           `mapstructure:"aes"`
	Log           LogConfig           `mapstructure:"log"`
	Security      SecurityConfig      `mapstructure:"security"`
	Custody       CustodyConfig       `mapstructure:"custody"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Events        EventsConfig        `mapstructure:"events"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// LockTimeout bounds the wait on the ledger state row lock; 0 waits forever.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key string `mapstructure:"key"` // 32-byte hex-encoded key for AES-256
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// SecurityConfig tunes HMAC request authentication.
type SecurityConfig struct {
	MaxTimestampDrift time.Duration `mapstructure:"max_timestamp_drift"`
	NonceTTL          time.Duration `mapstructure:"nonce_ttl"`
}

// CustodyConfig holds the bounds the ledger state is bootstrapped with on first migration,
// plus read-path tuning. Once the state row exists these are ignored; the authority changes
// them through the admin API.
type CustodyConfig struct {
	MinAmount       uint64        `mapstructure:"min_amount"`
	MaxAmount       uint64        `mapstructure:"max_amount"`
	FeeAmount       uint64        `mapstructure:"fee_amount"`
	PaymentCacheTTL time.Duration `mapstructure:"payment_cache_ttl"`
}

// CollaboratorsConfig points at the external verification and settlement services.
type CollaboratorsConfig struct {
	SessionRegistryURL string        `mapstructure:"session_registry_url"`
	PatientVerifierURL string        `mapstructure:"patient_verifier_url"`
	SettlementURL      string        `mapstructure:"settlement_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

type EventsConfig struct {
	Channel string `mapstructure:"channel"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CUS_.
// Nested keys use underscore: CUS_DATABASE_HOST, CUS_COLLABORATORS_SETTLEMENT_URL, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "custody")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("jwt.issuer", "custody-engine")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("security.max_timestamp_drift", "60s")
	v.SetDefault("security.nonce_ttl", "120s")
	v.SetDefault("custody.min_amount", 100)
	v.SetDefault("custody.max_amount", 1_000_000)
	v.SetDefault("custody.fee_amount", 0)
	v.SetDefault("custody.payment_cache_ttl", "1h")
	v.SetDefault("collaborators.session_registry_url", "http://localhost:8081")
	v.SetDefault("collaborators.patient_verifier_url", "http://localhost:8082")
	v.SetDefault("collaborators.settlement_url", "http://localhost:8083")
	v.SetDefault("collaborators.timeout", "5s")
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("events.channel", "custody.events")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CUS_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Custody.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the bootstrap bounds are usable.
func (c CustodyConfig) Validate() error {
	if c.MinAmount == 0 || c.MaxAmount == 0 {
		return fmt.Errorf("custody bounds must be positive: min=%d max=%d", c.MinAmount, c.MaxAmount)
	}
	if c.MinAmount > c.MaxAmount {
		return fmt.Errorf("custody min_amount %d exceeds max_amount %d", c.MinAmount, c.MaxAmount)
	}
	return nil
}
