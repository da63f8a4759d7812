// Package config loads panelhub-engine configuration from config.yaml with
// environment variable overrides. Secrets (database password, credential
// encryption key) come only from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for panelhub-engine.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8086"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Metadata database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Gateway settings for pooled access to registered external databases
	Gateway GatewayConfig `yaml:"gateway"`

	// Encryption key for stored connection secrets. 32 bytes base64 encoded
	// (openssl rand -base64 32), or any passphrase. Server refuses to start
	// without it.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are validated.
	// Set to false for local development without an identity provider.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSURL is the identity provider's JWKS endpoint for signature keys.
	JWKSURL string `yaml:"jwks_url" env:"AUTH_JWKS_URL" env-default:""`
}

// DatabaseConfig holds PostgreSQL metadata store configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"panelhub"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"panelhub"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// GatewayConfig holds pooled connectivity settings for registered connections.
type GatewayConfig struct {
	// PoolTTLMinutes is how long an idle pool for an external database is
	// kept before eviction.
	PoolTTLMinutes int `yaml:"pool_ttl_minutes" env:"GATEWAY_POOL_TTL_MINUTES" env-default:"5"`
	// PoolMaxConns is the maximum number of connections per external pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"GATEWAY_POOL_MAX_CONNS" env-default:"10"`
	// PoolMinConns is the minimum number of connections per external pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"GATEWAY_POOL_MIN_CONNS" env-default:"1"`
	// HealthTimeoutSeconds bounds connection tests.
	HealthTimeoutSeconds int `yaml:"health_timeout_seconds" env:"GATEWAY_HEALTH_TIMEOUT_SECONDS" env-default:"5"`
	// ConnectTimeoutSeconds bounds pool establishment for schema and query work.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"GATEWAY_CONNECT_TIMEOUT_SECONDS" env-default:"15"`
	// QueryTimeoutSeconds bounds ad hoc query and introspection execution.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"GATEWAY_QUERY_TIMEOUT_SECONDS" env-default:"30"`
}

// Load reads configuration from config.yaml with environment overrides. The
// version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if cfg.CredentialsKey == "" {
		return nil, fmt.Errorf("CREDENTIALS_KEY must be set")
	}

	return cfg, nil
}

// validateTLS ensures cert and key are provided together and exist on disk.
// Readability is checked by tls.LoadX509KeyPair at startup.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection string for the metadata
// store.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
