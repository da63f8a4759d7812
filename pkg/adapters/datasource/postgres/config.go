// Package postgres implements the datasource adapters for PostgreSQL.
package postgres

import (
	"fmt"
	"net/url"

	"github.com/panelhub-io/panelhub-engine/pkg/models"
)

// Config contains PostgreSQL connection options for an external database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      bool
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// configFrom builds a Config from a stored connection and its decrypted
// secret.
func configFrom(conn *models.Connection, secret string) *Config {
	cfg := &Config{
		Host:     conn.Host,
		Port:     conn.Port,
		User:     conn.Username,
		Password: secret,
		Database: conn.Database,
		TLS:      conn.TLS,
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort()
	}
	return cfg
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields are URL-escaped so special characters in
// passwords (@, /, #, ?) cannot break URL parsing.
//
// The TLS flag maps to sslmode=require: the link is encrypted but the server
// certificate is not verified. This trade-off is deliberate and documented;
// verify-full would reject the self-signed certificates common on customer
// databases.
func buildConnectionString(cfg *Config) string {
	sslMode := "disable"
	if cfg.TLS {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
}
