package config

import (
	"time"
)

// DatabaseConfig holds the Postgres settings used when DATABASE_URL is set
type DatabaseConfig struct {
	URL             string
	ApplicationName string
	MaxConnections  int
	MinConnections  int
	MaxLifetime     time.Duration
	MaxIdleTime     time.Duration
	HealthCheck     time.Duration
}

// DefaultDatabaseConfig returns default database configuration.
// A dunning pass is sequential, so a small pool is enough.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		ApplicationName: "sofia-billing",
		MaxConnections:  10,
		MinConnections:  1,
		MaxLifetime:     1 * time.Hour,
		MaxIdleTime:     30 * time.Minute,
		HealthCheck:     30 * time.Second,
	}
}

// Enabled reports whether a Postgres URL was given
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}
