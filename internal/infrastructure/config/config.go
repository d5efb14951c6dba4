package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Supabase SupabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Dunning  DunningConfig
	Email    EmailConfig
	Worker   WorkerConfig
	Sentry   SentryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// SupabaseConfig holds the PostgREST endpoint used when no DATABASE_URL is set
type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
}

// Enabled reports whether both the URL and the service-role key are present
func (c SupabaseConfig) Enabled() bool {
	return c.URL != "" && c.ServiceRoleKey != ""
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
	Issuer string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL          string
	Password     string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// Enabled reports whether a Redis URL was given
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// DunningConfig holds the dunning engine settings
type DunningConfig struct {
	SiteURL           string
	BatchSize         int
	CallTimeout       time.Duration
	LeaseTTL          time.Duration
	Schedule          string
	EmbeddedScheduler bool
	AdminToken        string
	RunRateLimit      int
}

// EmailConfig holds the transactional email provider settings
type EmailConfig struct {
	ResendAPIKey string
	ResendURL    string
	From         string
	Timeout      time.Duration
	// Queue hands notices to the asynq worker instead of sending them inline
	Queue bool
}

// WorkerConfig holds asynq worker settings
type WorkerConfig struct {
	Concurrency int
	MetricsPort int
}

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")

	if err := v.ReadInConfig(); err != nil {
		// .env file is optional for production (env vars are used)
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds the configuration from an already populated viper instance.
// Environment variables always win over file values.
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetInt("server_port"),
			ReadTimeout:     v.GetDuration("server_read_timeout"),
			WriteTimeout:    v.GetDuration("server_write_timeout"),
			ShutdownTimeout: v.GetDuration("server_shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database_url"),
			ApplicationName: v.GetString("database_application_name"),
			MaxConnections:  v.GetInt("database_max_connections"),
			MinConnections:  v.GetInt("database_min_connections"),
			MaxLifetime:     v.GetDuration("database_max_lifetime"),
			MaxIdleTime:     v.GetDuration("database_max_idle_time"),
			HealthCheck:     v.GetDuration("database_health_check"),
		},
		Supabase: SupabaseConfig{
			URL:            strings.TrimRight(v.GetString("supabase_url"), "/"),
			ServiceRoleKey: v.GetString("supabase_service_role_key"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis_url"),
			Password:     v.GetString("redis_password"),
			PoolSize:     v.GetInt("redis_pool_size"),
			MinIdleConns: v.GetInt("redis_min_idle_conns"),
			DialTimeout:  v.GetDuration("redis_dial_timeout"),
			ReadTimeout:  v.GetDuration("redis_read_timeout"),
			WriteTimeout: v.GetDuration("redis_write_timeout"),
			PoolTimeout:  v.GetDuration("redis_pool_timeout"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt_secret"),
			Issuer: v.GetString("jwt_issuer"),
		},
		Dunning: DunningConfig{
			SiteURL:           v.GetString("dunning_site_url"),
			BatchSize:         v.GetInt("dunning_batch_size"),
			CallTimeout:       v.GetDuration("dunning_call_timeout"),
			LeaseTTL:          v.GetDuration("dunning_lease_ttl"),
			Schedule:          v.GetString("dunning_schedule"),
			EmbeddedScheduler: v.GetBool("dunning_embedded_scheduler"),
			AdminToken:        v.GetString("dunning_admin_token"),
			RunRateLimit:      v.GetInt("dunning_run_rate_limit"),
		},
		Email: EmailConfig{
			ResendAPIKey: v.GetString("email_resend_api_key"),
			ResendURL:    v.GetString("email_resend_url"),
			From:         v.GetString("email_from"),
			Timeout:      v.GetDuration("email_timeout"),
			Queue:        v.GetBool("email_queue"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker_concurrency"),
			MetricsPort: v.GetInt("worker_metrics_port"),
		},
		Sentry: SentryConfig{
			DSN:         v.GetString("sentry_dsn"),
			Environment: v.GetString("sentry_environment"),
			Release:     v.GetString("sentry_release"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server_port", 8080)
	v.SetDefault("server_read_timeout", 10*time.Second)
	v.SetDefault("server_write_timeout", 60*time.Second)
	v.SetDefault("server_shutdown_timeout", 30*time.Second)

	// Database defaults
	db := DefaultDatabaseConfig()
	v.SetDefault("database_application_name", db.ApplicationName)
	v.SetDefault("database_max_connections", db.MaxConnections)
	v.SetDefault("database_min_connections", db.MinConnections)
	v.SetDefault("database_max_lifetime", db.MaxLifetime)
	v.SetDefault("database_max_idle_time", db.MaxIdleTime)
	v.SetDefault("database_health_check", db.HealthCheck)

	// JWT defaults
	v.SetDefault("jwt_issuer", "sofia-billing")

	// Redis defaults
	v.SetDefault("redis_pool_size", 10)
	v.SetDefault("redis_min_idle_conns", 3)
	v.SetDefault("redis_dial_timeout", 5*time.Second)
	v.SetDefault("redis_read_timeout", 3*time.Second)
	v.SetDefault("redis_write_timeout", 3*time.Second)
	v.SetDefault("redis_pool_timeout", 4*time.Second)

	// Dunning defaults
	v.SetDefault("dunning_site_url", "http://localhost:3000")
	v.SetDefault("dunning_batch_size", 500)
	v.SetDefault("dunning_call_timeout", 10*time.Second)
	v.SetDefault("dunning_lease_ttl", 15*time.Minute)
	v.SetDefault("dunning_schedule", "0 * * * *")
	v.SetDefault("dunning_embedded_scheduler", false)
	v.SetDefault("dunning_run_rate_limit", 10)

	// Email defaults
	v.SetDefault("email_resend_url", "https://api.resend.com")
	v.SetDefault("email_from", "SOFIA <cobranca@sofia.app>")
	v.SetDefault("email_timeout", 10*time.Second)
	v.SetDefault("email_queue", false)

	v.SetDefault("worker_concurrency", 10)
	v.SetDefault("worker_metrics_port", 9091)
	v.SetDefault("sentry_environment", "production")
}

func validate(cfg *Config) error {
	if cfg.JWT.Secret != "" && len(cfg.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.Dunning.BatchSize <= 0 {
		return fmt.Errorf("DUNNING_BATCH_SIZE must be positive")
	}
	if cfg.Dunning.CallTimeout <= 0 {
		return fmt.Errorf("DUNNING_CALL_TIMEOUT must be positive")
	}
	if cfg.Dunning.LeaseTTL <= 0 {
		return fmt.Errorf("DUNNING_LEASE_TTL must be positive")
	}
	if cfg.Email.Queue && !cfg.Redis.Enabled() {
		return fmt.Errorf("EMAIL_QUEUE requires REDIS_URL")
	}
	if _, err := cron.ParseStandard(cfg.Dunning.Schedule); err != nil {
		return fmt.Errorf("DUNNING_SCHEDULE is not a valid cron expression: %w", err)
	}
	return nil
}
