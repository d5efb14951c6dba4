package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofia-platform/billing/internal/infrastructure/config"
)

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:3000", cfg.Dunning.SiteURL)
	assert.Equal(t, 500, cfg.Dunning.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Dunning.CallTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Dunning.LeaseTTL)
	assert.Equal(t, "0 * * * *", cfg.Dunning.Schedule)
	assert.False(t, cfg.Dunning.EmbeddedScheduler)
	assert.Equal(t, 10, cfg.Database.MaxConnections)
	assert.Equal(t, "sofia-billing", cfg.Database.ApplicationName)

	assert.False(t, cfg.Database.Enabled())
	assert.False(t, cfg.Supabase.Enabled())
	assert.False(t, cfg.Redis.Enabled())
}

func TestFromViper_Environment(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co/")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-role")
	t.Setenv("DUNNING_SITE_URL", "https://sofia.app")
	t.Setenv("DUNNING_BATCH_SIZE", "50")
	t.Setenv("DUNNING_CALL_TIMEOUT", "3s")
	t.Setenv("DUNNING_EMBEDDED_SCHEDULER", "true")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "https://abc.supabase.co", cfg.Supabase.URL)
	assert.True(t, cfg.Supabase.Enabled())
	assert.Equal(t, "https://sofia.app", cfg.Dunning.SiteURL)
	assert.Equal(t, 50, cfg.Dunning.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Dunning.CallTimeout)
	assert.True(t, cfg.Dunning.EmbeddedScheduler)
}

func TestFromViper_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DATABASE_URL=postgres://localhost/sofia\nDUNNING_SCHEDULE=*/30 * * * *\n"), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	require.NoError(t, v.ReadInConfig())

	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, "*/30 * * * *", cfg.Dunning.Schedule)
}

func TestFromViper_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"short jwt secret", map[string]string{"JWT_SECRET": "too-short"}},
		{"bad schedule", map[string]string{"DUNNING_SCHEDULE": "every hour"}},
		{"zero batch size", map[string]string{"DUNNING_BATCH_SIZE": "0"}},
		{"negative timeout", map[string]string{"DUNNING_CALL_TIMEOUT": "-1s"}},
		{"queue without redis", map[string]string{"EMAIL_QUEUE": "true"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.FromViper(viper.New())
			assert.Error(t, err)
		})
	}
}
