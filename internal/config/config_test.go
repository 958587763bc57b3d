package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10, cfg.RateLimitAuth)
	assert.Equal(t, []byte(testSecret), cfg.JWTSecret)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("RATE_LIMIT_AUTH", "3")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("STORE_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 3, cfg.RateLimitAuth)
	assert.True(t, cfg.TrustProxy)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout, "invalid values fall back to the default")
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestValidateRequiresURLForPostgres(t *testing.T) {
	cfg := &Config{
		JWTSecret:       []byte(testSecret),
		TokenTTL:        time.Hour,
		StoreTimeout:    time.Second,
		RateLimitWindow: time.Minute,
		RateLimitAuth:   1,
		RateLimitWrite:  1,
		RateLimitRead:   1,
		DatabaseType:    "postgres",
	}
	require.Error(t, cfg.Validate())

	cfg.DatabaseURL = "postgres://localhost/familytasks"
	require.NoError(t, cfg.Validate())
}
