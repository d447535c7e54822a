package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/ride")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("ADDR", "")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "ride-chat", cfg.RedisChannel)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.TrustClientIdentity)
	assert.Equal(t, 30*time.Second, cfg.AssistantTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/ride")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("RELAY_TRUST_CLIENT_IDENTITY", "true")
	t.Setenv("ASSISTANT_TIMEOUT", "5s")

	cfg, err := Load([]string{"-addr", ":9090"})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.True(t, cfg.TrustClientIdentity)
	assert.Equal(t, 5*time.Second, cfg.AssistantTimeout)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing dsn", env: map[string]string{"DB_DSN": "", "JWT_SECRET": "x"}},
		{name: "missing secret", env: map[string]string{"DB_DSN": "dsn", "JWT_SECRET": ""}},
		{name: "bad bool", env: map[string]string{"DB_DSN": "dsn", "JWT_SECRET": "x", "LOG_DEV": "maybe"}},
		{name: "bad duration", env: map[string]string{"DB_DSN": "dsn", "JWT_SECRET": "x", "ASSISTANT_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			assert.Error(t, err)
		})
	}
}
