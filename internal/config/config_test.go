package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.ServerPort)
	assert.Equal(t, 10*time.Second, cfg.CoreAPITimeout)
	assert.Equal(t, BusNATS, cfg.BusDriver)
	assert.Equal(t, 10*time.Second, cfg.TypingTimeout)
	assert.False(t, cfg.AuthDevBypass)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yml")
	content := `
port: "4000"
core_api_url: http://core.internal:8080
core_api_timeout: 5s
bus_driver: redis
allowed_origins:
  - https://app.example.com
typing_timeout: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PORT", "5000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.ServerPort, "env overrides file")
	assert.Equal(t, "http://core.internal:8080", cfg.CoreAPIURL)
	assert.Equal(t, 5*time.Second, cfg.CoreAPITimeout)
	assert.Equal(t, BusRedis, cfg.BusDriver)
	assert.Equal(t, 3*time.Second, cfg.TypingTimeout)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "secret configured",
			mutate: func(c *Config) { c.JWTSecret = "s3cret" },
		},
		{
			name:    "no secret and no bypass",
			mutate:  func(c *Config) {},
			wantErr: true,
		},
		{
			name:   "bypass in development",
			mutate: func(c *Config) { c.AuthDevBypass = true },
		},
		{
			name: "bypass in production",
			mutate: func(c *Config) {
				c.AuthDevBypass = true
				c.Env = "production"
			},
			wantErr: true,
		},
		{
			name: "bad base64 secret",
			mutate: func(c *Config) {
				c.JWTSecret = "***"
				c.JWTSecretBase64 = true
			},
			wantErr: true,
		},
		{
			name: "unknown bus",
			mutate: func(c *Config) {
				c.JWTSecret = "s3cret"
				c.BusDriver = "kafka"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSigningKey(t *testing.T) {
	cfg := Default()
	cfg.JWTSecret = "c2VjcmV0"
	assert.Equal(t, []byte("c2VjcmV0"), cfg.SigningKey())

	cfg.JWTSecretBase64 = true
	assert.Equal(t, []byte("secret"), cfg.SigningKey())
}
