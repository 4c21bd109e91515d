package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.UsesMemoryStore())
	require.False(t, cfg.IsProduction())
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 30*24*time.Hour, cfg.WarrantyScanWindow)
	require.Equal(t, 120, cfg.RateLimitPerMin)
	require.Equal(t, "owner", cfg.SeedOwnerUsername)
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		return Config{JWTSecret: "s3cret", JWTTTL: time.Hour, StoreDriver: StoreDriverPostgres, RateLimitPerMin: 10}
	}
	require.NoError(t, (&Config{JWTSecret: "s3cret", JWTTTL: time.Hour, StoreDriver: StoreDriverMemory, RateLimitPerMin: 1}).Validate())

	cases := map[string]func(*Config){
		"missing secret":    func(c *Config) { c.JWTSecret = "" },
		"short prod secret": func(c *Config) { c.AppEnv = "production" },
		"unknown driver":    func(c *Config) { c.StoreDriver = "mongo" },
		"zero ttl":          func(c *Config) { c.JWTTTL = 0 },
		"zero rate limit":   func(c *Config) { c.RateLimitPerMin = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			require.NoError(t, cfg.Validate())
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
