package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 9090
  base_url: https://shop.example.com/
database:
  host: db.internal
  dbname: shop
broker:
  url: amqp://user:pass@mq:5672/
security:
  jwt:
    secret: test-secret
`

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("file values and defaults", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", sampleConfig)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "db.internal", cfg.Database.Host)
		assert.Equal(t, 1, cfg.Broker.Prefetch)
		assert.Equal(t, 300*time.Second, cfg.Cache.ProductsTTL)
		assert.Equal(t, 600*time.Second, cfg.Cache.ProductTTL)
		assert.Equal(t, 0.21, cfg.Order.TaxRate)
		assert.Equal(t, "https://shop.example.com/api/orders/webhook", cfg.WebhookURL())
		assert.Same(t, cfg, GetConfig())
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", sampleConfig)
		t.Setenv("FULFILLMENT_DATABASE_HOST", "db.override")
		t.Setenv("FULFILLMENT_CACHE_PRODUCTS_TTL", "45s")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "db.override", cfg.Database.Host)
		assert.Equal(t, 45*time.Second, cfg.Cache.ProductsTTL)
	})

	t.Run("environment overlay file is merged", func(t *testing.T) {
		dir := t.TempDir()
		path := writeConfig(t, dir, "config.yaml", sampleConfig)
		writeConfig(t, dir, "config.staging.yaml", "order:\n  tax_rate: 0.1\n")
		t.Setenv("FULFILLMENT_ENV", "staging")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 0.1, cfg.Order.TaxRate)
		assert.Equal(t, "db.internal", cfg.Database.Host)
	})

	t.Run("missing jwt secret fails validation", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "config.yaml", "database:\n  host: db\n  dbname: shop\n")

		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "jwt secret")
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Database.Host = "db"
		cfg.Database.DBName = "shop"
		cfg.Security.JWT.Secret = "s"
		cfg.SetDefaults()
		return cfg
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.Order.TaxRate = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Broker.Prefetch = -1
	assert.Error(t, cfg.Validate())
}
