package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "FULFILLMENT"

var (
	// GlobalConfig holds the global configuration instance
	GlobalConfig *Config

	mu         sync.RWMutex
	activeView *viper.Viper
)

// LoadConfig loads configuration from .env, the config file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// config.<env>.yaml next to the base file overrides it
	if used := v.ConfigFileUsed(); used != "" {
		envFile := filepath.Join(filepath.Dir(used), fmt.Sprintf("config.%s.yaml", Env()))
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to merge %s: %w", envFile, err)
			}
			v.SetConfigFile(used)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	mu.Lock()
	GlobalConfig = cfg
	activeView = v
	mu.Unlock()

	return cfg, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
		v.AddConfigPath("/etc/fulfillment")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)
	return v
}

// bindEnvKeys registers the keys that are commonly supplied only through the
// environment, so Unmarshal sees them even without a config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.port", "server.mode", "server.base_url",
		"database.host", "database.port", "database.username", "database.password", "database.dbname", "database.auto_migrate",
		"redis.host", "redis.port", "redis.password", "redis.db",
		"broker.url", "broker.prefetch",
		"payment.access_token", "payment.currency_id", "payment.success_url", "payment.pending_url", "payment.failure_url", "payment.skip_preferences",
		"mail.host", "mail.port", "mail.username", "mail.password", "mail.from",
		"cache.products_ttl", "cache.product_ttl",
		"currency.base", "currency.display",
		"order.tax_rate",
		"reconcile.enabled", "reconcile.lease_key",
		"rate_limit.checkout.limit",
		"log.level", "log.format", "log.output", "log.filename",
		"tracing.enabled", "tracing.endpoint",
		"security.jwt.secret",
	} {
		_ = v.BindEnv(key)
	}
}

func loadDotEnv() error {
	for _, file := range []string{".env." + Env(), ".env"} {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// MustLoadConfig loads configuration and panics on error
func MustLoadConfig(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	return cfg
}

// GetConfig returns the global configuration instance
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if GlobalConfig == nil {
		panic("Config not loaded. Call LoadConfig first.")
	}
	return GlobalConfig
}

// WatchConfig reloads the configuration when the file changes and hands the new value to callback
func WatchConfig(callback func(*Config)) {
	mu.RLock()
	v := activeView
	mu.RUnlock()
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}

	path := v.ConfigFileUsed()
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := LoadConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config reload of %s failed: %v\n", e.Name, err)
			return
		}
		if callback != nil {
			callback(cfg)
		}
	})
	v.WatchConfig()
}

// Env returns the deployment environment name
func Env() string {
	if env := os.Getenv(envPrefix + "_ENV"); env != "" {
		return env
	}
	return "dev"
}

// IsProduction returns true if running in production mode
func IsProduction() bool {
	env := Env()
	return env == "prod" || env == "production"
}
