package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. FHENERGY_LEDGER_BACKEND.
const EnvPrefix = "FHENERGY"

// Ledger backends
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
	BackendRedis  = "redis"
)

type Config struct {
	Env            string           `mapstructure:"env"`
	Debug          bool             `mapstructure:"debug"`
	Port           string           `mapstructure:"port"`
	RateLimit      bool             `mapstructure:"rate_limit"`
	JWTSecret      string           `mapstructure:"jwt_secret"`
	InternalSecret string           `mapstructure:"internal_secret"`
	NetworkID      int64            `mapstructure:"network_id"`
	Ledger         LedgerConfig     `mapstructure:"ledger"`
	Session        SessionConfig    `mapstructure:"session"`
	Decryption     DecryptionConfig `mapstructure:"decryption"`
	Reconcile      ReconcileConfig  `mapstructure:"reconcile"`
	Metrics        MetricsConfig    `mapstructure:"metrics"`
	CORS           CORSConfig       `mapstructure:"cors"`
}

type LedgerConfig struct {
	Backend         string `mapstructure:"backend"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	PebbleDir       string `mapstructure:"pebble_dir"`
	RedisAddr       string `mapstructure:"redis_addr"`
	RedisPassword   string `mapstructure:"redis_password"`
	RedisDB         int    `mapstructure:"redis_db"`
	ContractAddress string `mapstructure:"contract_address"`
}

type SessionConfig struct {
	DurationDays int `mapstructure:"duration_days"`
}

// DecryptionConfig gates the hardening applied before ciphertexts are revealed.
type DecryptionConfig struct {
	VerifySignatures bool `mapstructure:"verify_signatures"`
	BindRecord       bool `mapstructure:"bind_record"`
	OwnerOnly        bool `mapstructure:"owner_only"`
}

type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// IsProduction reports whether the service runs with production settings
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("debug", false)
	v.SetDefault("port", "8080")
	v.SetDefault("rate_limit", true)
	v.SetDefault("jwt_secret", "fhenergy-secret-key")
	v.SetDefault("internal_secret", "fhenergy-internal-key")
	v.SetDefault("network_id", 11155111)
	v.SetDefault("ledger.backend", BackendMemory)
	v.SetDefault("ledger.sqlite_path", "fhenergy.db")
	v.SetDefault("ledger.pebble_dir", "fhenergy-ledger")
	v.SetDefault("ledger.redis_addr", "localhost:6379")
	v.SetDefault("ledger.redis_password", "")
	v.SetDefault("ledger.redis_db", 0)
	v.SetDefault("ledger.contract_address", "0x0000000000000000000000000000000000000000")
	v.SetDefault("session.duration_days", 30)
	v.SetDefault("decryption.verify_signatures", true)
	v.SetDefault("decryption.bind_record", false)
	v.SetDefault("decryption.owner_only", false)
	v.SetDefault("reconcile.interval", 5*time.Minute)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "fhenergy")
	v.SetDefault("cors.allowed_origins", []string{})
}

// Load reads configuration from defaults, an optional config file and
// FHENERGY_* environment variables, in increasing order of precedence.
// An empty path searches for config.yaml in the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later at startup
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendMemory, BackendSQLite, BackendPebble, BackendRedis:
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.JWTSecret == "" || c.InternalSecret == "" {
		return errors.New("jwt_secret and internal_secret must be set")
	}
	if c.JWTSecret == c.InternalSecret {
		return errors.New("jwt_secret and internal_secret must differ")
	}
	if c.Session.DurationDays <= 0 {
		return fmt.Errorf("session.duration_days must be positive, got %d", c.Session.DurationDays)
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive, got %s", c.Reconcile.Interval)
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return errors.New("metrics.namespace must be set when metrics are enabled")
	}
	return nil
}
