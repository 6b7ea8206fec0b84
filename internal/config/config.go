// Package config loads server settings from an optional TOML file and
// CRISISFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"crisisflow/internal/db"
	"crisisflow/internal/user"

	"github.com/spf13/viper"
)

const EnvPrefix = "crisisflow"

type Config struct {
	Addr            string        `mapstructure:"addr"`
	Debug           bool          `mapstructure:"debug"`
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	WS       WSConfig       `mapstructure:"ws"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Messages MessagesConfig `mapstructure:"messages"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig is optional: an empty Addr runs a single instance without
// the relay or the user cache.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Channel     string        `mapstructure:"channel"`
	CachePrefix string        `mapstructure:"cache_prefix"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	CookieName string        `mapstructure:"cookie_name"`
	// AccessCodes maps a sign-up code to the role name it grants.
	AccessCodes map[string]string `mapstructure:"access_codes"`
}

type WSConfig struct {
	MaxMessageSize int64    `mapstructure:"max_message_size"`
	SendBuffer     int      `mapstructure:"send_buffer"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type UploadsConfig struct {
	Dir string `mapstructure:"dir"`
}

type MessagesConfig struct {
	DefaultCount int `mapstructure:"default_count"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("debug", false)
	v.SetDefault("store_timeout", 5*time.Second)
	v.SetDefault("shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", db.DriverSQLite)
	v.SetDefault("database.dsn", "crisisflow.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.channel", "crisisflow:events")
	v.SetDefault("redis.cache_prefix", "crisisflow:")
	v.SetDefault("redis.cache_ttl", time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.cookie_name", "crisis_flow_session")
	v.SetDefault("auth.access_codes", map[string]string{})

	v.SetDefault("ws.max_message_size", 64<<10)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.allowed_origins", []string{})

	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("messages.default_count", 50)
}

// Load reads file when it is not empty, applies environment overrides and
// validates the result.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// allow env vars to override the config file
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	switch c.Database.Driver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of %s, %s", c.Database.Driver, db.DriverPostgres, db.DriverSQLite))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Messages.DefaultCount <= 0 {
		errs = append(errs, errors.New("messages.default_count must be positive"))
	}
	if _, err := c.Roles(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Roles resolves the configured access codes to roles.
func (c *Config) Roles() (map[string]user.Role, error) {
	roles := make(map[string]user.Role, len(c.Auth.AccessCodes))
	for code, name := range c.Auth.AccessCodes {
		role := user.ParseRole(strings.ToLower(strings.TrimSpace(name)))
		if role == 0 {
			return nil, fmt.Errorf("auth.access_codes: unknown role %q", name)
		}
		roles[code] = role
	}
	return roles, nil
}
