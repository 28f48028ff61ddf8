package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort   string
	DatabaseURL  string
	RedisAddr    string
	JWTSecret    string
	MasterKey    string
	Environment  string
	LogLevel     string
	LogDir       string
	FirewallFile string
	// KeyRotatedAt is the last master key rotation; zero means unknown.
	KeyRotatedAt time.Time
}

// Load reads the process configuration from an optional YAML file and the
// environment. SERVER_PORT overrides server.port and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("crypto.master_key", "")
	v.SetDefault("crypto.rotated_at", "")
	v.SetDefault("app.environment", "production")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "")
	v.SetDefault("firewall.file", "config/firewall.yaml")

	// A missing file is fine; environment and defaults still apply.
	if _, err := os.Stat(path); path != "" && err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		ServerPort:   v.GetString("server.port"),
		DatabaseURL:  v.GetString("database.url"),
		RedisAddr:    v.GetString("redis.addr"),
		JWTSecret:    v.GetString("auth.jwt_secret"),
		MasterKey:    v.GetString("crypto.master_key"),
		Environment:  v.GetString("app.environment"),
		LogLevel:     v.GetString("log.level"),
		LogDir:       v.GetString("log.dir"),
		FirewallFile: v.GetString("firewall.file"),
	}

	if raw := v.GetString("crypto.rotated_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("crypto.rotated_at: %w", err)
		}
		cfg.KeyRotatedAt = ts
	}

	if cfg.MasterKey == "" {
		return nil, errors.New("crypto.master_key (CRYPTO_MASTER_KEY) is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret (AUTH_JWT_SECRET) is required")
	}

	return cfg, nil
}
