// Package config loads runtime settings from an optional .env file and
// MICROLOAN_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr            string
	DatabasePath        string
	RedisAddr           string // Empty means locks are held in-process
	RedisPassword       string
	RedisDB             int
	LockTTL             time.Duration
	UpcomingDueDays     int
	RecentPaymentsLimit int
	LogLevel            slog.Level
}

// Load reads the given .env files (default ".env"; missing files are ignored)
// and then resolves every key from the environment with defaults applied.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			slog.Debug("env file not loaded", "file", f, "error", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("MICROLOAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.path", "microloan.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("dashboard.upcoming_days", 7)
	v.SetDefault("dashboard.recent_payments", 5)
	v.SetDefault("log.level", "info")

	cfg := &Config{
		HTTPAddr:            v.GetString("http.addr"),
		DatabasePath:        v.GetString("database.path"),
		RedisAddr:           v.GetString("redis.addr"),
		RedisPassword:       v.GetString("redis.password"),
		RedisDB:             v.GetInt("redis.db"),
		LockTTL:             v.GetDuration("lock.ttl"),
		UpcomingDueDays:     v.GetInt("dashboard.upcoming_days"),
		RecentPaymentsLimit: v.GetInt("dashboard.recent_payments"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", v.GetString("log.level"), err)
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %s", cfg.LockTTL)
	}
	if cfg.UpcomingDueDays < 0 {
		return nil, fmt.Errorf("upcoming due days must not be negative, got %d", cfg.UpcomingDueDays)
	}
	return cfg, nil
}
