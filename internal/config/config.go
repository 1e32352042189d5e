// Package config loads the server configuration from the environment. A
// .env file in the working directory is read first when present; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Config is the server configuration.
type Config struct {
	Port            string
	DatabaseURL     string // empty runs on the in-memory store
	RedisURL        string // empty runs on the in-memory cache
	KafkaBrokers    []string
	KafkaTopic      string
	LogLevel        zapcore.Level
	HTTPTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("KAFKA_TOPIC", "item-exchange.notifications")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_TIMEOUT", "30s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "5s")

	level, err := zapcore.ParseLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	httpTimeout, err := duration(v, "HTTP_TIMEOUT")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := duration(v, "SHUTDOWN_TIMEOUT")
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:            v.GetString("PORT"),
		DatabaseURL:     v.GetString("DATABASE_URL"),
		RedisURL:        v.GetString("REDIS_URL"),
		KafkaBrokers:    splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:      v.GetString("KAFKA_TOPIC"),
		LogLevel:        level,
		HTTPTimeout:     httpTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
