package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/notify"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabasePath   string
	MigrationsPath string
	ServerPort     int
	JWTSecret      string
	AdmissionMode  string

	SessionLifetime    time.Duration
	CORSAllowedOrigins []string

	SMTP            notify.SMTPConfig
	NotifyWorkers   int
	NotifyQueueSize int
	NotifyTimeout   time.Duration
}

// Load reads configuration from the environment. A .env file in the working directory is
// loaded first when present; variables already set take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabasePath:       getEnvOrDefault("DATABASE_PATH", "op_tournament.db"),
		MigrationsPath:     getEnvOrDefault("MIGRATIONS_PATH", "file://migrations"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AdmissionMode:      getEnvOrDefault("ADMISSION_MODE", "pending-requests"),
		CORSAllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		SMTP: notify.SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     os.Getenv("SMTP_FROM"),
		},
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is not set")
	}

	var err error
	if cfg.ServerPort, err = intEnv("SERVER_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.ServerPort <= 0 || cfg.ServerPort > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", cfg.ServerPort)
	}
	if cfg.SMTP.Port, err = intEnv("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.NotifyWorkers, err = intEnv("NOTIFY_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.NotifyQueueSize, err = intEnv("NOTIFY_QUEUE_SIZE", 64); err != nil {
		return nil, err
	}
	if cfg.NotifyWorkers < 1 || cfg.NotifyQueueSize < 1 {
		return nil, fmt.Errorf("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be positive")
	}
	if cfg.SessionLifetime, err = durationEnv("SESSION_LIFETIME", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.NotifyTimeout, err = durationEnv("NOTIFY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	return cfg, nil
}

// SMTPEnabled reports whether notifications go out by email rather than to the log.
func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Host != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
