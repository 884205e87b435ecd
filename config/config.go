package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
	StoreNone     = "none"
)

// Password modes. Legacy keeps plaintext passwords and shows reset keys in-app.
const (
	PasswordLegacy = "legacy"
	PasswordSecure = "secure"
)

// Config 从环境变量读取
type Config struct {
	Port string

	// StoreDriver is postgres, memory or none. Postgres without a host or
	// DATABASE_URL degrades to none.
	StoreDriver  string
	DatabaseURL  string
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string
	StoreTimeout time.Duration

	RedisAddr string
	RedisPwd  string

	WebOrigin string
	RPID      string
	RPOrigins []string

	// SessionTTL applies to sign-ins without "remember me"; RememberTTL to the rest.
	SessionTTL  time.Duration
	RememberTTL time.Duration

	PasswordMode  string
	SeedWhenEmpty bool

	// ReloadSchedule is a cron spec ("@every 5m"); empty disables periodic reloads.
	ReloadSchedule string

	GeminiAPIKey string
	GeminiModel  string

	GeocoderPrimaryURL  string
	GeocoderFallbackURL string
	GeocoderCacheTTL    time.Duration

	SMTP SMTPConfig

	LogFormat string
	LogLevel  string
}

type SMTPConfig struct {
	Host     string // SMTP_HOST, e.g. smtp.gmail.com
	Port     string // SMTP_PORT, e.g. 587
	Username string
	Password string
	From     string // falls back to Username
	AppName  string
}

// LoadEnv reads a .env file when one exists.
func LoadEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env", "err", err)
	}
}

func Load() Config {
	cfg := Config{
		Port: getEnv("PORT", "3001"),

		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBHost:       os.Getenv("DB_HOST"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBUser:       getEnv("DB_USER", "postgres"),
		DBPassword:   os.Getenv("DB_PASSWORD"),
		DBName:       getEnv("DB_NAME", "toolcustody"),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 5*time.Second),

		RedisAddr: getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPwd:  os.Getenv("REDIS_PASSWORD"),

		WebOrigin: getEnv("WEB_ORIGIN", "http://localhost:5173"),
		RPID:      getEnv("RP_ID", "localhost"),
		RPOrigins: splitCSV(getEnv("RP_ORIGINS", "http://localhost:5173")),

		SessionTTL:  getEnvDuration("SESSION_TTL", 12*time.Hour),
		RememberTTL: getEnvDuration("REMEMBER_TTL", 30*24*time.Hour),

		PasswordMode:  strings.ToLower(getEnv("PASSWORD_MODE", PasswordSecure)),
		SeedWhenEmpty: getEnvBool("SEED_WHEN_EMPTY", true),

		ReloadSchedule: getEnv("RELOAD_SCHEDULE", "@every 5m"),

		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		GeocoderPrimaryURL:  getEnv("GEOCODER_PRIMARY_URL", "https://nominatim.openstreetmap.org/search"),
		GeocoderFallbackURL: getEnv("GEOCODER_FALLBACK_URL", "https://photon.komoot.io/api/"),
		GeocoderCacheTTL:    getEnvDuration("GEOCODER_CACHE_TTL", 24*time.Hour),

		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			AppName:  getEnv("APP_NAME", "Tool Custody"),
		},

		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
	if cfg.StoreDriver == StorePostgres && cfg.DSN() == "" {
		cfg.StoreDriver = StoreNone
	}
	if cfg.PasswordMode != PasswordLegacy {
		cfg.PasswordMode = PasswordSecure
	}
	return cfg
}

// DSN returns the postgres connection string, or "" when no database is configured.
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost == "" {
		return ""
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort,
	)
}

// SecureCookies reports whether session cookies need the Secure attribute.
func (c Config) SecureCookies() bool { return strings.HasPrefix(c.WebOrigin, "https://") }

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "12h") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
