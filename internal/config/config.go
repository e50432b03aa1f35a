package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	SessionRedis  = "redis"
	SessionMemory = "memory"
)

type Config struct {
	Port                string
	BaseURL             string
	StoreDriver         string
	MongoURL            string
	MongoDB             string
	DatabaseURL         string
	SessionDriver       string
	RedisURL            string
	LogFile             string
	LogMaxSizeMB        int
	LogMaxBackups       int
	NoEmailVerify       bool
	SessionTTL          time.Duration
	VerificationCodeTTL time.Duration
	StoreTimeout        time.Duration
	RequestTimeout      time.Duration
	BcryptCost          int
	Email               EmailConfig
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Secure   bool
}

func (e EmailConfig) Enabled() bool {
	return e.Host != "" && e.Port != 0 && e.From != ""
}

// SecureCookies reports whether the site is served over TLS.
func (c Config) SecureCookies() bool {
	u, err := url.Parse(c.BaseURL)
	return err == nil && u.Scheme == "https"
}

func Load() (Config, error) {
	clean := func(val string) string {
		return strings.Trim(val, "\"' \t\r\n")
	}

	cfg := Config{
		Port:                getenvDefault("PORT", "3000"),
		BaseURL:             getenvDefault("APP_BASE_URL", "http://localhost:3000"),
		StoreDriver:         strings.ToLower(getenvDefault("STORE_DRIVER", StoreMongo)),
		MongoURL:            os.Getenv("MONGO_URL"),
		MongoDB:             getenvDefault("MONGO_DB", "medibot_db"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SessionDriver:       strings.ToLower(getenvDefault("SESSION_DRIVER", SessionRedis)),
		RedisURL:            getenvDefault("REDIS_URL", "redis://localhost:6379"),
		LogFile:             getenvDefault("LOG_FILE", "logs/server.log"),
		LogMaxSizeMB:        parseInt(os.Getenv("LOG_MAX_SIZE_MB"), 10),
		LogMaxBackups:       parseInt(os.Getenv("LOG_MAX_BACKUPS"), 5),
		NoEmailVerify:       parseBool(os.Getenv("NO_EMAIL_VERIFY")),
		BcryptCost:          parseInt(os.Getenv("BCRYPT_COST"), 10),
		VerificationCodeTTL: 15 * time.Minute,
		SessionTTL:          24 * time.Hour,
		StoreTimeout:        5 * time.Second,
		RequestTimeout:      30 * time.Second,
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SESSION_TTL", &cfg.SessionTTL},
		{"VERIFICATION_CODE_TTL", &cfg.VerificationCodeTTL},
		{"STORE_TIMEOUT", &cfg.StoreTimeout},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
	}
	for _, d := range durations {
		raw := clean(os.Getenv(d.key))
		if raw == "" {
			continue
		}
		val, err := time.ParseDuration(raw)
		if err != nil || val <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive duration, got %q", d.key, raw)
		}
		*d.dst = val
	}

	cfg.Email = EmailConfig{
		Host:     clean(os.Getenv("EMAIL_SERVER_HOST")),
		Port:     parseInt(clean(os.Getenv("EMAIL_SERVER_PORT")), 587),
		Username: clean(os.Getenv("EMAIL_SERVER_USER")),
		Password: clean(os.Getenv("EMAIL_SERVER_PASSWORD")),
		From:     clean(os.Getenv("EMAIL_FROM")),
		Secure:   parseBool(os.Getenv("EMAIL_SERVER_SECURE")),
	}

	switch cfg.StoreDriver {
	case StoreMongo:
		if cfg.MongoURL == "" {
			return Config{}, fmt.Errorf("MONGO_URL is required when STORE_DRIVER=%s", StoreMongo)
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.SessionDriver {
	case SessionRedis, SessionMemory:
	default:
		return Config{}, fmt.Errorf("unknown SESSION_DRIVER %q", cfg.SessionDriver)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(val string) bool {
	if val == "" {
		return false
	}
	val = strings.ToLower(strings.Trim(val, "\"' "))
	return val == "1" || val == "true" || val == "yes"
}

func parseInt(val string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return def
	}
	return n
}
