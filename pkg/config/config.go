package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full application configuration, loaded from the environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Email    EmailConfig
}

type ServerConfig struct {
	Port        int
	IssuerURL   string
	CORSOrigins string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AuthConfig holds the pipeline tunables. Defaults match the documented
// protocol behavior; override per deployment only when you know why.
type AuthConfig struct {
	AccessTokenTTL       time.Duration
	ImpersonationTTL     time.Duration
	RefreshTokenTTL      time.Duration
	RefreshTokenIdleTTL  time.Duration
	LoginSessionTTL      time.Duration
	AuthorizationCodeTTL time.Duration
	OTPCodeTTL           time.Duration
	BcryptCost           int
	LockoutWindow        time.Duration
	LockoutThreshold     int
	CookieName           string
}

type EmailConfig struct {
	Provider  string // "ses" or "console"
	AWSRegion string
	From      string
}

// Load builds the configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        getEnvInt("PORT", 8080),
			IssuerURL:   getEnv("ISSUER_URL", "http://localhost:8080"),
			CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "passport"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "passport"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			AccessTokenTTL:       getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
			ImpersonationTTL:     getEnvDuration("IMPERSONATION_TOKEN_TTL", time.Hour),
			RefreshTokenTTL:      getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
			RefreshTokenIdleTTL:  getEnvDuration("REFRESH_TOKEN_IDLE_TTL", 7*24*time.Hour),
			LoginSessionTTL:      getEnvDuration("LOGIN_SESSION_TTL", time.Hour),
			AuthorizationCodeTTL: getEnvDuration("AUTHORIZATION_CODE_TTL", 5*time.Minute),
			OTPCodeTTL:           getEnvDuration("OTP_CODE_TTL", 10*time.Minute),
			BcryptCost:           getEnvInt("BCRYPT_COST", 10),
			LockoutWindow:        getEnvDuration("LOCKOUT_WINDOW", 5*time.Minute),
			LockoutThreshold:     getEnvInt("LOCKOUT_THRESHOLD", 3),
			CookieName:           getEnv("SESSION_COOKIE_NAME", "auth-session"),
		},
		Email: EmailConfig{
			Provider:  getEnv("EMAIL_PROVIDER", "console"),
			AWSRegion: getEnv("AWS_REGION", "us-east-1"),
			From:      getEnv("EMAIL_FROM", "no-reply@passport.local"),
		},
	}
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvStringSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
