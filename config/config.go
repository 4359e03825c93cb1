package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries all environment-driven settings for the API and worker
// binaries. Defaults suit local development; production deployments set
// everything explicitly.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string

	JWTSecret  string
	SessionTTL time.Duration

	CommissionRateBps int
	DefaultTrialDays  int
	ExtendedTrialDays int

	AdminAPIKey string

	SMTPHost  string
	SMTPPort  int
	SMTPUser  string
	SMTPPass  string
	EmailFrom string

	ProcessorBaseURL string
	ProcessorAPIKey  string
	ProcessorTimeout time.Duration

	SweepSchedule       string
	ReconcileSchedule   string
	ReconcileStaleAfter time.Duration
	ReconcileWindow     time.Duration

	AllowedOrigins []string
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("APP_ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:  getEnv("JWT_SECRET", "dev-secret"),
		SessionTTL: getEnvAsDuration("SESSION_TTL", 7*24*time.Hour),

		CommissionRateBps: getEnvAsInt("COMMISSION_RATE_BPS", 2000),
		DefaultTrialDays:  getEnvAsInt("DEFAULT_TRIAL_DAYS", 7),
		ExtendedTrialDays: getEnvAsInt("EXTENDED_TRIAL_DAYS", 30),

		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),

		SMTPHost:  getEnv("SMTP_HOST", ""),
		SMTPPort:  getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:  getEnv("SMTP_USER", ""),
		SMTPPass:  getEnv("SMTP_PASSWORD", ""),
		EmailFrom: getEnv("EMAIL_FROM", "partners@example.com"),

		ProcessorBaseURL: getEnv("PROCESSOR_BASE_URL", ""),
		ProcessorAPIKey:  getEnv("PROCESSOR_API_KEY", ""),
		ProcessorTimeout: getEnvAsDuration("PROCESSOR_TIMEOUT", 10*time.Second),

		SweepSchedule:       getEnv("PAYOUT_SWEEP_SCHEDULE", "@every 1h"),
		ReconcileSchedule:   getEnv("RECONCILE_SCHEDULE", "@every 6h"),
		ReconcileStaleAfter: getEnvAsDuration("RECONCILE_STALE_AFTER", 24*time.Hour),
		ReconcileWindow:     getEnvAsDuration("RECONCILE_WINDOW", 72*time.Hour),

		AllowedOrigins: []string{getEnv("ALLOWED_ORIGIN", "*")},
	}
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
