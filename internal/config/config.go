package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// UseMemoryStore keeps session state in-process instead of Redis.
	// Only valid for single-instance deployments.
	UseMemoryStore bool

	SessionTTL         time.Duration
	CORSAllowedOrigins []string

	// DefaultResourceRegion selects the crisis-resource list used when
	// the caller does not supply a region.
	DefaultResourceRegion string

	// Break-reminder and crisis-escalation thresholds. Process-wide,
	// consulted by the escalation policy, never stored per session.
	FirstReminderAfter     time.Duration
	FirstReminderMessages  int
	SecondReminderAfter    time.Duration
	SecondReminderMessages int
	CrisisEscalationCount  int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),

		SessionTTL:         getEnvAsDuration("SESSION_TTL", 30*24*time.Hour),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		DefaultResourceRegion: getEnv("DEFAULT_RESOURCE_REGION", "US"),

		FirstReminderAfter:     getEnvAsDuration("BREAK_REMINDER_AFTER", 30*time.Minute),
		FirstReminderMessages:  getEnvAsInt("BREAK_REMINDER_MESSAGES", 15),
		SecondReminderAfter:    getEnvAsDuration("SECOND_REMINDER_AFTER", 60*time.Minute),
		SecondReminderMessages: getEnvAsInt("SECOND_REMINDER_MESSAGES", 30),
		CrisisEscalationCount:  getEnvAsInt("CRISIS_ESCALATION_COUNT", 3),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
