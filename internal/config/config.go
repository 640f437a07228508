// Package config is the flat, env-var-driven configuration for the Bancho
// core, following the teacher's LoadConfig/getEnvOrDefault pattern.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting spec.md §6 lists, plus the
// additions SPEC_FULL.md §6 names.
type Config struct {
	AppHost string
	AppPort string

	LogLevel  string
	LogFormat string

	DatabaseURL         string
	DBMaxConnections    int
	DBWaitTimeoutSecs   int

	RedisURL                    string
	RedisMaxConnections         int
	RedisConnectionTimeoutSecs  int
	RedisResponseTimeoutSecs    int
	RedisWaitTimeoutSecs        int

	DiscordWebhookURL        string
	BeatmapsServiceBaseURL   string
	PerformanceServiceBaseURL string
	FrontendBaseURL          string

	NatsURL string

	// BanchoVersionFloor is the minimum accepted client version; clients
	// reporting an older build are refused at LoginPipeline step 1.
	BanchoVersionFloor string

	// BotUserID is the reserved system user id ("Aika").
	BotUserID int64

	// StreamOffsetsTTL / SessionStaleAfter derive from the 5-minute
	// constant spec.md §3/§4.2 names, kept configurable so tests can
	// shrink them.
	StreamOffsetsTTL  time.Duration
	SessionStaleAfter time.Duration

	// ReaperInterval is how often SessionReaper sweeps stale sessions and
	// stream backlogs (spec.md §4.9).
	ReaperInterval time.Duration

	// CORSAllowedOrigins governs the /api/v1 JSON surface.
	CORSAllowedOrigins string

	ServerShutdownTimeoutSecs int

	MaintenanceMode bool
}

var AppConfig *Config

// LoadConfig populates AppConfig from the environment, loading a local
// .env file first if one is present.
func LoadConfig() {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		AppHost: getEnvOrDefault("APP_HOST", "0.0.0.0"),
		AppPort: getEnvOrDefault("APP_PORT", "8080"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		DatabaseURL:       getEnvOrDefault("DATABASE_URL", "postgres://localhost/bancho?sslmode=disable"),
		DBMaxConnections:  getEnvAsInt("DB_MAX_CONNECTIONS", 15),
		DBWaitTimeoutSecs: getEnvAsInt("DB_WAIT_TIMEOUT_SECS", 5),

		RedisURL:                   getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		RedisMaxConnections:        getEnvAsInt("REDIS_MAX_CONNECTIONS", 32),
		RedisConnectionTimeoutSecs: getEnvAsInt("REDIS_CONNECTION_TIMEOUT_SECS", 5),
		RedisResponseTimeoutSecs:   getEnvAsInt("REDIS_RESPONSE_TIMEOUT_SECS", 5),
		RedisWaitTimeoutSecs:       getEnvAsInt("REDIS_WAIT_TIMEOUT_SECS", 5),

		DiscordWebhookURL:         getEnvOrDefault("DISCORD_WEBHOOK_URL", ""),
		BeatmapsServiceBaseURL:    getEnvOrDefault("BEATMAPS_SERVICE_BASE_URL", ""),
		PerformanceServiceBaseURL: getEnvOrDefault("PERFORMANCE_SERVICE_BASE_URL", ""),
		FrontendBaseURL:           getEnvOrDefault("FRONTEND_BASE_URL", "https://akatsuki.gg"),

		NatsURL: getEnvOrDefault("NATS_URL", ""),

		BanchoVersionFloor: getEnvOrDefault("BANCHO_VERSION_FLOOR", "b20200101"),
		BotUserID:          getEnvAsInt64("BOT_USER_ID", 999),

		StreamOffsetsTTL:  getEnvAsDuration("STREAM_OFFSETS_TTL", 5*time.Minute),
		SessionStaleAfter: getEnvAsDuration("SESSION_STALE_AFTER", 5*time.Minute),
		ReaperInterval:    getEnvAsDuration("REAPER_INTERVAL", 30*time.Second),

		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),

		ServerShutdownTimeoutSecs: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		MaintenanceMode: getEnvOrDefault("MAINTENANCE_MODE", "false") == "true",
	}

	if AppConfig.DiscordWebhookURL == "" {
		log.Println("Warning: DISCORD_WEBHOOK_URL is not set; multi-account warnings will no-op")
	}
	if AppConfig.NatsURL == "" {
		log.Println("Warning: NATS_URL is not set; AdminPubSub is disabled")
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as int64, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: failed to parse %s=%q as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
