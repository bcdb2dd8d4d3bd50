package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config centralizes runtime settings for the gateway, workers and ops API.
type Config struct {
	Port      string
	AuthToken string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GatewayURL             string
	GatewayToken           string
	GatewayCredentialsPath string
	ReconnectCeiling       int
	ReconnectDelay         time.Duration

	WebhookVerifyToken string

	ClassifierURL     string
	ClassifierTimeout time.Duration
	AgentURL          string
	AgentTimeout      time.Duration

	QueueMaxAttempts int
	QueueBackoffBase time.Duration

	RateWindow      time.Duration
	RateMaxRequests int

	ConversationTTL time.Duration

	WorkerConcurrency int
	WorkerEnabled     bool

	OpsRateLimitRPS   float64
	OpsRateLimitBurst int
}

// LoadDotEnv loads the given .env files when present. Missing files are not
// an error; variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return err
		}
	}
	return nil
}

func Load() Config {
	return Config{
		Port:      getEnv("PORT", "8080"),
		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GatewayURL:             getEnv("GATEWAY_URL", ""),
		GatewayToken:           getEnv("GATEWAY_TOKEN", ""),
		GatewayCredentialsPath: getEnv("GATEWAY_CREDENTIALS_PATH", "gateway-credentials.json"),
		ReconnectCeiling:       getEnvInt("GATEWAY_RECONNECT_CEILING", 5),
		ReconnectDelay:         getEnvDuration("GATEWAY_RECONNECT_DELAY_MS", time.Millisecond, 5*time.Second),

		WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),

		ClassifierURL:     getEnv("CLASSIFIER_URL", ""),
		ClassifierTimeout: getEnvDuration("CLASSIFIER_TIMEOUT_MS", time.Millisecond, 10*time.Second),
		AgentURL:          getEnv("AGENT_URL", ""),
		AgentTimeout:      getEnvDuration("AGENT_TIMEOUT_MS", time.Millisecond, 15*time.Second),

		QueueMaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueBackoffBase: getEnvDuration("QUEUE_BACKOFF_BASE_MS", time.Millisecond, 2*time.Second),

		RateWindow:      getEnvDuration("RATE_WINDOW_SECONDS", time.Second, 60*time.Second),
		RateMaxRequests: getEnvInt("RATE_MAX_REQUESTS", 60),

		ConversationTTL: getEnvDuration("CONVERSATION_TTL_SECONDS", time.Second, 30*time.Minute),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 5),
		WorkerEnabled:     getEnvBool("WORKER_ENABLED", true),

		OpsRateLimitRPS:   getEnvFloat("OPS_RATE_LIMIT_RPS", 20),
		OpsRateLimitBurst: getEnvInt("OPS_RATE_LIMIT_BURST", 40),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration reads an integer environment variable expressed in the
// given unit (seconds or milliseconds, matching the variable's suffix).
func getEnvDuration(key string, unit time.Duration, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return time.Duration(parsed) * unit
}
