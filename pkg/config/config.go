package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the signal core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret  string
	SessionTTL time.Duration

	// Execution gateway
	GatewayMode    string // "mock" or "live"
	BridgeURL      string // terminal bridge base URL (live mode)
	BridgeAPIToken string
	ExecTimeout    time.Duration

	// Mock gateway simulation
	MockLatencyMinMs int
	MockLatencyMaxMs int
	MockFailRate     float64 // 0..1, fraction of simulated venue rejections

	// Signal pipeline
	PipelineShards int
	QueueDepth     int
	DedupWindow    time.Duration
	SignalMaxAge   time.Duration
	SignalTier     string // rate-limit tier applied per owner in the pipeline

	// Rate limiting
	TierConfigPath string

	// Reconnection supervisor
	ProbeInterval  time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	BackoffFactor  float64
	AlertThreshold int // consecutive failures before an alert fires
	AlertCooldown  time.Duration
	HealthInterval time.Duration

	// Notifications
	TelegramBotToken string
	TelegramChatIDs  []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the service still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		DBPath:           getEnv("DB_PATH", "./data/signals.db"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		SessionTTL:       getEnvDuration("SESSION_TTL", 24*time.Hour),
		GatewayMode:      strings.ToLower(getEnv("GATEWAY_MODE", "mock")),
		BridgeURL:        getEnv("BRIDGE_URL", "http://localhost:5002/api/v1"),
		BridgeAPIToken:   os.Getenv("BRIDGE_API_TOKEN"),
		ExecTimeout:      getEnvDuration("EXEC_TIMEOUT", 30*time.Second),
		MockLatencyMinMs: getEnvInt("MOCK_LATENCY_MIN_MS", 0),
		MockLatencyMaxMs: getEnvInt("MOCK_LATENCY_MAX_MS", 0),
		MockFailRate:     getEnvFloat("MOCK_FAIL_RATE", 0),
		PipelineShards:   getEnvInt("PIPELINE_SHARDS", 4),
		QueueDepth:       getEnvInt("QUEUE_DEPTH", 256),
		DedupWindow:      getEnvDuration("DEDUP_WINDOW", 24*time.Hour),
		SignalMaxAge:     getEnvDuration("SIGNAL_MAX_AGE", 5*time.Minute),
		SignalTier:       getEnv("SIGNAL_TIER", "standard"),
		TierConfigPath:   getEnv("TIER_CONFIG_PATH", ""),
		ProbeInterval:    getEnvDuration("PROBE_INTERVAL", 30*time.Second),
		BackoffBase:      getEnvDuration("BACKOFF_BASE", time.Second),
		BackoffCap:       getEnvDuration("BACKOFF_CAP", 60*time.Second),
		BackoffFactor:    getEnvFloat("BACKOFF_FACTOR", 2),
		AlertThreshold:   getEnvInt("ALERT_THRESHOLD", 5),
		AlertCooldown:    getEnvDuration("ALERT_COOLDOWN", 15*time.Minute),
		HealthInterval:   getEnvDuration("HEALTH_INTERVAL", 60*time.Second),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatIDs:  splitAndTrim(getEnv("TELEGRAM_CHAT_IDS", "")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
