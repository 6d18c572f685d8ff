package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading bridge.
type Config struct {
	// Protocol gateway
	ListenAddr         string
	AutoConfirm        bool // confirm connections on accept instead of first qualifying message
	IdleTimeoutSec     int
	HeartbeatSweepSec  int
	PredictionRatePerS float64 // per-connection ml_prediction_request rate limit

	// Dashboard API
	APIPort      string
	JWTSecret    string
	DashboardKey string // operator login password; bcrypt hash or plain

	// Engine
	MonitorIntervalSec int
	ConfirmTimeoutSec  int
	MaxPositionSize    int
	FreeMargin         float64
	RestrictedHours    []int // wall-clock hours with no new entries

	// Predictors
	ONNXModelPath string // empty disables the ONNX ensemble member

	// Persistence
	DBPath       string
	SettingsPath string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":9999"),
		AutoConfirm:        getEnv("AUTO_CONFIRM_CONNECTIONS", "false") == "true",
		IdleTimeoutSec:     getEnvInt("CONNECTION_IDLE_TIMEOUT_SEC", 300),
		HeartbeatSweepSec:  getEnvInt("HEARTBEAT_SWEEP_SEC", 30),
		PredictionRatePerS: getEnvFloat("PREDICTION_RATE_PER_SEC", 2),
		APIPort:            getEnv("API_PORT", "8080"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		DashboardKey:       getEnv("DASHBOARD_KEY", "bridge"),
		MonitorIntervalSec: getEnvInt("MONITOR_INTERVAL_SEC", 5),
		ConfirmTimeoutSec:  getEnvInt("CONFIRM_TIMEOUT_SEC", 5),
		MaxPositionSize:    getEnvInt("MAX_POSITION_SIZE", 5),
		FreeMargin:         getEnvFloat("FREE_MARGIN", 50000),
		RestrictedHours:    splitHours(getEnv("RESTRICTED_HOURS", "22,23")),
		ONNXModelPath:      os.Getenv("ONNX_MODEL_PATH"),
		DBPath:             getEnv("DB_PATH", "./data/bridge.db"),
		SettingsPath:       getEnv("SETTINGS_PATH", "./data/settings.yaml"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFile:            getEnv("LOG_FILE", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func splitHours(val string) []int {
	parts := strings.Split(val, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if h, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && h >= 0 && h <= 23 {
			out = append(out, h)
		}
	}
	return out
}
