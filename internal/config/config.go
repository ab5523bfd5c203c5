package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ControlPlanePort      string
	ControlPlaneURL       string
	Environment           string
	LogFilePath           string
	StoreBackend          string
	RedisURL              string
	PostgresURL           string
	BridgeRoot            string
	PollInterval          time.Duration
	SelectionSettleDelay  time.Duration
	DecodeFailureLimit    int
	BotCatalogPath        string
	ActiveBot             string
	GeminiAPIKeys         []string
	GeminiKeyFile         string
	KeyFileSecret         string
	GeminiModel           string
	GeminiLiteModel       string
	KeyCooldown           time.Duration
	StreamMaxRetries      int
	StreamRetryBackoff    time.Duration
	ProgressEstimateChars int
	AnalysisPromptPath    string
	WorkerID              string
	WorkerPollInterval    time.Duration
	WorkerFetchTimeout    time.Duration
	WorkerFixtureDir      string
	WorkerUploadTypes     []string
	WorkerMetricsAddr     string
}

// loadDotEnv is swapped out in tests so a developer's .env never leaks in.
var loadDotEnv = func() error {
	return godotenv.Load()
}

func Load() Config {
	_ = loadDotEnv()

	controlPlanePort := getEnv("CONTROL_PLANE_PORT", "8080")
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		ControlPlanePort:      controlPlanePort,
		ControlPlaneURL:       getEnv("CONTROL_PLANE_URL", "http://localhost:"+controlPlanePort),
		Environment:           getEnv("GO_ENV", "development"),
		LogFilePath:           getEnv("LOG_FILE_PATH", "logs/control-plane.log"),
		StoreBackend:          strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PostgresURL:           postgresURL,
		BridgeRoot:            strings.Trim(getEnv("BRIDGE_ROOT", "bridge"), "/"),
		PollInterval:          getEnvDuration("POLL_INTERVAL", time.Second),
		SelectionSettleDelay:  getEnvDuration("SELECTION_SETTLE_DELAY", 500*time.Millisecond),
		DecodeFailureLimit:    getEnvInt("DECODE_FAILURE_LIMIT", 30),
		BotCatalogPath:        getEnv("BOT_CATALOG_PATH", ""),
		ActiveBot:             getEnv("ACTIVE_BOT", "xFinans"),
		GeminiAPIKeys:         getEnvList("GEMINI_API_KEYS"),
		GeminiKeyFile:         getEnv("GEMINI_KEY_FILE", "api_keys.txt"),
		KeyFileSecret:         getEnv("KEY_FILE_SECRET", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiLiteModel:       getEnv("GEMINI_LITE_MODEL", "gemini-2.5-flash-lite"),
		KeyCooldown:           getEnvDuration("KEY_COOLDOWN", 10*time.Minute),
		StreamMaxRetries:      getEnvInt("STREAM_MAX_RETRIES", 3),
		StreamRetryBackoff:    getEnvDuration("STREAM_RETRY_BACKOFF", 2*time.Second),
		ProgressEstimateChars: getEnvInt("PROGRESS_ESTIMATE_CHARS", 9000),
		AnalysisPromptPath:    getEnv("ANALYSIS_PROMPT_PATH", ""),
		WorkerID:              getEnv("WORKER_ID", ""),
		WorkerPollInterval:    getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
		WorkerFetchTimeout:    getEnvDuration("WORKER_FETCH_TIMEOUT", 90*time.Second),
		WorkerFixtureDir:      getEnv("WORKER_FIXTURE_DIR", "fixtures"),
		WorkerUploadTypes:     getEnvList("WORKER_UPLOAD_TYPES"),
		WorkerMetricsAddr:     getEnv("WORKER_METRICS_ADDR", ""),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "bridge")
	password := getEnv("POSTGRES_PASSWORD", "bridge")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "bridge")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
