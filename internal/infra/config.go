package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"forge/internal/domain"
)

// OperationConfig carries the admission and execution settings for one
// operation type.
type OperationConfig struct {
	CostCredits int64
	RateMax     int
	RateWindow  time.Duration
	Deadline    time.Duration
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	RedisAddr string
	RedisDB   int

	AMQPURL string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	UploadMaxBytes   int64
	UploadGrantTTL   time.Duration
	DownloadGrantTTL time.Duration

	WorkerPoolSize     int
	WorkerPollInterval time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	Operations map[domain.OperationType]OperationConfig
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:   getEnvInt("REDIS_DB", 0),

		AMQPURL: os.Getenv("AMQP_URL"),

		S3Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Bucket:    getEnv("S3_BUCKET", "artifacts"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3UseSSL:    getEnvBool("S3_USE_SSL", false),

		UploadMaxBytes:   getEnvInt64("UPLOAD_MAX_BYTES", 512*1024*1024),
		UploadGrantTTL:   getEnvSeconds("UPLOAD_GRANT_TTL_SECONDS", 900),
		DownloadGrantTTL: getEnvSeconds("DOWNLOAD_GRANT_TTL_SECONDS", 300),

		WorkerPoolSize:     getEnvInt("WORKER_POOL_SIZE", 4),
		WorkerPollInterval: getEnvSeconds("WORKER_POLL_INTERVAL_SECONDS", 2),

		HTTPReadTimeout:  getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout: getEnvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 30),
		HTTPIdleTimeout:  getEnvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),

		Operations: map[domain.OperationType]OperationConfig{
			domain.OperationImage: loadOperation("IMAGE", OperationConfig{
				CostCredits: 10, RateMax: 30, RateWindow: time.Minute, Deadline: 2 * time.Minute,
			}),
			domain.OperationCopy: loadOperation("COPY", OperationConfig{
				CostCredits: 2, RateMax: 60, RateWindow: time.Minute, Deadline: time.Minute,
			}),
			domain.OperationVideo: loadOperation("VIDEO", OperationConfig{
				CostCredits: 50, RateMax: 6, RateWindow: time.Minute, Deadline: 10 * time.Minute,
			}),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required")
	}
	if strings.Contains(cfg.S3Endpoint, "://") {
		return nil, fmt.Errorf("S3_ENDPOINT must not include scheme: %q", cfg.S3Endpoint)
	}
	if cfg.WorkerPoolSize < 1 {
		return nil, fmt.Errorf("WORKER_POOL_SIZE must be at least 1")
	}

	return cfg, nil
}

// Operation returns the settings for op, falling back to the image defaults
// when the operation is not configured.
func (c *Config) Operation(op domain.OperationType) OperationConfig {
	if oc, ok := c.Operations[op]; ok {
		return oc
	}
	return c.Operations[domain.OperationImage]
}

func loadOperation(prefix string, def OperationConfig) OperationConfig {
	return OperationConfig{
		CostCredits: getEnvInt64(prefix+"_COST_CREDITS", def.CostCredits),
		RateMax:     getEnvInt(prefix+"_RATE_MAX", def.RateMax),
		RateWindow:  getEnvSeconds(prefix+"_RATE_WINDOW_SECONDS", int(def.RateWindow/time.Second)),
		Deadline:    getEnvSeconds(prefix+"_DEADLINE_SECONDS", int(def.Deadline/time.Second)),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}
