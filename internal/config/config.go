package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	SeedDefaultUnit bool

	Redis     RedisConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig

	MetricsPush MetricsPushConfig
}

// MetricsPushConfig ships process metrics from processes without an HTTP
// listener. Exporter is "prometheus_remote_write" or "prometheus_pushgateway";
// empty disables pushing.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

// RateLimitConfig throttles spreadsheet imports per unit. It needs Redis and
// a positive rate; otherwise imports are not limited.
type RateLimitConfig struct {
	ImportRate  float64
	ImportBurst int
}

// RedisConfig is optional. When Addr is empty the recompute locks stay in-process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// WorkerConfig tunes the recompute dispatcher and the scheduler loop driving it.
type WorkerConfig struct {
	Concurrency       int
	BatchSize         int
	RunInterval       time.Duration
	TaskTimeout       time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	RecoveryThreshold time.Duration
	EnabledJobs       []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "ziswaf"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       getenvInt64("NODE_ID", 1),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "ziswaf"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "ziswaf.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),

		SeedDefaultUnit: getenvBool("SEED_DEFAULT_UNIT", false),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Worker: WorkerConfig{
			Concurrency:       int(getenvInt64("RECOMPUTE_CONCURRENCY", 4)),
			BatchSize:         int(getenvInt64("RECOMPUTE_BATCH_SIZE", 50)),
			RunInterval:       getenvDuration("RECOMPUTE_RUN_INTERVAL", 5*time.Second),
			TaskTimeout:       getenvDuration("RECOMPUTE_TASK_TIMEOUT", 120*time.Second),
			MaxAttempts:       int(getenvInt64("RECOMPUTE_MAX_ATTEMPTS", 3)),
			RetryBaseDelay:    getenvDuration("RECOMPUTE_RETRY_BASE_DELAY", 10*time.Second),
			RetryMaxDelay:     getenvDuration("RECOMPUTE_RETRY_MAX_DELAY", 10*time.Minute),
			RecoveryThreshold: getenvDuration("RECOMPUTE_RECOVERY_THRESHOLD", 15*time.Minute),
			EnabledJobs:       parseList(getenv("SCHEDULER_ENABLED_JOBS", "")),
		},
		RateLimit: RateLimitConfig{
			ImportRate:  getenvFloat("IMPORT_RATE_PER_SECOND", 0),
			ImportBurst: int(getenvInt64("IMPORT_RATE_BURST", 3)),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", 30*time.Second),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
