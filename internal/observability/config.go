package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/ziswaf/internal/config"
)

// Config holds logging and telemetry settings for one process.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig layers OTEL_* and LOG_* variables over the application config.
// Development environments log in console format and sample every trace
// unless told otherwise.
func LoadConfig(cfg config.Config) Config {
	out := Config{
		ServiceName:          strings.TrimSpace(cfg.AppName),
		Environment:          strings.TrimSpace(getenv("DEPLOYMENT_ENV", cfg.Environment)),
		Version:              strings.TrimSpace(getenv("SERVICE_VERSION", cfg.AppVersion)),
		LogLevel:             strings.ToLower(getenv("LOG_LEVEL", "info")),
		OtelEnabled:          getenvBool("OTEL_ENABLED", true),
		OtelExporterEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
	}
	if out.ServiceName == "" {
		out.ServiceName = "ziswaf"
	}
	if protocol := getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", ""); protocol != "" {
		out.OtelExporterProtocol = strings.ToLower(protocol)
	}

	dev := isDevEnv(out.Environment)
	defaultFormat, defaultRatio := "json", 0.1
	if dev {
		defaultFormat, defaultRatio = "console", 1.0
	}
	out.LogFormat = strings.ToLower(getenv("LOG_FORMAT", defaultFormat))
	out.OtelSamplingRatio = getenvFloat("OTEL_SAMPLING_RATIO", defaultRatio)
	if out.OtelExporterEndpoint == "" {
		out.OtelEnabled = false
	}
	return out
}

func (c Config) Debug() bool {
	return strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") || isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return value
}

func getenvFloat(key string, def float64) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil || value < 0 || value > 1 {
		return def
	}
	return value
}
