// Package config loads driftcast settings from the environment. Invalid
// values log a warning and fall back to their defaults; only
// security-relevant misconfiguration is an error.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/star/driftcast/internal/auth"
	"github.com/star/driftcast/internal/forecast"
	"github.com/star/driftcast/internal/launch"
	"github.com/star/driftcast/internal/observability"
	"github.com/star/driftcast/internal/publish"
	"github.com/star/driftcast/internal/stream"
)

// Config is the complete service configuration.
type Config struct {
	HTTPAddr       string
	Auth           auth.Config
	Forecast       ForecastConfig
	Redis          RedisConfig
	DatabaseURL    string
	NATS           NATSConfig
	MaxWindowHours int
	Stream         stream.Config
	Tracing        observability.TracingConfig
}

// ForecastConfig controls the forecast fetcher and its local caches.
type ForecastConfig struct {
	SourceURL       string // empty selects the Open-Meteo endpoint
	Model           string
	Timeout         time.Duration
	ArchiveDir      string // empty disables the on-disk archive
	ArchiveMaxFiles int
	CacheEntries    int // 0 disables the parsed-profile cache
	CacheTTL        time.Duration
}

// RedisConfig enables the shared raw-response cache when Addr is set.
type RedisConfig struct {
	Addr string
	TTL  time.Duration
}

// NATSConfig enables batch publishing when URL is set.
type NATSConfig struct {
	URL     string
	Subject string
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding the environment. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	err := godotenv.Load(paths...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads the full configuration from environment variables.
func Load(logger *slog.Logger) (*Config, error) {
	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:       ":8080",
		Auth:           authCfg,
		Forecast:       loadForecastConfig(logger),
		Redis:          loadRedisConfig(logger),
		DatabaseURL:    os.Getenv("DRIFTCAST_DATABASE_URL"),
		NATS:           loadNATSConfig(),
		MaxWindowHours: positiveInt(logger, "DRIFTCAST_MAX_WINDOW_HOURS", launch.DefaultMaxWindowHours),
		Stream:         loadStreamConfig(logger),
		Tracing:        loadTracingConfig(logger),
	}
	if v := os.Getenv("DRIFTCAST_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	return cfg, nil
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("DRIFTCAST_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("DRIFTCAST_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("DRIFTCAST_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("DRIFTCAST_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled", "component", "config")
	}

	return cfg, nil
}

func loadForecastConfig(logger *slog.Logger) ForecastConfig {
	cfg := ForecastConfig{
		SourceURL:       os.Getenv("DRIFTCAST_FORECAST_URL"),
		Model:           forecast.DefaultModel,
		Timeout:         seconds(logger, "DRIFTCAST_FORECAST_TIMEOUT", 30),
		ArchiveDir:      "/tmp/driftcast/forecasts",
		ArchiveMaxFiles: positiveInt(logger, "DRIFTCAST_ARCHIVE_MAX_FILES", 5),
		CacheEntries:    512,
		CacheTTL:        seconds(logger, "DRIFTCAST_CACHE_TTL", 3600),
	}

	if v := os.Getenv("DRIFTCAST_FORECAST_MODEL"); v != "" {
		cfg.Model = v
	}

	if v, ok := os.LookupEnv("DRIFTCAST_ARCHIVE_DIR"); ok {
		cfg.ArchiveDir = v
	}

	if v := os.Getenv("DRIFTCAST_CACHE_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			logger.Warn("invalid DRIFTCAST_CACHE_ENTRIES value, using default", "component", "config", "value", v, "default", cfg.CacheEntries)
		} else {
			cfg.CacheEntries = n
		}
	}

	source := cfg.SourceURL
	if source == "" {
		source = "default"
	}
	logger.Info("forecast config",
		"component", "config",
		"source_url", source,
		"model", cfg.Model,
		"timeout_seconds", cfg.Timeout.Seconds(),
		"archive_dir", cfg.ArchiveDir,
		"archive_max_files", cfg.ArchiveMaxFiles,
		"cache_entries", cfg.CacheEntries,
	)

	return cfg
}

func loadRedisConfig(logger *slog.Logger) RedisConfig {
	return RedisConfig{
		Addr: os.Getenv("DRIFTCAST_REDIS_ADDR"),
		TTL:  seconds(logger, "DRIFTCAST_REDIS_TTL", 3600),
	}
}

func loadNATSConfig() NATSConfig {
	cfg := NATSConfig{
		URL:     os.Getenv("DRIFTCAST_NATS_URL"),
		Subject: publish.DefaultSubject,
	}
	if v := os.Getenv("DRIFTCAST_NATS_SUBJECT"); v != "" {
		cfg.Subject = v
	}
	return cfg
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: positiveInt(logger, "DRIFTCAST_STREAM_MAX_CONCURRENT", 10),
		MaxTotal:           positiveInt(logger, "DRIFTCAST_STREAM_MAX_TOTAL", 200),
		KeepaliveInterval:  seconds(logger, "DRIFTCAST_STREAM_KEEPALIVE_INTERVAL", 30),
	}

	if v := os.Getenv("DRIFTCAST_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid DRIFTCAST_TRUST_PROXY value, defaulting to false", "component", "config", "value", v)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("stream config",
		"component", "config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_total", cfg.MaxTotal,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}

func loadTracingConfig(logger *slog.Logger) observability.TracingConfig {
	cfg := observability.TracingConfig{
		ServiceName: "driftcast",
		Exporter:    "stdout",
		Endpoint:    os.Getenv("DRIFTCAST_TRACING_ENDPOINT"),
		SampleRatio: 1,
	}

	if v := os.Getenv("DRIFTCAST_TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid DRIFTCAST_TRACING_ENABLED value, defaulting to false", "component", "config", "value", v)
		} else {
			cfg.Enabled = enabled
		}
	}

	if v := os.Getenv("DRIFTCAST_TRACING_EXPORTER"); v != "" {
		cfg.Exporter = strings.ToLower(v)
	}

	if v := os.Getenv("DRIFTCAST_TRACING_SAMPLE_RATIO"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			logger.Warn("invalid DRIFTCAST_TRACING_SAMPLE_RATIO value, using default", "component", "config", "value", v, "default", 1)
		} else {
			cfg.SampleRatio = ratio
		}
	}

	return cfg
}

// positiveInt reads an integer >= 1, falling back to def.
func positiveInt(logger *slog.Logger, name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid "+name+" value, using default", "component", "config", "value", v, "default", def)
		return def
	}
	return n
}

// seconds reads a whole number of seconds >= 1, falling back to def.
func seconds(logger *slog.Logger, name string, def int) time.Duration {
	return time.Duration(positiveInt(logger, name, def)) * time.Second
}
