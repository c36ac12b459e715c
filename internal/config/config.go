package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

type Config struct {
	TelegramBotToken string
	TelegramChatID   int64
	DatabaseURL      string
	RedisURL         string
	HTTPPort         int
	APIKey           string

	CalibrationFile   string
	WeatherPollSecs   int
	WeatherLeadDays   int
	ForecastCacheSecs int
	SourceTimeoutSecs int
	FanoutLimit       int

	OpenMeteoBaseURL string
	GammaBaseURL     string
	MLInferenceURL   string
	MLArtifactDir    string

	LogLevel       string
	LogFormat      string
	TracingEnabled bool
	OTLPEndpoint   string
}

func Load() *Config {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		APIKey:           strings.TrimSpace(os.Getenv("API_KEY")),
		CalibrationFile:  strings.TrimSpace(os.Getenv("CALIBRATION_FILE")),
		MLInferenceURL:   strings.TrimSpace(os.Getenv("ML_INFERENCE_URL")),
		MLArtifactDir:    strings.TrimSpace(os.Getenv("ML_ARTIFACT_DIR")),
		OTLPEndpoint:     strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	if cfg.TelegramBotToken == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, notifications disabled")
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = n
		} else {
			log.Warn().Str("value", v).Msg("invalid TELEGRAM_CHAT_ID, ignoring")
		}
	}
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, results will not be persisted")
	}
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set, defaulting to localhost:6379")
		cfg.RedisURL = "localhost:6379"
	}

	cfg.HTTPPort = positiveInt("HTTP_PORT", 8080)
	cfg.WeatherPollSecs = positiveInt("WEATHER_POLL_SECS", 1800)
	cfg.ForecastCacheSecs = positiveInt("FORECAST_CACHE_SECS", 900)
	cfg.SourceTimeoutSecs = positiveInt("SOURCE_TIMEOUT_SECS", 20)
	cfg.FanoutLimit = positiveInt("FANOUT_LIMIT", 8)

	// 0 means "today"
	cfg.WeatherLeadDays = 1
	if v := strings.TrimSpace(os.Getenv("WEATHER_LEAD_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 15 {
			cfg.WeatherLeadDays = n
		}
	}

	cfg.OpenMeteoBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("OPEN_METEO_BASE_URL")), "/")
	if cfg.OpenMeteoBaseURL == "" {
		cfg.OpenMeteoBaseURL = "https://api.open-meteo.com/v1"
	}

	cfg.GammaBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("GAMMA_BASE_URL")), "/")
	if cfg.GammaBaseURL == "" {
		cfg.GammaBaseURL = "https://gamma-api.polymarket.com"
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.LogFormat = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		cfg.LogFormat = "console"
	}

	cfg.TracingEnabled = true
	if v := strings.TrimSpace(os.Getenv("TRACING_ENABLED")); v != "" {
		cfg.TracingEnabled = strings.EqualFold(v, "true")
	}

	return cfg
}

func positiveInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
