package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linuzri/polymarket-bot/internal/bot"
	"github.com/linuzri/polymarket-bot/internal/cache"
	"github.com/linuzri/polymarket-bot/internal/config"
	"github.com/linuzri/polymarket-bot/internal/db"
	"github.com/linuzri/polymarket-bot/internal/handler"
	"github.com/linuzri/polymarket-bot/internal/job"
	"github.com/linuzri/polymarket-bot/internal/ml/inference"
	"github.com/linuzri/polymarket-bot/internal/provider"
	"github.com/linuzri/polymarket-bot/internal/repository"
	"github.com/linuzri/polymarket-bot/internal/service"
	"github.com/linuzri/polymarket-bot/pkg/logger"
	"github.com/linuzri/polymarket-bot/pkg/metrics"
	"github.com/linuzri/polymarket-bot/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc         = godotenv.Load
	loadConfigFunc      = config.Load
	loadCalibrationFunc = config.LoadCalibration
	initPostgresFunc    = db.InitPostgres
	initRedisFunc       = cache.InitRedis
	initTracerFunc      = tracing.InitTracer
	newRegistryFunc     = prometheus.NewRegistry
	newForecastsFunc    = func(tracer trace.Tracer, baseURL string) service.ForecastProvider {
		return provider.NewOpenMeteoProvider(tracer, baseURL)
	}
	newMarketsFunc = func(tracer trace.Tracer, baseURL string) service.MarketProvider {
		return provider.NewGammaProvider(tracer, baseURL)
	}
	newTelegramBotFunc     = bot.NewTelegramBot
	startTelegramBotFunc   = bot.StartTelegramBot
	startJobFunc           = func(j *job.ConsensusJob, ctx context.Context) { go j.Start(ctx) }
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Polymarket Consensus API
// @version         1.0
// @description     Multi-source consensus over weather forecasts and model ensembles.

// @host      localhost:8080
// @BasePath  /
func main() {
	_ = loadEnvFunc()

	cfg := loadConfigFunc()
	appLogger := logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calibration, err := loadCalibrationFunc(cfg.CalibrationFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load calibration table")
	}

	tp, tracer, err := initTracerFunc(ctx, tracing.Options{Enabled: cfg.TracingEnabled, Endpoint: cfg.OTLPEndpoint})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	registry := newRegistryFunc()
	recorder := metrics.NewWithRegistry(registry)

	deps := service.Deps{
		Forecasts: newForecastsFunc(tracer, cfg.OpenMeteoBaseURL),
		Markets:   newMarketsFunc(tracer, cfg.GammaBaseURL),
		Metrics:   recorder,
		Logger:    &appLogger,
	}

	if cfg.DatabaseURL != "" {
		pool, err := initPostgresFunc(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, results will not be persisted")
		} else {
			defer pool.Close()
			deps.Results = repository.NewResultRepository(pool, tracer)
		}
	}

	if client, err := initRedisFunc(ctx, cfg.RedisURL); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, forecast cache disabled")
	} else {
		defer client.Close()
		deps.Cache = cache.NewForecastCache(client, time.Duration(cfg.ForecastCacheSecs)*time.Second, tracer)
	}

	models, err := modelProvider(tracer, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("model provider unavailable, signal consensus disabled")
	} else if models != nil {
		deps.Models = models
	}

	tgBot, err := newTelegramBotFunc(cfg.TelegramBotToken)
	if err != nil {
		log.Warn().Err(err).Msg("telegram bot unavailable")
	}
	if tgBot != nil && cfg.TelegramChatID != 0 {
		deps.Notifier = bot.NewNotifier(tracer, tgBot, cfg.TelegramChatID)
	}

	svc := service.NewConsensusService(tracer, calibration, deps, service.Options{
		SourceTimeout: time.Duration(cfg.SourceTimeoutSecs) * time.Second,
		FanoutLimit:   cfg.FanoutLimit,
	})

	consensusJob := job.NewConsensusJob(tracer, svc, time.Duration(cfg.WeatherPollSecs)*time.Second, cfg.WeatherLeadDays)
	startJobFunc(consensusJob, ctx)
	startTelegramBotFunc(tgBot, svc)

	h := handler.New(tracer, svc, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r := newRouterFunc()
	r.Use(otelgin.Middleware(tracing.ServiceName))
	h.RegisterRoutes(r, cfg.APIKey)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()
	log.Info().Str("addr", srv.Addr).Int("locations", len(calibration.Locations)).Msg("server started")

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info().Msg("Shutting down server...")

	cancel()
	if tgBot != nil {
		tgBot.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}

// modelProvider prefers a remote inference server over local artifacts. It
// returns nil when neither is configured.
func modelProvider(tracer trace.Tracer, cfg *config.Config) (service.ModelProvider, error) {
	switch {
	case cfg.MLInferenceURL != "":
		return provider.NewInferenceClient(tracer, cfg.MLInferenceURL), nil
	case cfg.MLArtifactDir != "":
		p, err := inference.LoadDir(tracer, cfg.MLArtifactDir)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, nil
	}
}
