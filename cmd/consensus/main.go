package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/linuzri/polymarket-bot/internal/cache"
	"github.com/linuzri/polymarket-bot/internal/config"
	"github.com/linuzri/polymarket-bot/internal/db"
	"github.com/linuzri/polymarket-bot/internal/domain"
	"github.com/linuzri/polymarket-bot/internal/provider"
	"github.com/linuzri/polymarket-bot/internal/render"
	"github.com/linuzri/polymarket-bot/internal/repository"
	"github.com/linuzri/polymarket-bot/internal/service"
	"github.com/linuzri/polymarket-bot/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const (
	exitOK           = 0
	exitNoActionable = 1
	exitError        = 2
)

type weatherEvaluator interface {
	EvaluateWeather(ctx context.Context, date string, locations []string) (domain.Batch, error)
}

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	newEvaluatorFunc = newEvaluator
	nowFunc          = time.Now
)

func main() {
	_ = loadEnvFunc()
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run evaluates one market day and prints the batch. The exit code is 1
// when nothing was actionable so polling scripts can branch on it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("consensus", flag.ContinueOnError)
	fs.SetOutput(stderr)
	date := fs.String("date", "", "market day YYYY-MM-DD (default: tomorrow UTC)")
	cities := fs.String("cities", "", "comma separated city keys (default: all)")
	asJSON := fs.Bool("json", false, "print the batch as JSON")
	persist := fs.Bool("persist", false, "store results in DATABASE_URL")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitError
	}

	cfg := loadConfigFunc()
	logger.InitWriter(stderr, cfg.LogLevel, cfg.LogFormat)

	day := *date
	if day == "" {
		day = nowFunc().UTC().AddDate(0, 0, 1).Format("2006-01-02")
	}

	evaluator, cleanup, err := newEvaluatorFunc(ctx, cfg, *persist)
	if err != nil {
		log.Error().Err(err).Msg("setup failed")
		return exitError
	}
	defer cleanup()

	batch, err := evaluator.EvaluateWeather(ctx, day, splitCities(*cities))
	if err != nil {
		log.Error().Err(err).Str("date", day).Msg("evaluation failed")
		return exitError
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(batch); err != nil {
			log.Error().Err(err).Msg("encode batch")
			return exitError
		}
	} else {
		fmt.Fprint(stdout, render.Report(batch))
	}

	if batch.ActionableCount() == 0 {
		return exitNoActionable
	}
	return exitOK
}

func newEvaluator(ctx context.Context, cfg *config.Config, persist bool) (weatherEvaluator, func(), error) {
	calibration, err := config.LoadCalibration(cfg.CalibrationFile)
	if err != nil {
		return nil, nil, err
	}
	tracer := trace.NewNoopTracerProvider().Tracer("consensus-cli")

	deps := service.Deps{
		Forecasts: provider.NewOpenMeteoProvider(tracer, cfg.OpenMeteoBaseURL),
		Markets:   provider.NewGammaProvider(tracer, cfg.GammaBaseURL),
	}
	var closers []func()

	if client, err := cache.InitRedis(ctx, cfg.RedisURL); err != nil {
		log.Debug().Err(err).Msg("forecast cache disabled")
	} else {
		closers = append(closers, func() { _ = client.Close() })
		deps.Cache = cache.NewForecastCache(client, time.Duration(cfg.ForecastCacheSecs)*time.Second, tracer)
	}

	if persist {
		pool, err := db.InitPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		deps.Results = repository.NewResultRepository(pool, tracer)
	}

	svc := service.NewConsensusService(tracer, calibration, deps, service.Options{
		SourceTimeout: time.Duration(cfg.SourceTimeoutSecs) * time.Second,
		FanoutLimit:   cfg.FanoutLimit,
	})
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return svc, cleanup, nil
}

func splitCities(raw string) []string {
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
