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

	"github.com/linuzri/polymarket-bot/internal/config"
	"github.com/linuzri/polymarket-bot/internal/ml/training"
	"github.com/linuzri/polymarket-bot/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
)

func main() {
	_ = loadEnvFunc()
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			log.Error().Err(err).Msg("training failed")
			os.Exit(1)
		}
	}
}

// run trains every source of one instrument from a labeled CSV and prints
// the per-source results as JSON.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := loadConfigFunc()
	logger.InitWriter(stderr, cfg.LogLevel, cfg.LogFormat)

	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	instrument := fs.String("instrument", "BTCUSD", "instrument key from the calibration table")
	data := fs.String("data", "", "labeled CSV: feature columns plus a label column")
	out := fs.String("out", cfg.MLArtifactDir, "artifact directory")
	sources := fs.String("sources", "", "comma separated sources (default: the instrument's sources)")
	minSamples := fs.Int("min-samples", 100, "minimum labeled rows")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *data == "" {
		return errors.New("--data is required")
	}

	calibration, err := config.LoadCalibration(cfg.CalibrationFile)
	if err != nil {
		return err
	}
	in, err := calibration.Instrument(*instrument)
	if err != nil {
		return err
	}
	srcs := in.Sources
	if *sources != "" {
		srcs = nil
		for _, s := range strings.Split(*sources, ",") {
			if s = strings.TrimSpace(s); s != "" {
				srcs = append(srcs, s)
			}
		}
	}

	f, err := os.Open(*data)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	ds, err := training.ReadCSV(f, in.Labels)
	if err != nil {
		return err
	}

	svc := training.NewService(trace.NewNoopTracerProvider().Tracer("train-cli"), training.Config{
		ArtifactDir:     *out,
		MinTrainSamples: *minSamples,
	})
	results, err := svc.TrainInstrument(ctx, in.Key, in.Labels, srcs, ds)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
