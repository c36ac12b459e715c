package training

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/linuzri/polymarket-bot/internal/ml/inference"
	"github.com/linuzri/polymarket-bot/internal/ml/models/logreg"
	"github.com/linuzri/polymarket-bot/internal/ml/models/xgboost"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const labelColumn = "label"

// Dataset is a labeled feature matrix in chronological order. Labels are
// class indices into the instrument's label list.
type Dataset struct {
	FeatureNames []string
	Samples      [][]float64
	Labels       []int
}

// ReadCSV parses a header row of feature names followed by a "label"
// column holding one of labels.
func ReadCSV(r io.Reader, labels []string) (Dataset, error) {
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[strings.ToUpper(l)] = i
	}

	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return Dataset{}, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return Dataset{}, errors.New("csv has no data rows")
	}
	header := rows[0]
	labelAt := -1
	var names []string
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), labelColumn) {
			labelAt = i
			continue
		}
		names = append(names, strings.TrimSpace(h))
	}
	if labelAt < 0 {
		return Dataset{}, fmt.Errorf("csv header has no %q column", labelColumn)
	}
	if len(names) == 0 {
		return Dataset{}, errors.New("csv has no feature columns")
	}

	ds := Dataset{FeatureNames: names}
	for n, row := range rows[1:] {
		line := n + 2
		sample := make([]float64, 0, len(names))
		for i, cell := range row {
			if i == labelAt {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("line %d column %s: %w", line, header[i], err)
			}
			sample = append(sample, v)
		}
		class, ok := index[strings.ToUpper(strings.TrimSpace(row[labelAt]))]
		if !ok {
			return Dataset{}, fmt.Errorf("line %d: label %q is not one of %v", line, row[labelAt], labels)
		}
		ds.Samples = append(ds.Samples, sample)
		ds.Labels = append(ds.Labels, class)
	}
	return ds, nil
}

type Config struct {
	ArtifactDir     string
	MinTrainSamples int
	TestFraction    float64
}

// Service trains one classifier per ensemble source and writes the
// artifacts the inference provider loads at startup.
type Service struct {
	tracer trace.Tracer
	cfg    Config
}

type ModelTrainResult struct {
	Instrument  string  `json:"instrument"`
	Source      string  `json:"source"`
	Kind        string  `json:"kind"`
	SampleCount int     `json:"sample_count"`
	TestCount   int     `json:"test_count"`
	Accuracy    float64 `json:"accuracy"`
	LogLoss     float64 `json:"log_loss"`
	Path        string  `json:"path"`
}

func NewService(tracer trace.Tracer, cfg Config) *Service {
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = "artifacts"
	}
	if cfg.MinTrainSamples <= 0 {
		cfg.MinTrainSamples = 100
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.2
	}
	return &Service{tracer: tracer, cfg: cfg}
}

// KindFor picks the model family for a source id. Sources named after
// linear models get logistic regression; everything else is boosted trees.
func KindFor(source string) string {
	s := strings.ToLower(source)
	if s == "lr" || strings.Contains(s, "logreg") || strings.Contains(s, "linear") {
		return inference.KindLogReg
	}
	return inference.KindXGBoost
}

// boostOptions varies the tree ensemble per source so sources disagree on
// borderline samples.
func boostOptions(source string) xgboost.TrainOptions {
	opts := xgboost.DefaultTrainOptions()
	switch strings.ToLower(source) {
	case "rf":
		opts.Rounds, opts.LearningRate, opts.MaxDepth = 20, 0.3, 6
	case "lgb":
		opts.Rounds, opts.LearningRate, opts.MaxDepth = 80, 0.05, 3
	}
	return opts
}

func (s *Service) TrainInstrument(ctx context.Context, instrument string, labels, sources []string, ds Dataset) ([]ModelTrainResult, error) {
	_, span := s.tracer.Start(ctx, "ml-training.train-instrument",
		trace.WithAttributes(attribute.String("instrument", instrument), attribute.Int("samples", len(ds.Samples))))
	defer span.End()

	if len(ds.Samples) < s.cfg.MinTrainSamples {
		return nil, fmt.Errorf("not enough labeled samples: got %d need >= %d", len(ds.Samples), s.cfg.MinTrainSamples)
	}
	if len(sources) == 0 {
		return nil, errors.New("no sources to train")
	}
	if err := os.MkdirAll(s.cfg.ArtifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	trainX, trainY, testX, testY := chronologicalSplit(ds.Samples, ds.Labels, s.cfg.TestFraction)

	results := make([]ModelTrainResult, 0, len(sources))
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.trainSource(instrument, source, len(labels), ds.FeatureNames, trainX, trainY, testX, testY)
		if err != nil {
			return results, fmt.Errorf("train %s/%s: %w", instrument, source, err)
		}
		log.Info().
			Str("instrument", instrument).
			Str("source", source).
			Str("kind", res.Kind).
			Float64("accuracy", res.Accuracy).
			Int("test", res.TestCount).
			Msg("model trained")
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) trainSource(instrument, source string, classes int, names []string, trainX [][]float64, trainY []int, testX [][]float64, testY []int) (ModelTrainResult, error) {
	kind := KindFor(source)

	var (
		model inference.Classifier
		raw   []byte
		err   error
	)
	switch kind {
	case inference.KindLogReg:
		var m *logreg.Model
		if m, err = logreg.Train(trainX, trainY, classes, names, logreg.DefaultTrainOptions()); err == nil {
			model = m
			raw, err = m.MarshalBinary()
		}
	default:
		var m *xgboost.Model
		if m, err = xgboost.Train(trainX, trainY, classes, names, boostOptions(source)); err == nil {
			model = m
			raw, err = m.MarshalBinary()
		}
	}
	if err != nil {
		return ModelTrainResult{}, err
	}

	accuracy, logLoss, err := evaluate(model, testX, testY)
	if err != nil {
		return ModelTrainResult{}, err
	}

	blob, err := inference.Encode(kind, raw)
	if err != nil {
		return ModelTrainResult{}, err
	}
	path := filepath.Join(s.cfg.ArtifactDir, inference.ArtifactKey(instrument, source)+".json")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return ModelTrainResult{}, fmt.Errorf("write artifact: %w", err)
	}

	return ModelTrainResult{
		Instrument:  instrument,
		Source:      source,
		Kind:        kind,
		SampleCount: len(trainX),
		TestCount:   len(testX),
		Accuracy:    accuracy,
		LogLoss:     logLoss,
		Path:        path,
	}, nil
}

// chronologicalSplit keeps the newest testFraction of rows for evaluation.
func chronologicalSplit(samples [][]float64, labels []int, testFraction float64) ([][]float64, []int, [][]float64, []int) {
	n := len(samples)
	cut := int(float64(n) * (1 - testFraction))
	if cut < 1 {
		cut = 1
	}
	if cut >= n {
		cut = n - 1
	}
	return samples[:cut], labels[:cut], samples[cut:], labels[cut:]
}

// evaluate returns argmax accuracy and mean multi-class log loss.
func evaluate(model inference.Classifier, samples [][]float64, labels []int) (float64, float64, error) {
	if len(samples) == 0 {
		return 0, 0, nil
	}
	correct := 0
	loss := 0.0
	for i, x := range samples {
		probs, err := model.PredictProba(x)
		if err != nil {
			return 0, 0, err
		}
		best := 0
		for c := range probs {
			if probs[c] > probs[best] {
				best = c
			}
		}
		if best == labels[i] {
			correct++
		}
		loss -= math.Log(math.Max(probs[labels[i]], 1e-15))
	}
	n := float64(len(samples))
	return float64(correct) / n, loss / n, nil
}
