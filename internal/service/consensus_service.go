package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linuzri/polymarket-bot/internal/cache"
	"github.com/linuzri/polymarket-bot/internal/config"
	"github.com/linuzri/polymarket-bot/internal/consensus"
	"github.com/linuzri/polymarket-bot/internal/domain"
	"github.com/linuzri/polymarket-bot/internal/ml/inference"
	"github.com/linuzri/polymarket-bot/internal/provider"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const dateLayout = "2006-01-02"

// ErrNoResultStore is returned by ListResults when persistence is disabled.
var ErrNoResultStore = errors.New("result store not configured")

type ForecastProvider interface {
	FetchDailyMax(ctx context.Context, at provider.Coordinates, date, model string) (float64, domain.Unit, error)
}

type MarketProvider interface {
	FetchPriceBook(ctx context.Context, city string, date time.Time, unit domain.Unit) (*provider.PriceBook, error)
}

// ModelProvider returns class probabilities in label order.
type ModelProvider interface {
	Predict(ctx context.Context, instrument, source string, features []float64) ([]float64, error)
}

type ForecastCache interface {
	Get(ctx context.Context, location, date, model string) (*cache.Forecast, error)
	Set(ctx context.Context, location, date, model string, f cache.Forecast) error
}

type ResultStore interface {
	SaveResult(ctx context.Context, res domain.ConsensusResult, evaluatedAt time.Time) (int64, error)
	ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.StoredResult, error)
}

type Notifier interface {
	NotifyActionable(ctx context.Context, res domain.ConsensusResult) error
}

type Metrics interface {
	RecordEvaluation(mode, outcome string)
	RecordSourceFailure(source string)
	RecordCache(hit bool)
	RecordConfidence(instrument string, confidence float64)
	RecordLatency(op string, seconds float64)
}

// Deps are the collaborators of the service. Only Forecasts is required for
// weather runs and only Models for signal runs; the rest are optional.
type Deps struct {
	Forecasts ForecastProvider
	Markets   MarketProvider
	Models    ModelProvider
	Cache     ForecastCache
	Results   ResultStore
	Notifier  Notifier
	Metrics   Metrics
	Logger    *zerolog.Logger
}

type Options struct {
	SourceTimeout time.Duration
	FanoutLimit   int
}

// ConsensusService gathers source predictions concurrently and runs them
// through the consensus engine. Each source gets its own timeout; a source
// that fails or times out is excluded from the vote and the run continues.
type ConsensusService struct {
	tracer      trace.Tracer
	calibration *config.Calibration
	engine      *consensus.Engine
	deps        Deps
	logger      zerolog.Logger
	opts        Options
	now         func() time.Time
}

func NewConsensusService(tracer trace.Tracer, calibration *config.Calibration, deps Deps, opts Options) *ConsensusService {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 20 * time.Second
	}
	if opts.FanoutLimit <= 0 {
		opts.FanoutLimit = 8
	}
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	logger = logger.With().Str("component", "consensus-service").Logger()
	return &ConsensusService{
		tracer:      tracer,
		calibration: calibration,
		engine:      consensus.NewEngine(&logger),
		deps:        deps,
		logger:      logger,
		opts:        opts,
		now:         time.Now,
	}
}

// EvaluateWeather evaluates every location for date (YYYY-MM-DD). An empty
// location list means all configured locations. Config errors abort the
// run; a location without usable forecasts becomes a no_result entry.
func (s *ConsensusService) EvaluateWeather(ctx context.Context, date string, locations []string) (domain.Batch, error) {
	ctx, span := s.tracer.Start(ctx, "consensus-service.evaluate-weather",
		trace.WithAttributes(attribute.String("date", date)))
	defer span.End()
	started := s.now()

	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return domain.Batch{}, domain.NewConfigError("date", "expected YYYY-MM-DD, got %q", date)
	}
	if s.deps.Forecasts == nil {
		return domain.Batch{}, domain.NewConfigError("forecasts", "no forecast provider configured")
	}

	if len(locations) == 0 {
		locations = s.calibration.LocationKeys()
	}
	resolved := make([]config.Location, 0, len(locations))
	for _, key := range locations {
		loc, err := s.calibration.Location(key)
		if err != nil {
			return domain.Batch{}, err
		}
		resolved = append(resolved, loc)
	}

	evaluations := make([]domain.Evaluation, len(resolved))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FanoutLimit)
	for i, loc := range resolved {
		g.Go(func() error {
			eval, err := s.evaluateLocation(gctx, loc, date, day)
			if err != nil {
				return err
			}
			evaluations[i] = eval
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Batch{}, err
	}

	batch := domain.Batch{InstantID: date, EvaluatedAt: s.now().UTC(), Evaluations: evaluations}
	s.publish(ctx, batch.EvaluatedAt, domain.ModeContinuous, evaluations)
	s.observe("evaluate-weather", started)

	s.logger.Info().
		Str("date", date).
		Int("locations", len(evaluations)).
		Int("actionable", batch.ActionableCount()).
		Msg("weather consensus batch complete")
	return batch, nil
}

func (s *ConsensusService) evaluateLocation(ctx context.Context, loc config.Location, date string, day time.Time) (domain.Evaluation, error) {
	ctx, span := s.tracer.Start(ctx, "consensus-service.evaluate-location",
		trace.WithAttributes(attribute.String("location", loc.Key)))
	defer span.End()

	models := s.calibration.ForecastModels
	predictions := make([]domain.SourcePrediction, len(models))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FanoutLimit)
	for i, model := range models {
		g.Go(func() error {
			predictions[i] = s.fetchForecast(gctx, loc, date, model)
			return nil
		})
	}
	var book *provider.PriceBook
	if s.deps.Markets != nil && loc.MarketSlug != "" {
		g.Go(func() error {
			book = s.fetchPriceBook(gctx, loc, day)
			return nil
		})
	}
	_ = g.Wait()

	req := consensus.ContinuousRequest{
		InstantID:   date,
		Instrument:  loc.Key,
		Calibration: loc.Calibration(),
		Predictions: predictions,
		Gate:        s.calibration.Gates.Weather.Gate(),
	}
	if book != nil {
		req.Prices = book
	}

	result, err := s.engine.EvaluateContinuous(req)
	switch {
	case err == nil:
		return domain.NewEvaluation(result), nil
	case errors.Is(err, domain.ErrInsufficientData):
		s.logger.Warn().Err(err).Str("location", loc.Key).Msg("no usable forecasts")
		return domain.NoResult(date, loc.Key, err), nil
	default:
		return domain.Evaluation{}, fmt.Errorf("evaluate %s: %w", loc.Key, err)
	}
}

func (s *ConsensusService) fetchForecast(ctx context.Context, loc config.Location, date, model string) domain.SourcePrediction {
	pred := domain.SourcePrediction{SourceID: model}

	if s.deps.Cache != nil {
		cached, err := s.deps.Cache.Get(ctx, loc.Key, date, model)
		if err != nil {
			s.logger.Warn().Err(err).Str("location", loc.Key).Str("model", model).Msg("forecast cache read failed")
		}
		if cached != nil {
			s.recordCache(true)
			v := cached.Value
			pred.Value, pred.Unit = &v, cached.Unit
			return pred
		}
		s.recordCache(false)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
	defer cancel()

	v, unit, err := s.deps.Forecasts.FetchDailyMax(fetchCtx, provider.Coordinates{Latitude: loc.Latitude, Longitude: loc.Longitude}, date, model)
	if err != nil {
		s.sourceFailed(model, err)
		pred.Err = &domain.SourceFetchError{SourceID: model, Err: err}
		return pred
	}
	pred.Value, pred.Unit = &v, unit

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, loc.Key, date, model, cache.Forecast{Value: v, Unit: unit, FetchedAt: s.now().UTC()}); err != nil {
			s.logger.Warn().Err(err).Str("location", loc.Key).Str("model", model).Msg("forecast cache write failed")
		}
	}
	return pred
}

func (s *ConsensusService) fetchPriceBook(ctx context.Context, loc config.Location, day time.Time) *provider.PriceBook {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
	defer cancel()

	book, err := s.deps.Markets.FetchPriceBook(fetchCtx, loc.MarketSlug, day, loc.Unit)
	if err != nil {
		s.logger.Warn().Err(err).Str("location", loc.Key).Msg("no reference prices")
		return nil
	}
	return book
}

// EvaluateSignal runs the discrete ensemble of instrument on one feature
// vector. The caller owns feature engineering; features are passed to every
// source unchanged.
func (s *ConsensusService) EvaluateSignal(ctx context.Context, instrument string, features []float64, reference *float64) (domain.Evaluation, error) {
	ctx, span := s.tracer.Start(ctx, "consensus-service.evaluate-signal",
		trace.WithAttributes(attribute.String("instrument", instrument)))
	defer span.End()
	started := s.now()

	in, err := s.calibration.Instrument(instrument)
	if err != nil {
		return domain.Evaluation{}, err
	}
	if s.deps.Models == nil {
		return domain.Evaluation{}, domain.NewConfigError("models", "no model provider configured")
	}
	if len(features) == 0 {
		return domain.Evaluation{}, domain.NewConfigError("features", "feature vector is empty")
	}

	instantID := started.UTC().Format(time.RFC3339)
	predictions := make([]domain.SourcePrediction, len(in.Sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FanoutLimit)
	for i, source := range in.Sources {
		g.Go(func() error {
			predictions[i] = s.predict(gctx, in, source, features)
			return nil
		})
	}
	_ = g.Wait()

	result, err := s.engine.EvaluateDiscrete(consensus.DiscreteRequest{
		InstantID:      instantID,
		Instrument:     in.Key,
		Labels:         in.Labels,
		Neutral:        in.Neutral,
		Predictions:    predictions,
		Gate:           s.calibration.Gates.Signal.Gate(),
		ReferencePrice: reference,
	})

	var eval domain.Evaluation
	switch {
	case err == nil:
		eval = domain.NewEvaluation(result)
	case errors.Is(err, domain.ErrInsufficientData):
		s.logger.Warn().Err(err).Str("instrument", in.Key).Msg("no usable model votes")
		eval = domain.NoResult(instantID, in.Key, err)
	default:
		return domain.Evaluation{}, err
	}

	s.publish(ctx, s.now().UTC(), domain.ModeDiscrete, []domain.Evaluation{eval})
	s.observe("evaluate-signal", started)
	return eval, nil
}

func (s *ConsensusService) predict(ctx context.Context, in config.Instrument, source string, features []float64) domain.SourcePrediction {
	predictCtx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
	defer cancel()

	probs, err := s.deps.Models.Predict(predictCtx, in.Key, source, features)
	if err == nil {
		var pred domain.SourcePrediction
		if pred, err = inference.ToPrediction(source, in.Labels, probs); err == nil {
			return pred
		}
	}
	s.sourceFailed(source, err)
	return domain.SourcePrediction{SourceID: source, Err: &domain.SourceFetchError{SourceID: source, Err: err}}
}

// ListResults reads persisted results for the results API.
func (s *ConsensusService) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.StoredResult, error) {
	if s.deps.Results == nil {
		return nil, ErrNoResultStore
	}
	filter.Instrument = strings.TrimSpace(filter.Instrument)
	return s.deps.Results.ListResults(ctx, filter)
}

// publish persists results, sends notifications for actionable ones and
// records metrics. Failures here are logged and never fail the evaluation.
func (s *ConsensusService) publish(ctx context.Context, at time.Time, mode domain.Mode, evals []domain.Evaluation) {
	for _, e := range evals {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordEvaluation(string(mode), string(e.Outcome))
			if e.Result != nil {
				s.deps.Metrics.RecordConfidence(e.Instrument, e.Result.Confidence)
			}
		}
		if e.Result == nil {
			continue
		}
		if s.deps.Results != nil {
			if _, err := s.deps.Results.SaveResult(ctx, *e.Result, at); err != nil {
				s.logger.Warn().Err(err).Str("instrument", e.Instrument).Msg("persist result failed")
			}
		}
		if e.Outcome == domain.OutcomeActionable && s.deps.Notifier != nil {
			if err := s.deps.Notifier.NotifyActionable(ctx, *e.Result); err != nil {
				s.logger.Warn().Err(err).Str("instrument", e.Instrument).Msg("notify failed")
			}
		}
	}
}

func (s *ConsensusService) sourceFailed(source string, err error) {
	s.logger.Warn().Err(err).Str("source", source).Msg("source fetch failed")
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSourceFailure(source)
	}
}

func (s *ConsensusService) recordCache(hit bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordCache(hit)
	}
}

func (s *ConsensusService) observe(op string, started time.Time) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordLatency(op, s.now().Sub(started).Seconds())
	}
}
