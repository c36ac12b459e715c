package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/linuzri/polymarket-bot/internal/cache"
	"github.com/linuzri/polymarket-bot/internal/config"
	"github.com/linuzri/polymarket-bot/internal/domain"
	"github.com/linuzri/polymarket-bot/internal/provider"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

const testCalibration = `
forecast_models: [m1, m2, m3, m4]
locations:
  - {key: NYC, latitude: 40.77, longitude: -73.87, unit: F, bias: 1.0, market_slug: nyc}
  - {key: London, latitude: 51.51, longitude: 0.05, unit: C, bias: 0.5}
instruments:
  - key: BTCUSD
    labels: [SELL, BUY, HOLD]
    neutral: HOLD
    sources: [rf, xgb, lgb]
gates:
  weather: {min_agreement_count: 3, min_total_sources: 3, min_edge: 0.15}
  signal: {min_agreement_count: 2, min_total_sources: 2}
`

func testCal(t *testing.T) *config.Calibration {
	t.Helper()
	cal, err := config.ParseCalibration([]byte(testCalibration))
	require.NoError(t, err)
	return cal
}

type fakeForecasts struct {
	mu     sync.Mutex
	values map[string]float64
	unit   domain.Unit
	errs   map[string]error
	calls  int
}

func (f *fakeForecasts) FetchDailyMax(_ context.Context, _ provider.Coordinates, _, model string) (float64, domain.Unit, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := f.errs[model]; err != nil {
		return 0, "", err
	}
	v, ok := f.values[model]
	if !ok {
		return 0, "", provider.ErrNoForecast
	}
	return v, f.unit, nil
}

func nycForecasts() *fakeForecasts {
	return &fakeForecasts{
		values: map[string]float64{"m1": 40.2, "m2": 39.5, "m3": 40.9, "m4": 43.4},
		unit:   domain.UnitFahrenheit,
	}
}

type fakeMarkets struct {
	book *provider.PriceBook
	err  error
}

func (f *fakeMarkets) FetchPriceBook(_ context.Context, _ string, _ time.Time, _ domain.Unit) (*provider.PriceBook, error) {
	return f.book, f.err
}

type fakeModels struct {
	probs map[string][]float64
	err   map[string]error
}

func (f *fakeModels) Predict(_ context.Context, _, source string, _ []float64) ([]float64, error) {
	if err := f.err[source]; err != nil {
		return nil, err
	}
	return f.probs[source], nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []domain.ConsensusResult
	err   error
}

func (f *fakeStore) SaveResult(_ context.Context, res domain.ConsensusResult, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.saved = append(f.saved, res)
	return int64(len(f.saved)), nil
}

func (f *fakeStore) ListResults(_ context.Context, filter domain.ResultFilter) ([]domain.StoredResult, error) {
	var out []domain.StoredResult
	for i, r := range f.saved {
		if filter.Instrument != "" && r.Instrument != filter.Instrument {
			continue
		}
		out = append(out, domain.StoredResult{ID: int64(i + 1), Result: r})
	}
	return out, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) NotifyActionable(_ context.Context, res domain.ConsensusResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, res.Instrument)
	return nil
}

type fakeMetrics struct {
	mu          sync.Mutex
	evaluations map[string]int
	failures    map[string]int
	hits, miss  int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{evaluations: map[string]int{}, failures: map[string]int{}}
}

func (m *fakeMetrics) RecordEvaluation(mode, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluations[mode+"/"+outcome]++
}

func (m *fakeMetrics) RecordSourceFailure(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[source]++
}

func (m *fakeMetrics) RecordCache(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.miss++
	}
}

func (m *fakeMetrics) RecordConfidence(string, float64) {}
func (m *fakeMetrics) RecordLatency(string, float64)    {}

func TestEvaluateWeatherActionableWithMarket(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	notifier := &fakeNotifier{}
	metrics := newFakeMetrics()
	book := &provider.PriceBook{Slug: "nyc", Unit: domain.UnitFahrenheit, Buckets: []provider.MarketBucket{
		{Label: "38-39°F", Low: 38, High: 39, Unit: domain.UnitFahrenheit, YesPrice: 0.1},
		{Label: "40-41°F", Low: 40, High: 41, Unit: domain.UnitFahrenheit, YesPrice: 0.25},
	}}
	svc := NewConsensusService(testTracer, testCal(t), Deps{
		Forecasts: nycForecasts(),
		Markets:   &fakeMarkets{book: book},
		Results:   store,
		Notifier:  notifier,
		Metrics:   metrics,
	}, Options{})

	batch, err := svc.EvaluateWeather(context.Background(), "2026-03-04", []string{"nyc"})
	require.NoError(t, err)
	require.Len(t, batch.Evaluations, 1)

	eval := batch.Evaluations[0]
	assert.Equal(t, domain.OutcomeActionable, eval.Outcome)
	require.NotNil(t, eval.Result)
	assert.Equal(t, "40-42°F", eval.Result.Signal)
	assert.Equal(t, 3, eval.Result.AgreementCount)
	assert.Equal(t, 4, eval.Result.TotalSources)
	assert.InDelta(t, 0.75, eval.Result.Confidence, 1e-9)
	require.NotNil(t, eval.Result.Edge)
	assert.InDelta(t, 0.5, *eval.Result.Edge, 1e-9)
	assert.NotNil(t, eval.Result.KellyFraction)

	assert.Equal(t, 1, batch.ActionableCount())
	assert.Len(t, store.saved, 1)
	assert.Equal(t, []string{"NYC"}, notifier.sent)
	assert.Equal(t, 1, metrics.evaluations["continuous/actionable"])
}

func TestEvaluateWeatherSourceFailureIsExcluded(t *testing.T) {
	t.Parallel()

	forecasts := nycForecasts()
	forecasts.errs = map[string]error{"m2": errors.New("timeout")}
	metrics := newFakeMetrics()
	svc := NewConsensusService(testTracer, testCal(t), Deps{Forecasts: forecasts, Metrics: metrics}, Options{})

	batch, err := svc.EvaluateWeather(context.Background(), "2026-03-04", []string{"NYC"})
	require.NoError(t, err)

	res := batch.Evaluations[0].Result
	require.NotNil(t, res)
	assert.Equal(t, 3, res.TotalSources)
	assert.Equal(t, 2, res.AgreementCount)
	assert.False(t, res.Actionable)
	assert.Equal(t, "NO_ACTION", res.Signal)
	assert.Equal(t, 1, metrics.failures["m2"])

	var failed domain.SourceBreakdown
	for _, row := range res.PerSource {
		if row.SourceID == "m2" {
			failed = row
		}
	}
	assert.False(t, failed.Included)
	assert.NotEmpty(t, failed.Reason)
}

func TestEvaluateWeatherAllSourcesFailedIsNoResult(t *testing.T) {
	t.Parallel()

	forecasts := &fakeForecasts{unit: domain.UnitCelsius}
	store := &fakeStore{}
	svc := NewConsensusService(testTracer, testCal(t), Deps{Forecasts: forecasts, Results: store}, Options{})

	batch, err := svc.EvaluateWeather(context.Background(), "2026-03-04", nil)
	require.NoError(t, err)
	require.Len(t, batch.Evaluations, 2)
	for _, e := range batch.Evaluations {
		assert.Equal(t, domain.OutcomeNoResult, e.Outcome)
		assert.Nil(t, e.Result)
		assert.NotEmpty(t, e.Reason)
	}
	assert.Equal(t, "NYC", batch.Evaluations[0].Instrument)
	assert.Equal(t, "London", batch.Evaluations[1].Instrument)
	assert.Empty(t, store.saved)
}

func TestEvaluateWeatherConfigErrors(t *testing.T) {
	t.Parallel()

	svc := NewConsensusService(testTracer, testCal(t), Deps{Forecasts: nycForecasts()}, Options{})

	_, err := svc.EvaluateWeather(context.Background(), "04/03/2026", nil)
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = svc.EvaluateWeather(context.Background(), "2026-03-04", []string{"Atlantis"})
	assert.ErrorIs(t, err, domain.ErrConfig)

	bare := NewConsensusService(testTracer, testCal(t), Deps{}, Options{})
	_, err = bare.EvaluateWeather(context.Background(), "2026-03-04", nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestEvaluateWeatherMarketFailureKeepsResult(t *testing.T) {
	t.Parallel()

	svc := NewConsensusService(testTracer, testCal(t), Deps{
		Forecasts: nycForecasts(),
		Markets:   &fakeMarkets{err: provider.ErrNoMarket},
	}, Options{})

	batch, err := svc.EvaluateWeather(context.Background(), "2026-03-04", []string{"NYC"})
	require.NoError(t, err)
	res := batch.Evaluations[0].Result
	require.NotNil(t, res)
	assert.Nil(t, res.ReferencePrice)
	assert.Nil(t, res.Edge)
	assert.True(t, res.Actionable)
}

func TestEvaluateWeatherUsesForecastCache(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	forecasts := nycForecasts()
	metrics := newFakeMetrics()
	svc := NewConsensusService(testTracer, testCal(t), Deps{
		Forecasts: forecasts,
		Cache:     cache.NewForecastCache(client, time.Hour, testTracer),
		Metrics:   metrics,
	}, Options{})

	first, err := svc.EvaluateWeather(context.Background(), "2026-03-04", []string{"NYC"})
	require.NoError(t, err)
	assert.Equal(t, 4, forecasts.calls)

	second, err := svc.EvaluateWeather(context.Background(), "2026-03-04", []string{"NYC"})
	require.NoError(t, err)
	assert.Equal(t, 4, forecasts.calls)
	assert.Equal(t, 4, metrics.hits)
	assert.Equal(t, 4, metrics.miss)
	assert.Equal(t, first.Evaluations[0].Result.Signal, second.Evaluations[0].Result.Signal)
}

func TestEvaluateWeatherPersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	svc := NewConsensusService(testTracer, testCal(t), Deps{
		Forecasts: nycForecasts(),
		Results:   &fakeStore{err: errors.New("db down")},
	}, Options{})

	batch, err := svc.EvaluateWeather(context.Background(), "2026-03-04", []string{"NYC"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeActionable, batch.Evaluations[0].Outcome)
}

func TestEvaluateSignalMajority(t *testing.T) {
	t.Parallel()

	models := &fakeModels{probs: map[string][]float64{
		"rf":  {0.1, 0.7, 0.2},
		"xgb": {0.05, 0.9, 0.05},
		"lgb": {0.6, 0.3, 0.1},
	}}
	metrics := newFakeMetrics()
	svc := NewConsensusService(testTracer, testCal(t), Deps{Models: models, Metrics: metrics}, Options{})
	svc.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) }

	eval, err := svc.EvaluateSignal(context.Background(), "btcusd", []float64{1, 2, 3}, nil)
	require.NoError(t, err)
	require.NotNil(t, eval.Result)
	assert.Equal(t, "2026-03-04T12:00:00Z", eval.InstantID)
	assert.Equal(t, domain.ModeDiscrete, eval.Result.Mode)
	assert.Equal(t, "BUY", eval.Result.Signal)
	assert.Equal(t, 2, eval.Result.AgreementCount)
	assert.InDelta(t, 0.8, eval.Result.Confidence, 1e-9)
	assert.Equal(t, domain.OutcomeActionable, eval.Outcome)
	assert.Equal(t, 1, metrics.evaluations["discrete/actionable"])
}

func TestEvaluateSignalFailedModelsAndErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	models := &fakeModels{
		probs: map[string][]float64{"rf": {0.1, 0.7, 0.2}, "lgb": {0.5, 0.5}},
		err:   map[string]error{"xgb": boom},
	}
	svc := NewConsensusService(testTracer, testCal(t), Deps{Models: models}, Options{})

	eval, err := svc.EvaluateSignal(context.Background(), "BTCUSD", []float64{1}, nil)
	require.NoError(t, err)
	require.NotNil(t, eval.Result)
	assert.Equal(t, 1, eval.Result.TotalSources)
	assert.Equal(t, "HOLD", eval.Result.Signal)
	assert.False(t, eval.Result.Actionable)

	allFail := NewConsensusService(testTracer, testCal(t), Deps{Models: &fakeModels{err: map[string]error{"rf": boom, "xgb": boom, "lgb": boom}}}, Options{})
	eval, err = allFail.EvaluateSignal(context.Background(), "BTCUSD", []float64{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoResult, eval.Outcome)

	_, err = svc.EvaluateSignal(context.Background(), "DOGE", []float64{1}, nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
	_, err = svc.EvaluateSignal(context.Background(), "BTCUSD", nil, nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestListResults(t *testing.T) {
	t.Parallel()

	store := &fakeStore{saved: []domain.ConsensusResult{{Instrument: "NYC"}, {Instrument: "London"}}}
	svc := NewConsensusService(testTracer, testCal(t), Deps{Results: store}, Options{})

	got, err := svc.ListResults(context.Background(), domain.ResultFilter{Instrument: " NYC "})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "NYC", got[0].Result.Instrument)

	bare := NewConsensusService(testTracer, testCal(t), Deps{}, Options{})
	_, err = bare.ListResults(context.Background(), domain.ResultFilter{})
	assert.ErrorIs(t, err, ErrNoResultStore)
}
