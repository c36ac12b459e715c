package job

import (
	"context"
	"time"

	"github.com/linuzri/polymarket-bot/internal/domain"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WeatherEvaluator interface {
	EvaluateWeather(ctx context.Context, date string, locations []string) (domain.Batch, error)
}

// ConsensusJob evaluates every configured location on a fixed interval for
// the market day leadDays ahead of now.
type ConsensusJob struct {
	tracer       trace.Tracer
	evaluator    WeatherEvaluator
	pollInterval time.Duration
	leadDays     int
	now          func() time.Time
}

func NewConsensusJob(tracer trace.Tracer, evaluator WeatherEvaluator, pollInterval time.Duration, leadDays int) *ConsensusJob {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Minute
	}
	if leadDays < 0 {
		leadDays = 0
	}
	return &ConsensusJob{
		tracer:       tracer,
		evaluator:    evaluator,
		pollInterval: pollInterval,
		leadDays:     leadDays,
		now:          time.Now,
	}
}

func (j *ConsensusJob) Start(ctx context.Context) {
	if j.evaluator == nil {
		log.Warn().Msg("consensus job disabled: no evaluator")
		<-ctx.Done()
		return
	}

	j.runOnce(ctx)
	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

// TargetDate is the market day the next run evaluates.
func (j *ConsensusJob) TargetDate() string {
	return j.now().UTC().AddDate(0, 0, j.leadDays).Format("2006-01-02")
}

func (j *ConsensusJob) runOnce(ctx context.Context) {
	date := j.TargetDate()
	ctx, span := j.tracer.Start(ctx, "consensus-job.run-once", trace.WithAttributes(attribute.String("date", date)))
	defer span.End()

	batch, err := j.evaluator.EvaluateWeather(ctx, date, nil)
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("consensus cycle failed")
		return
	}

	noResult := 0
	for _, e := range batch.Evaluations {
		if e.Outcome == domain.OutcomeNoResult {
			noResult++
		}
	}
	log.Info().
		Str("date", date).
		Int("evaluated", len(batch.Evaluations)).
		Int("actionable", batch.ActionableCount()).
		Int("no_result", noResult).
		Msg("consensus cycle complete")
}
