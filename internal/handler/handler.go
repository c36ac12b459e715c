package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/linuzri/polymarket-bot/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// ConsensusAPI is the service surface the HTTP layer needs.
type ConsensusAPI interface {
	EvaluateWeather(ctx context.Context, date string, locations []string) (domain.Batch, error)
	EvaluateSignal(ctx context.Context, instrument string, features []float64, reference *float64) (domain.Evaluation, error)
	ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.StoredResult, error)
}

type Handler struct {
	tracer    trace.Tracer
	consensus ConsensusAPI
	metrics   http.Handler
	now       func() time.Time
}

func New(tracer trace.Tracer, consensus ConsensusAPI, metrics http.Handler) *Handler {
	return &Handler{
		tracer:    tracer,
		consensus: consensus,
		metrics:   metrics,
		now:       time.Now,
	}
}

// RegisterRoutes mounts health and metrics at the root and the consensus
// API behind the API key middleware.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := r.Group("/api/consensus", APIKeyAuth(apiKey))
	api.GET("/weather", h.GetWeatherConsensus)
	api.POST("/signal", h.PostSignalConsensus)
	api.GET("/results", h.ListResults)
}
