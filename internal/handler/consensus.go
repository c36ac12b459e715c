package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/linuzri/polymarket-bot/internal/domain"
	"github.com/linuzri/polymarket-bot/internal/render"
	"github.com/linuzri/polymarket-bot/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type signalRequest struct {
	Instrument     string    `json:"instrument" binding:"required"`
	Features       []float64 `json:"features" binding:"required,min=1"`
	ReferencePrice *float64  `json:"reference_price" binding:"omitempty,gte=0,lte=1"`
}

// GetWeatherConsensus godoc
// @Summary      Evaluate weather consensus
// @Description  Fetches every forecast model for the requested cities and returns one evaluation per city
// @Tags         consensus
// @Produce      json
// @Param        date    query  string  false  "Market day (YYYY-MM-DD), defaults to today UTC"
// @Param        cities  query  string  false  "Comma separated city keys, defaults to all"
// @Param        format  query  string  false  "json (default) or text"
// @Success      200  {object}  domain.Batch
// @Failure      400  {object}  map[string]string
// @Router       /api/consensus/weather [get]
func (h *Handler) GetWeatherConsensus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-weather-consensus")
	defer span.End()

	date := strings.TrimSpace(c.Query("date"))
	if date == "" {
		date = h.now().UTC().Format("2006-01-02")
	}
	cities := splitList(c.Query("cities"))
	span.SetAttributes(attribute.String("date", date), attribute.Int("cities", len(cities)))

	batch, err := h.consensus.EvaluateWeather(ctx, date, cities)
	if err != nil {
		writeError(c, err)
		return
	}

	if strings.EqualFold(c.Query("format"), "text") {
		c.String(http.StatusOK, render.Report(batch))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instant_id":   batch.InstantID,
		"evaluated_at": batch.EvaluatedAt,
		"actionable":   batch.ActionableCount(),
		"evaluations":  batch.Evaluations,
	})
}

// PostSignalConsensus godoc
// @Summary      Evaluate a discrete model ensemble
// @Description  Runs every configured model of the instrument on one feature vector
// @Tags         consensus
// @Accept       json
// @Produce      json
// @Success      200  {object}  domain.Evaluation
// @Failure      400  {object}  map[string]string
// @Failure      422  {object}  map[string]string
// @Router       /api/consensus/signal [post]
func (h *Handler) PostSignalConsensus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.post-signal-consensus")
	defer span.End()

	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.String("instrument", req.Instrument))

	eval, err := h.consensus.EvaluateSignal(ctx, req.Instrument, req.Features, req.ReferencePrice)
	if err != nil {
		writeError(c, err)
		return
	}
	if eval.Outcome == domain.OutcomeNoResult {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": eval.Reason, "evaluation": eval})
		return
	}
	c.JSON(http.StatusOK, eval)
}

// ListResults godoc
// @Summary      List persisted consensus results
// @Tags         consensus
// @Produce      json
// @Param        instrument  query  string  false  "Filter by instrument"
// @Param        actionable  query  bool    false  "Only actionable results"
// @Param        limit       query  int     false  "Max rows (default 50, max 500)"
// @Success      200  {object}  map[string]interface{}
// @Failure      503  {object}  map[string]string
// @Router       /api/consensus/results [get]
func (h *Handler) ListResults(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-results")
	defer span.End()

	filter := domain.ResultFilter{Instrument: c.Query("instrument")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("actionable"); raw != "" {
		only, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "actionable must be a boolean"})
			return
		}
		filter.ActionableOnly = only
	}

	results, err := h.consensus.ListResults(ctx, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(results), "results": results})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrConfig):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNoResultStore):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
