package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linuzri/polymarket-bot/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	openMeteoBaseURL = "https://api.open-meteo.com/v1"
	dailyMaxField    = "temperature_2m_max"
)

// ErrNoForecast means the model returned no value for the requested day.
var ErrNoForecast = errors.New("no forecast for date")

// Coordinates locate a forecast point.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// OpenMeteoProvider fetches the daily maximum temperature from a single
// Open-Meteo weather model per request.
type OpenMeteoProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

// NewOpenMeteoProvider rate limits to 10 requests per second, below the
// free tier's burst allowance.
func NewOpenMeteoProvider(tracer trace.Tracer, baseURL string) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = openMeteoBaseURL
	}
	return &OpenMeteoProvider{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		tracer:  tracer,
		limiter: NewRateLimiter(10, 100*time.Millisecond),
	}
}

type dailyResponse struct {
	Daily      map[string]json.RawMessage `json:"daily"`
	DailyUnits map[string]string          `json:"daily_units"`
	Error      bool                       `json:"error"`
	Reason     string                     `json:"reason"`
}

// FetchDailyMax returns the model's forecast daily high for date
// (YYYY-MM-DD, station local time) and the unit it is expressed in.
func (p *OpenMeteoProvider) FetchDailyMax(ctx context.Context, at Coordinates, date, model string) (float64, domain.Unit, error) {
	ctx, span := p.tracer.Start(ctx, "open-meteo.fetch-daily-max",
		trace.WithAttributes(attribute.String("model", model), attribute.String("date", date)))
	defer span.End()

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(at.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(at.Longitude, 'f', -1, 64))
	q.Set("daily", dailyMaxField)
	q.Set("timezone", "auto")
	q.Set("start_date", date)
	q.Set("end_date", date)
	if model != "" {
		q.Set("models", model)
	}

	req, err := http.NewRequest(http.MethodGet, p.baseURL+"/forecast?"+q.Encode(), nil)
	if err != nil {
		return 0, "", err
	}
	body, err := doRequest(ctx, p.client, p.limiter, "open-meteo", req)
	if err != nil {
		return 0, "", fmt.Errorf("fetch %s forecast: %w", model, err)
	}

	var raw dailyResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, "", fmt.Errorf("parse %s forecast: %w", model, err)
	}
	if raw.Error {
		return 0, "", fmt.Errorf("open-meteo rejected %s: %s", model, raw.Reason)
	}
	return extractDailyMax(raw, model)
}

// extractDailyMax accepts both the bare field and the model-suffixed field
// Open-Meteo uses when more than one model is requested.
func extractDailyMax(raw dailyResponse, model string) (float64, domain.Unit, error) {
	key := dailyMaxField
	values, ok := raw.Daily[key]
	if !ok && model != "" {
		key = dailyMaxField + "_" + model
		values, ok = raw.Daily[key]
	}
	if !ok {
		return 0, "", fmt.Errorf("%w: %s missing from response", ErrNoForecast, dailyMaxField)
	}

	var series []*float64
	if err := json.Unmarshal(values, &series); err != nil {
		return 0, "", fmt.Errorf("parse %s: %w", key, err)
	}
	if len(series) == 0 || series[0] == nil {
		return 0, "", ErrNoForecast
	}

	unit, err := parseUnit(raw.DailyUnits[key])
	if err != nil {
		return 0, "", err
	}
	return *series[0], unit, nil
}

func parseUnit(s string) (domain.Unit, error) {
	switch strings.TrimSpace(s) {
	case "°C", "C", "":
		return domain.UnitCelsius, nil
	case "°F", "F":
		return domain.UnitFahrenheit, nil
	default:
		return "", fmt.Errorf("unexpected temperature unit %q", s)
	}
}
