package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/linuzri/polymarket-bot/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const gammaBaseURL = "https://gamma-api.polymarket.com"

// ErrNoMarket means Gamma has no open temperature event for the slug.
var ErrNoMarket = errors.New("no market for slug")

var (
	rangePattern  = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:-|–|to)\s*(-?\d+(?:\.\d+)?)\s*°?\s*([FC])?`)
	singlePattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*°\s*([FC])`)
)

// MarketBucket is one outcome of a temperature event. Bounds are inclusive;
// open-ended buckets use ±Inf.
type MarketBucket struct {
	Label    string      `json:"label"`
	Low      float64     `json:"low"`
	High     float64     `json:"high"`
	Unit     domain.Unit `json:"unit"`
	YesPrice float64     `json:"yes_price"`
}

func (b MarketBucket) Contains(v float64) bool {
	return v >= b.Low && v <= b.High
}

// PriceBook holds the YES prices of every bucket of one event.
type PriceBook struct {
	Slug    string
	Unit    domain.Unit
	Buckets []MarketBucket
}

// PriceFor returns the YES price of the first market bucket containing the
// consensus bucket's lower bound.
func (b *PriceBook) PriceFor(bucket domain.Bucket) (float64, bool) {
	if b == nil {
		return 0, false
	}
	for _, mb := range b.Buckets {
		if mb.Unit != "" && bucket.Unit != "" && mb.Unit != bucket.Unit {
			continue
		}
		if mb.Contains(bucket.Base) {
			if mb.YesPrice < 0 || mb.YesPrice > 1 || math.IsNaN(mb.YesPrice) {
				return 0, false
			}
			return mb.YesPrice, true
		}
	}
	return 0, false
}

type GammaProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

func NewGammaProvider(tracer trace.Tracer, baseURL string) *GammaProvider {
	if baseURL == "" {
		baseURL = gammaBaseURL
	}
	return &GammaProvider{
		client:  &http.Client{Timeout: 20 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		tracer:  tracer,
		limiter: NewRateLimiter(5, 200*time.Millisecond),
	}
}

type gammaEvent struct {
	Title   string        `json:"title"`
	Slug    string        `json:"slug"`
	Markets []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	Question       string `json:"question"`
	GroupItemTitle string `json:"groupItemTitle"`
	OutcomePrices  string `json:"outcomePrices"`
	Closed         bool   `json:"closed"`
}

// WeatherSlug builds the event slug of a daily high-temperature market,
// e.g. highest-temperature-in-nyc-on-february-17-2026.
func WeatherSlug(city string, date time.Time) string {
	return fmt.Sprintf("highest-temperature-in-%s-on-%s-%d-%d",
		city, strings.ToLower(date.Month().String()), date.Day(), date.Year())
}

// FetchPriceBook loads the temperature event for city on date. unit is used
// for bucket labels that carry no unit of their own.
func (p *GammaProvider) FetchPriceBook(ctx context.Context, city string, date time.Time, unit domain.Unit) (*PriceBook, error) {
	slug := WeatherSlug(city, date)
	ctx, span := p.tracer.Start(ctx, "gamma.fetch-price-book", trace.WithAttributes(attribute.String("slug", slug)))
	defer span.End()

	req, err := http.NewRequest(http.MethodGet, p.baseURL+"/events?slug="+url.QueryEscape(slug), nil)
	if err != nil {
		return nil, err
	}
	body, err := doRequest(ctx, p.client, p.limiter, "gamma", req)
	if err != nil {
		return nil, fmt.Errorf("fetch event %s: %w", slug, err)
	}

	var events []gammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("parse event %s: %w", slug, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoMarket, slug)
	}

	book := &PriceBook{Slug: slug, Unit: unit}
	for _, m := range events[0].Markets {
		if m.Closed {
			continue
		}
		text := m.GroupItemTitle
		if text == "" {
			text = m.Question
		}
		bucket, ok := ParseMarketBucket(text, unit)
		if !ok {
			continue
		}
		price, ok := yesPrice(m.OutcomePrices)
		if !ok {
			continue
		}
		bucket.YesPrice = price
		book.Buckets = append(book.Buckets, bucket)
	}
	if len(book.Buckets) == 0 {
		return nil, fmt.Errorf("%w %s: no priced buckets", ErrNoMarket, slug)
	}
	return book, nil
}

// ParseMarketBucket understands "38-39°F", "52°F or higher", "37°F or lower"
// and "9°C".
func ParseMarketBucket(text string, defaultUnit domain.Unit) (MarketBucket, bool) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	unit := defaultUnit
	switch {
	case strings.Contains(text, "°F") || strings.Contains(lower, "fahrenheit"):
		unit = domain.UnitFahrenheit
	case strings.Contains(text, "°C") || strings.Contains(lower, "celsius"):
		unit = domain.UnitCelsius
	}

	if m := rangePattern.FindStringSubmatch(text); m != nil {
		lo, err1 := strconv.ParseFloat(m[1], 64)
		hi, err2 := strconv.ParseFloat(m[2], 64)
		if err1 == nil && err2 == nil && lo <= hi {
			return MarketBucket{Label: text, Low: lo, High: hi, Unit: unit}, true
		}
	}

	m := singlePattern.FindStringSubmatch(text)
	if m == nil {
		return MarketBucket{}, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return MarketBucket{}, false
	}
	b := MarketBucket{Label: text, Low: v, High: v, Unit: unit}
	switch {
	case containsAny(lower, "or higher", "or above", "or more"):
		b.High = math.Inf(1)
	case containsAny(lower, "or lower", "or below", "or less"):
		b.Low = math.Inf(-1)
	}
	return b, true
}

// yesPrice reads the first entry of Gamma's JSON-encoded outcomePrices
// string, e.g. "[\"0.25\", \"0.75\"]".
func yesPrice(raw string) (float64, bool) {
	var prices []string
	if err := json.Unmarshal([]byte(raw), &prices); err != nil || len(prices) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(prices[0]), 64)
	if err != nil || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
