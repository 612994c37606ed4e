package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// ErrNoRoute means the provider answered but found no route.
var ErrNoRoute = errors.New("no route between points")

// RouteResult is one directions answer.
type RouteResult struct {
	Polyline        string
	DistanceKm      float64
	DurationSeconds int
}

// DirectionsProvider computes a driving route.
type DirectionsProvider interface {
	Route(ctx context.Context, origin, destination models.Point) (*RouteResult, error)
}

// GoogleDirections calls the Google Directions JSON API.
type GoogleDirections struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	maxTries uint
	logger   *logger.Logger
}

// NewGoogleDirections builds a traced client with a hard per-call timeout.
func NewGoogleDirections(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *GoogleDirections {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
	return &GoogleDirections{
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   timeout,
		},
		baseURL:  baseURL,
		apiKey:   apiKey,
		maxTries: 3,
		logger:   log.WithComponent("directions"),
	}
}

type directionsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Distance struct {
				Value int `json:"value"`
			} `json:"distance"`
			Duration struct {
				Value int `json:"value"`
			} `json:"duration"`
		} `json:"legs"`
	} `json:"routes"`
}

func (g *GoogleDirections) Route(ctx context.Context, origin, destination models.Point) (*RouteResult, error) {
	q := url.Values{}
	q.Set("origin", formatPoint(origin))
	q.Set("destination", formatPoint(destination))
	q.Set("mode", "driving")
	if g.apiKey != "" {
		q.Set("key", g.apiKey)
	}
	endpoint := g.baseURL + "?" + q.Encode()

	op := func() (*RouteResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("directions provider returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("directions provider returned %d", resp.StatusCode))
		}

		var body directionsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to decode directions response: %w", err))
		}
		switch body.Status {
		case "OK":
		case "ZERO_RESULTS", "NOT_FOUND":
			return nil, backoff.Permanent(ErrNoRoute)
		case "OVER_QUERY_LIMIT", "UNKNOWN_ERROR":
			return nil, fmt.Errorf("directions status %s", body.Status)
		default:
			return nil, backoff.Permanent(fmt.Errorf("directions status %s: %s", body.Status, body.ErrorMessage))
		}
		if len(body.Routes) == 0 {
			return nil, backoff.Permanent(ErrNoRoute)
		}

		r := body.Routes[0]
		res := &RouteResult{Polyline: r.OverviewPolyline.Points}
		meters := 0
		for _, leg := range r.Legs {
			meters += leg.Distance.Value
			res.DurationSeconds += leg.Duration.Value
		}
		res.DistanceKm = float64(meters) / 1000
		return res, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.maxTries),
	)
	if err != nil {
		g.logger.Warn("Directions request failed", "error", err)
		return nil, err
	}
	return res, nil
}

func formatPoint(p models.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}

// StraightLine estimates routes without a provider, at a fixed average speed.
type StraightLine struct {
	SpeedKmh float64
}

func (s StraightLine) Route(_ context.Context, origin, destination models.Point) (*RouteResult, error) {
	speed := s.SpeedKmh
	if speed <= 0 {
		speed = 30
	}
	km := DistanceKm(origin, destination)
	return &RouteResult{
		DistanceKm:      km,
		DurationSeconds: int(km / speed * 3600),
	}, nil
}
