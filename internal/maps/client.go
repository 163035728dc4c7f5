// Package maps provides a Directions API client that satisfies routing.Provider.
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/routing"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api/directions/json"

// Client wraps the Directions web service for driving routes with alternatives.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Directions client.
// Returns nil if apiKey is empty (callers fall back to a synthetic provider).
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10), // 10 req/s, burst 10
	}
}

// WithBaseURL points the client at another endpoint (tests, proxies).
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type value struct {
	Value float64 `json:"value"`
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// response is the subset of the Directions payload we consume.
type response struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Routes       []struct {
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Distance          value  `json:"distance"`
			Duration          value  `json:"duration"`
			DurationInTraffic *value `json:"duration_in_traffic"`
			Steps             []struct {
				StartLocation    latLng `json:"start_location"`
				EndLocation      latLng `json:"end_location"`
				Distance         value  `json:"distance"`
				Duration         value  `json:"duration"`
				HTMLInstructions string `json:"html_instructions"`
			} `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// GetRoute fetches driving alternatives from origin to destination.
func (c *Client) GetRoute(ctx context.Context, origin, destination geo.Coord, departure time.Time) ([]routing.Route, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("directions client not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if departure.IsZero() {
		departure = time.Now()
	}
	q := url.Values{}
	q.Set("origin", latLngParam(origin))
	q.Set("destination", latLngParam(destination))
	q.Set("mode", "driving")
	q.Set("alternatives", "true")
	q.Set("traffic_model", "best_guess")
	q.Set("departure_time", strconv.FormatInt(departure.Unix(), 10))
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var apiResp response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	switch apiResp.Status {
	case "OK":
	case "ZERO_RESULTS", "NOT_FOUND":
		return nil, routing.ErrNoRoutes
	default:
		return nil, fmt.Errorf("directions status %s: %s", apiResp.Status, apiResp.ErrorMessage)
	}

	routes := make([]routing.Route, 0, len(apiResp.Routes))
	for _, r := range apiResp.Routes {
		if len(r.Legs) == 0 {
			continue
		}
		leg := r.Legs[0]
		route := routing.Route{
			DistanceM: leg.Distance.Value,
			DurationS: leg.Duration.Value,
			Polyline:  r.OverviewPolyline.Points,
			Steps:     make([]routing.Step, 0, len(leg.Steps)),
		}
		if leg.DurationInTraffic != nil {
			route.DurationInTrafficS = leg.DurationInTraffic.Value
		}
		for _, s := range leg.Steps {
			route.Steps = append(route.Steps, routing.Step{
				Start:        geo.Coord{Lat: s.StartLocation.Lat, Lng: s.StartLocation.Lng},
				End:          geo.Coord{Lat: s.EndLocation.Lat, Lng: s.EndLocation.Lng},
				DistanceM:    s.Distance.Value,
				DurationS:    s.Duration.Value,
				Instructions: s.HTMLInstructions,
			})
		}
		routes = append(routes, route)
	}

	slog.Debug("directions call",
		"origin", origin.Key(),
		"destination", destination.Key(),
		"routes", len(routes),
	)
	if len(routes) == 0 {
		return nil, routing.ErrNoRoutes
	}
	return routes, nil
}

func latLngParam(c geo.Coord) string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}
