// Package control is an HTTP client for the trafficsim control surface. It
// observes state through the public endpoints and acts through the admin ones.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/talgya/citytraffic/internal/engine"
	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/roads"
	"github.com/talgya/citytraffic/internal/routing"
)

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to one trafficsim instance.
type Client struct {
	BaseURL    string
	AdminKey   string // sent as a bearer token when non-empty
	HTTPClient *http.Client
}

// NewClient creates a Client targeting the given API base URL.
func NewClient(baseURL, adminKey string) *Client {
	return &Client{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SpawnRequest mirrors the POST /api/v1/agents/spawn body.
type SpawnRequest struct {
	Count       int         `json:"count,omitempty"`
	Bounds      *geo.Bounds `json:"bounds,omitempty"`
	Origin      *geo.Coord  `json:"origin,omitempty"`
	Destination *geo.Coord  `json:"destination,omitempty"`
}

// SpawnResult is the response from POST /api/v1/agents/spawn.
type SpawnResult struct {
	AgentIDs []string `json:"agent_ids"`
	Count    int      `json:"count"`
}

// BlockResult is the response from POST /api/v1/roads/block.
type BlockResult struct {
	Status     string    `json:"status"`
	SegmentKey string    `json:"segment_key"`
	Location   geo.Coord `json:"location"`
}

// TrafficConditions is the response from GET /api/v1/traffic/conditions.
type TrafficConditions struct {
	Bounds     geo.Bounds                    `json:"bounds"`
	Grid       int                           `json:"grid"`
	Conditions map[string]routing.Conditions `json:"conditions"`
}

type statusResult struct {
	Status string `json:"status"`
}

// Status fetches GET /api/v1/simulation/status.
func (c *Client) Status(ctx context.Context) (*engine.Status, error) {
	var st engine.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/simulation/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Start starts the simulation loop and returns the reported state.
func (c *Client) Start(ctx context.Context) (string, error) {
	var res statusResult
	err := c.do(ctx, http.MethodPost, "/api/v1/simulation/start", nil, &res)
	return res.Status, err
}

// Stop stops the simulation loop and returns the reported state.
func (c *Client) Stop(ctx context.Context) (string, error) {
	var res statusResult
	err := c.do(ctx, http.MethodPost, "/api/v1/simulation/stop", nil, &res)
	return res.Status, err
}

// Spawn creates agents.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (*SpawnResult, error) {
	var res SpawnResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/agents/spawn", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Despawn removes one agent.
func (c *Client) Despawn(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/agents/"+url.PathEscape(id), nil, nil)
}

// Block marks the road at loc blocked. An empty key lets the server derive one.
func (c *Client) Block(ctx context.Context, key string, loc geo.Coord) (*BlockResult, error) {
	body := map[string]any{"lat": loc.Lat, "lng": loc.Lng}
	if key != "" {
		body["key"] = key
	}
	var res BlockResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/roads/block", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Unblock removes a blockage by segment key.
func (c *Client) Unblock(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/roads/block/"+url.PathEscape(key), nil, nil)
}

// Roads fetches the current road condition map.
func (c *Client) Roads(ctx context.Context) (roads.View, error) {
	var res struct {
		RoadConditions roads.View `json:"road_conditions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/roads", nil, &res); err != nil {
		return nil, err
	}
	return res.RoadConditions, nil
}

// Snapshot fetches the most recently published snapshot.
func (c *Client) Snapshot(ctx context.Context) (*engine.Snapshot, error) {
	var snap engine.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/snapshot", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Conditions samples traffic inside b (nil for the server default) on a
// grid×grid lattice (0 for the server default).
func (c *Client) Conditions(ctx context.Context, b *geo.Bounds, grid int) (*TrafficConditions, error) {
	q := url.Values{}
	if b != nil {
		q.Set("north", strconv.FormatFloat(b.North, 'f', -1, 64))
		q.Set("south", strconv.FormatFloat(b.South, 'f', -1, 64))
		q.Set("east", strconv.FormatFloat(b.East, 'f', -1, 64))
		q.Set("west", strconv.FormatFloat(b.West, 'f', -1, 64))
	}
	if grid > 0 {
		q.Set("grid", strconv.Itoa(grid))
	}
	path := "/api/v1/traffic/conditions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var res TrafficConditions
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// WaitReady polls the status endpoint with exponential backoff until it
// responds or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	backoff := 250 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		_, err := c.Status(ctx)
		if err == nil {
			return nil
		}
		slog.Debug("trafficsim not ready, retrying", "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", c.BaseURL, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// do sends one request and decodes a 200 JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
