package maps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/routing"
)

const okPayload = `{
  "status": "OK",
  "routes": [{
    "overview_polyline": {"points": "abc"},
    "legs": [{
      "distance": {"value": 1000},
      "duration": {"value": 120},
      "duration_in_traffic": {"value": 150},
      "steps": [
        {"start_location": {"lat": 37.7749, "lng": -122.4194}, "end_location": {"lat": 37.7799, "lng": -122.4144},
         "distance": {"value": 500}, "duration": {"value": 60}, "html_instructions": "Head north"},
        {"start_location": {"lat": 37.7799, "lng": -122.4144}, "end_location": {"lat": 37.7849, "lng": -122.4094},
         "distance": {"value": 500}, "duration": {"value": 60}}
      ]
    }]
  }]
}`

func TestNewClientDisabledWithoutKey(t *testing.T) {
	if c := NewClient(""); c != nil {
		t.Fatal("expected nil client for empty key")
	}
	var c *Client
	if c.Enabled() {
		t.Error("nil client reports enabled")
	}
}

func TestGetRouteParsesDirections(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(okPayload))
	}))
	defer srv.Close()

	c := NewClient("test-key").WithBaseURL(srv.URL)
	origin := geo.Coord{Lat: 37.7749, Lng: -122.4194}
	dest := geo.Coord{Lat: 37.7849, Lng: -122.4094}

	routes, err := c.GetRoute(context.Background(), origin, dest, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 1 {
		t.Fatalf("len(routes) = %d", len(routes))
	}
	r := routes[0]
	if r.DistanceM != 1000 || r.DurationS != 120 || r.DurationInTrafficS != 150 || r.Polyline != "abc" {
		t.Errorf("route totals = %+v", r)
	}
	if len(r.Steps) != 2 || r.Steps[0].Start != origin || r.Steps[1].End != dest {
		t.Errorf("steps = %+v", r.Steps)
	}
	if r.Steps[0].Instructions != "Head north" {
		t.Errorf("instructions = %q", r.Steps[0].Instructions)
	}

	for k, want := range map[string]string{
		"origin":         "37.7749,-122.4194",
		"destination":    "37.7849,-122.4094",
		"alternatives":   "true",
		"departure_time": "1700000000",
		"key":            "test-key",
	} {
		if got := gotQuery[k]; len(got) != 1 || got[0] != want {
			t.Errorf("query %s = %v, want %s", k, got, want)
		}
	}
}

func TestGetRouteStatuses(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		wantNo  bool
		wantErr bool
	}{
		{"zero results", 200, `{"status":"ZERO_RESULTS","routes":[]}`, true, true},
		{"denied", 200, `{"status":"REQUEST_DENIED","error_message":"bad key"}`, false, true},
		{"http error", 500, `oops`, false, true},
		{"garbage", 200, `{`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient("k").WithBaseURL(srv.URL)
			_, err := c.GetRoute(context.Background(), geo.Coord{}, geo.Coord{Lat: 1}, time.Now())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if errors.Is(err, routing.ErrNoRoutes) != tt.wantNo {
				t.Errorf("ErrNoRoutes = %v, want %v (err %v)", errors.Is(err, routing.ErrNoRoutes), tt.wantNo, err)
			}
		})
	}
}
