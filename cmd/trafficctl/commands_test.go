package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"

	"github.com/talgya/citytraffic/internal/agents"
	"github.com/talgya/citytraffic/internal/api"
	"github.com/talgya/citytraffic/internal/control"
	"github.com/talgya/citytraffic/internal/engine"
	"github.com/talgya/citytraffic/internal/entropy"
	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/routing"
)

func TestBuildSpawnRequest(t *testing.T) {
	o := geo.Coord{Lat: 37.7749, Lng: -122.4194}
	d := geo.Coord{Lat: 37.7849, Lng: -122.4094}
	b := geo.Bounds{North: 37.8, South: 37.76, East: -122.4, West: -122.45}

	tests := []struct {
		name                 string
		count                int
		bounds, origin, dest string
		want                 control.SpawnRequest
		wantErr              bool
	}{
		{name: "count only", count: 5, want: control.SpawnRequest{Count: 5}},
		{name: "bounds", count: 2, bounds: "37.8,37.76,-122.4,-122.45", want: control.SpawnRequest{Count: 2, Bounds: &b}},
		{name: "endpoints", count: 9, origin: "37.7749,-122.4194", dest: "37.7849, -122.4094", want: control.SpawnRequest{Origin: &o, Destination: &d}},
		{name: "inverted bounds", bounds: "37.7,37.8,-122.4,-122.45", wantErr: true},
		{name: "short bounds", bounds: "37.7,37.8", wantErr: true},
		{name: "missing destination", origin: "37.7749,-122.4194", wantErr: true},
		{name: "bad latitude", origin: "97,-122.4", dest: "37.7,-122.4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildSpawnRequest(tt.count, tt.bounds, tt.origin, tt.dest)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("request (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStatusCommand(t *testing.T) {
	gin.SetMode(gin.TestMode)
	provider := routing.NewSyntheticProvider(routing.DefaultSyntheticConfig())
	rng := entropy.NewSeeded(11)
	cfg := engine.DefaultConfig()
	cfg.SummaryEvery = 0
	sim := engine.NewSimulation(cfg, agents.NewSpawner(provider, rng), rng)
	if _, err := sim.SpawnAgents(t.Context(), 3, geo.DefaultBounds); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer((&api.Server{Sim: sim, Provider: provider}).Router())
	defer ts.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--api-url", ts.URL, "status"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.ExecuteContext(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.HasPrefix(got, "stopped") || !strings.Contains(got, "agents 3") {
		t.Errorf("status output = %q", got)
	}
}
