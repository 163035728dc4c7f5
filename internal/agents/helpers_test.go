package agents

import (
	"context"
	"sync"
	"time"

	"github.com/talgya/citytraffic/internal/entropy"
	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/routing"
)

var (
	sfOrigin      = geo.Coord{Lat: 37.7749, Lng: -122.4194}
	sfDestination = geo.Coord{Lat: 37.7849, Lng: -122.4094}
)

// twoStepRoute is a 1000 m route split into two 500 m steps.
func twoStepRoute(from, to geo.Coord) routing.Route {
	mid := geo.Lerp(from, to, 0.5)
	return routing.Route{
		DistanceM: 1000,
		DurationS: 120,
		Steps: []routing.Step{
			{Start: from, End: mid, DistanceM: 500, DurationS: 60},
			{Start: mid, End: to, DistanceM: 500, DurationS: 60},
		},
	}
}

func route(minutes, km float64) routing.Route {
	return routing.Route{
		DistanceM: km * 1000,
		DurationS: minutes * 60,
		Steps: []routing.Step{
			{Start: sfOrigin, End: sfDestination, DistanceM: km * 1000, DurationS: minutes * 60},
		},
	}
}

// stubProvider answers every query with a fixed list, counting calls.
type stubProvider struct {
	mu     sync.Mutex
	routes []routing.Route
	err    error
	calls  int
}

func (p *stubProvider) GetRoute(ctx context.Context, origin, destination geo.Coord, _ time.Time) ([]routing.Route, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.routes, nil
}

func (p *stubProvider) set(routes ...routing.Route) {
	p.mu.Lock()
	p.routes = routes
	p.mu.Unlock()
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestAgent(p Personality, provider routing.Provider, draws ...float64) *Agent {
	if len(draws) == 0 {
		draws = []float64{0.5}
	}
	a := New("agent-1", p, sfOrigin, sfDestination, provider, entropy.NewSequence(draws...))
	a.SpeedPreference = 1.0
	a.RiskTolerance = 0.5
	a.LearningRate = 0.2
	return a
}
