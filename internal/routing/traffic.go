package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/citytraffic/internal/geo"
)

// Conditions is the sampled traffic state between two grid points.
type Conditions struct {
	CongestionLevel float64 `json:"congestion_level"` // 0 free flow … 1 jammed
	SpeedRatio      float64 `json:"speed_ratio"`      // free-flow duration / duration in traffic
}

// DefaultSampleGrid is the number of grid divisions per side used by SampleTraffic.
const DefaultSampleGrid = 10

// SampleTraffic estimates congestion over an area by querying routes between
// consecutive grid points. Keys are "<origin>_<destination>" coordinate keys.
// Pairs without an answer are omitted.
func SampleTraffic(ctx context.Context, p Provider, b geo.Bounds, grid int, now time.Time) (map[string]Conditions, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if grid <= 0 {
		grid = DefaultSampleGrid
	}
	points := b.Grid(grid)

	var (
		mu  sync.Mutex
		out = make(map[string]Conditions, len(points))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i := 0; i+1 < len(points); i++ {
		origin, destination := points[i], points[i+1]
		g.Go(func() error {
			routes, err := p.GetRoute(gctx, origin, destination, now)
			if errors.Is(err, ErrNoRoutes) || (err == nil && len(routes) == 0) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("sample %s: %w", origin.Key(), err)
			}

			c := ConditionsFor(&routes[0])
			mu.Lock()
			out[origin.Key()+"_"+destination.Key()] = c
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ConditionsFor derives congestion and speed ratio from a route's traffic ratio.
func ConditionsFor(r *Route) Conditions {
	ratio := r.TrafficRatio()
	congestion := (ratio - 1) * 2
	if congestion < 0 {
		congestion = 0
	}
	if congestion > 1 {
		congestion = 1
	}
	return Conditions{
		CongestionLevel: congestion,
		SpeedRatio:      1 / ratio,
	}
}
