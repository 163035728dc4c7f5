// Agent behaviour: perception, decisions and rerouting.
// Route queries are the only place an agent blocks; everything else runs to
// completion inside one update.
package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/roads"
	"github.com/talgya/citytraffic/internal/routing"
)

const (
	// SameRouteRadiusKm is how close a same-route agent must be to count as congestion.
	SameRouteRadiusKm = 0.1
	// CongestionThreshold is the same-route count that must be exceeded before congestion registers.
	CongestionThreshold = 5
	// CongestionSaturation is the same-route count at which congestion reaches 1.0.
	CongestionSaturation = 10.0
	// HighCongestion is the congestion level above which risk-tolerant agents consider rerouting.
	HighCongestion = 0.7
)

// Stress factor labels reported in a Perception.
const (
	FactorHighDensity = "high_density"
	FactorRoadBlocked = "road_blocked"
)

// Perception is an agent's assessment of its surroundings for one pass.
type Perception struct {
	CongestionAhead float64   `json:"congestion_ahead"`
	BlockedRoute    bool      `json:"blocked_route"`
	SegmentKey      string    `json:"segment_key,omitempty"`
	BlockedAt       time.Time `json:"blocked_at,omitempty"` // creation time of the blockage on SegmentKey
	StressFactors   []string  `json:"stress_factors,omitempty"`
}

// InitializeRoute queries candidate routes from origin to destination and
// adopts the best. Returns false, leaving the agent routeless, when the
// provider has nothing.
func (a *Agent) InitializeRoute(ctx context.Context) bool {
	routes, err := a.provider.GetRoute(ctx, a.Origin, a.Destination, a.clock())
	if err != nil || len(routes) == 0 {
		slog.Debug("agent has no initial route", "agent", a.ID, "error", err)
		return false
	}
	a.Alternatives = routes
	best := a.SelectBestRoute(routes)
	a.setRoute(&routes[best])
	return true
}

// SelectBestRoute scores each candidate with the personality weights, scales
// by remembered experience, and returns the index of the highest score. Ties
// go to the earliest candidate.
func (a *Agent) SelectBestRoute(routes []routing.Route) int {
	prof := ProfileFor(a.Personality)
	best, bestScore := 0, 0.0

	for i := range routes {
		r := &routes[i]
		score := prof.DurationWeight*inverse(r.DurationS/60) +
			prof.DistanceWeight*inverse(r.DistanceM/1000)
		if prof.NoiseWeight > 0 {
			score += prof.NoiseWeight * a.rng.Float64()
		}
		if factor, ok := a.Memory.ExperienceFactor(r.Fingerprint()); ok {
			score *= factor
		}

		if i == 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

func inverse(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return 1 / x
}

// Perceive assesses congestion from nearby agents and blockages on the current
// segment, and sets Stress accordingly.
func (a *Agent) Perceive(nearby []Presence, conditions roads.View) Perception {
	var p Perception

	sameRoute := 0
	if a.routeKey != "" {
		for _, other := range nearby {
			if other.ID == a.ID || other.RouteKey != a.routeKey {
				continue
			}
			if geo.DistanceKm(a.Position, other.Position) < SameRouteRadiusKm {
				sameRoute++
			}
		}
	}
	if sameRoute > CongestionThreshold {
		p.CongestionAhead = min(float64(sameRoute)/CongestionSaturation, 1.0)
		p.StressFactors = append(p.StressFactors, FactorHighDensity)
	}

	p.SegmentKey = a.SegmentKey()
	if c, ok := conditions[p.SegmentKey]; ok && c.Blocked && p.SegmentKey != "" {
		p.BlockedRoute = true
		p.BlockedAt = c.CreatedAt
		p.StressFactors = append(p.StressFactors, FactorRoadBlocked)
	}

	a.Stress = p.CongestionAhead
	if p.BlockedRoute {
		a.Stress = 1.0
	}
	return p
}

// RerouteProbability is the chance an agent reroutes given a perception.
func (a *Agent) RerouteProbability(p Perception) float64 {
	prob := 0.0
	if p.BlockedRoute {
		prob = 1.0
	} else if p.CongestionAhead > HighCongestion {
		prob = p.CongestionAhead * a.RiskTolerance
	}
	prof := ProfileFor(a.Personality)
	return prob + prof.FlatReroute + p.CongestionAhead*prof.CongestionReroute
}

// Decide draws against the reroute probability and reroutes on success. A
// blockage forces a reroute once per blockage event; later passes over the
// same event fall back to the congestion-based probability.
// Returns true if the route changed.
func (a *Agent) Decide(ctx context.Context, p Perception) bool {
	if a.rethinking.Load() {
		return false
	}

	if p.BlockedRoute {
		if a.Memory.SeenIncident(p.SegmentKey, p.BlockedAt) {
			p.BlockedRoute = false
		} else {
			a.Memory.RecordIncident(Incident{Key: p.SegmentKey, BlockedAt: p.BlockedAt, SeenAt: a.clock()})
		}
	}

	if a.rng.Float64() < a.RerouteProbability(p) {
		return a.RethinkRoute(ctx)
	}
	return false
}

// RethinkRoute asks for fresh routes from the current position. On success it
// penalizes the abandoned route, adopts the best candidate, and resets
// progress if the route actually changed. The rethinking flag is held for the
// duration and always released. A concurrent call returns false immediately.
func (a *Agent) RethinkRoute(ctx context.Context) bool {
	if !a.rethinking.CompareAndSwap(false, true) {
		return false
	}
	defer a.rethinking.Store(false)

	routes, err := a.provider.GetRoute(ctx, a.Position, a.Destination, a.clock())
	if err != nil || len(routes) == 0 {
		if a.Route == nil {
			a.Stuck = true
		}
		slog.Debug("reroute found nothing, keeping route", "agent", a.ID, "error", err)
		return false
	}

	if a.Route != nil {
		a.Memory.AdjustExperience(a.routeKey, -RerouteExperiencePenalty)
	}

	a.Alternatives = routes
	best := &routes[a.SelectBestRoute(routes)]
	if best.Fingerprint() == a.routeKey {
		return false
	}

	a.setRoute(best)
	a.Stuck = false
	slog.Debug("agent rerouted",
		"agent", a.ID,
		"personality", a.Personality,
		"steps", len(best.Steps),
	)
	return true
}
