package engine

import (
	"github.com/talgya/citytraffic/internal/agents"
	"github.com/talgya/citytraffic/internal/geo"
)

// SpatialIndex answers nearby-agent queries against the presences captured at
// the start of a tick.
type SpatialIndex interface {
	Nearby(center geo.Coord, radiusKm float64, exclude agents.AgentID) []agents.Presence
}

// IndexBuilder constructs a SpatialIndex over one tick's presences.
type IndexBuilder func(presences []agents.Presence) SpatialIndex

// LinearIndex scans every presence. O(n) per query, O(n²) per tick; fine for
// hundreds of agents.
type LinearIndex []agents.Presence

// NewLinearIndex is an IndexBuilder for LinearIndex.
func NewLinearIndex(presences []agents.Presence) SpatialIndex {
	return LinearIndex(presences)
}

// Nearby returns presences within radiusKm of center, excluding one id.
func (l LinearIndex) Nearby(center geo.Coord, radiusKm float64, exclude agents.AgentID) []agents.Presence {
	var out []agents.Presence
	for _, p := range l {
		if p.ID == exclude {
			continue
		}
		if geo.DistanceKm(center, p.Position) <= radiusKm {
			out = append(out, p)
		}
	}
	return out
}
