package agents

import (
	"maps"
	"time"

	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/routing"
)

// Checkpoint captures the state one tick can change. Restoring it rolls an
// agent back to where it was before a failed update.
type Checkpoint struct {
	position     geo.Coord
	route        *routing.Route
	alternatives []routing.Route
	segment      int
	progress     float64

	stress float64
	stuck  bool

	experience map[string]float64
	segments   map[string][]SegmentSample
	incidents  []Incident

	routeKey        string
	credited        bool
	sincePerception time.Duration
}

// Checkpoint copies the agent's mutable state. Segment histories and
// incidents only grow by append or get replaced, so their slice headers are
// kept as is; only the maps are cloned.
func (a *Agent) Checkpoint() Checkpoint {
	return Checkpoint{
		position:        a.Position,
		route:           a.Route,
		alternatives:    a.Alternatives,
		segment:         a.Segment,
		progress:        a.Progress,
		stress:          a.Stress,
		stuck:           a.Stuck,
		experience:      maps.Clone(a.Memory.Experience),
		segments:        maps.Clone(a.Memory.Segments),
		incidents:       a.Memory.Incidents,
		routeKey:        a.routeKey,
		credited:        a.credited,
		sincePerception: a.sincePerception,
	}
}

// Restore puts back the state captured by Checkpoint. The rethinking flag is
// not touched; RethinkRoute releases it on every exit path.
func (a *Agent) Restore(c Checkpoint) {
	a.Position = c.position
	a.Route = c.route
	a.Alternatives = c.alternatives
	a.Segment = c.segment
	a.Progress = c.progress
	a.Stress = c.stress
	a.Stuck = c.stuck
	a.Memory.Experience = c.experience
	a.Memory.Segments = c.segments
	a.Memory.Incidents = c.incidents
	a.routeKey = c.routeKey
	a.credited = c.credited
	a.sincePerception = c.sincePerception
}
