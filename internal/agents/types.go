// Package agents provides the autonomous traveller model: personality,
// route memory, perception, rerouting decisions, and movement along a route.
package agents

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/talgya/citytraffic/internal/entropy"
	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/roads"
	"github.com/talgya/citytraffic/internal/routing"
)

// AgentID is a unique identifier for an agent (a UUID string).
type AgentID string

// Personality selects an agent's route-scoring weights and reroute bias.
type Personality uint8

const (
	Aggressive Personality = iota
	Conservative
	Adaptive
	Explorer
)

// NumPersonalities is the number of personality variants.
const NumPersonalities = 4

var personalityNames = [NumPersonalities]string{"aggressive", "conservative", "adaptive", "explorer"}

// String returns the lower-case label used on the wire.
func (p Personality) String() string {
	if int(p) < len(personalityNames) {
		return personalityNames[p]
	}
	return fmt.Sprintf("personality(%d)", p)
}

// ParsePersonality maps a label back to a Personality.
func ParsePersonality(s string) (Personality, error) {
	for i, name := range personalityNames {
		if name == s {
			return Personality(i), nil
		}
	}
	return 0, fmt.Errorf("unknown personality %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Personality) MarshalText() ([]byte, error) {
	if int(p) >= len(personalityNames) {
		return nil, fmt.Errorf("unknown personality %d", p)
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Personality) UnmarshalText(b []byte) error {
	v, err := ParsePersonality(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Profile is the static behaviour table entry for a personality.
type Profile struct {
	DurationWeight float64 // weight on 1/duration_minutes
	DistanceWeight float64 // weight on 1/distance_km
	NoiseWeight    float64 // weight on a uniform draw per candidate

	SpeedMin, SpeedMax float64 // speed preference range, fraction of baseline

	FlatReroute       float64 // added to every reroute probability
	CongestionReroute float64 // added as congestion_ahead × this
}

var profiles = [NumPersonalities]Profile{
	Aggressive:   {DurationWeight: 0.9, DistanceWeight: 0.1, SpeedMin: 0.8, SpeedMax: 1.0},
	Conservative: {DurationWeight: 0.5, DistanceWeight: 0.5, SpeedMin: 0.5, SpeedMax: 0.7},
	Adaptive:     {DurationWeight: 0.7, DistanceWeight: 0.3, SpeedMin: 0.6, SpeedMax: 0.8, CongestionReroute: 0.2},
	Explorer:     {DurationWeight: 0.4, NoiseWeight: 0.6, SpeedMin: 0.6, SpeedMax: 0.9, FlatReroute: 0.1},
}

// ProfileFor returns the behaviour table entry for p.
func ProfileFor(p Personality) Profile {
	if int(p) < len(profiles) {
		return profiles[p]
	}
	return profiles[Adaptive]
}

// Agent is one simulated traveller. All fields except the rethinking flag are
// owned by whichever goroutine is currently updating the agent; the simulation
// never updates the same agent from two goroutines at once.
type Agent struct {
	ID AgentID

	// Static traits.
	Personality     Personality
	SpeedPreference float64 // fraction of baseline speed
	RiskTolerance   float64 // [0.3, 0.9)
	LearningRate    float64 // [0.1, 0.3)

	// Spatial state.
	Origin       geo.Coord
	Destination  geo.Coord
	Position     geo.Coord
	Route        *routing.Route
	Alternatives []routing.Route
	Segment      int     // index into Route.Steps; len(Steps) means arrived
	Progress     float64 // 0.0–1.0 within the current segment

	// Behavioural state.
	Stress float64 // 0.0–1.0
	Stuck  bool

	Memory Memory

	rethinking      atomic.Bool
	routeKey        string        // cached Route.Fingerprint()
	credited        bool          // completion reward already applied to routeKey
	sincePerception time.Duration // accumulated time toward the next perception pass

	provider routing.Provider
	rng      entropy.Source
	clock    func() time.Time
}

// New creates an agent with explicit traits. Most callers use a Spawner.
func New(id AgentID, p Personality, origin, destination geo.Coord, provider routing.Provider, rng entropy.Source) *Agent {
	prof := ProfileFor(p)
	return &Agent{
		ID:              id,
		Personality:     p,
		SpeedPreference: prof.SpeedMax,
		RiskTolerance:   0.6,
		LearningRate:    0.2,
		Origin:          origin,
		Destination:     destination,
		Position:        origin,
		Memory:          NewMemory(),
		provider:        provider,
		rng:             rng,
		clock:           time.Now,
	}
}

// SetClock overrides the time source used for route queries and memory stamps.
func (a *Agent) SetClock(clock func() time.Time) {
	a.clock = clock
}

// Rethinking reports whether a reroute request is in flight.
func (a *Agent) Rethinking() bool {
	return a.rethinking.Load()
}

// HasRoute reports whether the agent holds a route.
func (a *Agent) HasRoute() bool {
	return a.Route != nil
}

// Arrived reports whether the agent has passed the last step of its route.
func (a *Agent) Arrived() bool {
	return a.Route != nil && a.Segment >= len(a.Route.Steps)
}

// RouteKey returns the fingerprint of the current route, or "" without one.
func (a *Agent) RouteKey() string {
	return a.routeKey
}

// SegmentKey returns the road-condition key of the current step, or "" when
// the agent has no route or has arrived.
func (a *Agent) SegmentKey() string {
	if a.Route == nil || a.Segment >= len(a.Route.Steps) {
		return ""
	}
	return roads.Key(a.Route.Steps[a.Segment].Start)
}

// setRoute installs r and resets progress along it.
func (a *Agent) setRoute(r *routing.Route) {
	a.Route = r
	a.routeKey = r.Fingerprint()
	a.credited = false
	a.Segment = 0
	a.Progress = 0
	if len(r.Steps) > 0 {
		a.Position = r.Steps[0].Start
	}
}

// Presence is the part of an agent other agents may observe. The simulation
// captures one per agent at the start of each tick so perception never reads
// another agent's live state.
type Presence struct {
	ID       AgentID
	Position geo.Coord
	RouteKey string
}

// Presence returns the observable state of a.
func (a *Agent) Presence() Presence {
	return Presence{ID: a.ID, Position: a.Position, RouteKey: a.routeKey}
}

// State is the public view of an agent published in snapshots.
type State struct {
	ID             AgentID     `json:"id"`
	Position       geo.Coord   `json:"position"`
	Destination    geo.Coord   `json:"destination"`
	Personality    Personality `json:"personality"`
	StressLevel    float64     `json:"stress_level"`
	IsStuck        bool        `json:"is_stuck"`
	IsRethinking   bool        `json:"is_rethinking"`
	RouteProgress  float64     `json:"route_progress"`
	CurrentSegment int         `json:"current_segment"`
}

// State returns the agent's public view.
func (a *Agent) State() State {
	return State{
		ID:             a.ID,
		Position:       a.Position,
		Destination:    a.Destination,
		Personality:    a.Personality,
		StressLevel:    a.Stress,
		IsStuck:        a.Stuck,
		IsRethinking:   a.rethinking.Load(),
		RouteProgress:  a.Progress,
		CurrentSegment: a.Segment,
	}
}
