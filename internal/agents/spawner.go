// Agent spawning draws personality and traits, assigns an id, and asks the
// route provider for an initial route.
package agents

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/citytraffic/internal/entropy"
	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/routing"
)

// Spawner creates agents for the simulation.
type Spawner struct {
	provider routing.Provider
	rng      entropy.Source
	clock    func() time.Time
}

// NewSpawner creates a spawner drawing traits from rng and routes from provider.
func NewSpawner(provider routing.Provider, rng entropy.Source) *Spawner {
	return &Spawner{provider: provider, rng: rng, clock: time.Now}
}

// SetClock overrides the time source handed to spawned agents.
func (s *Spawner) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Provider returns the route provider agents are wired to.
func (s *Spawner) Provider() routing.Provider {
	return s.provider
}

// Spawn builds one agent between origin and destination and initializes its
// route. The agent is returned even when no route was found; it stays inert
// until removed.
func (s *Spawner) Spawn(ctx context.Context, origin, destination geo.Coord) *Agent {
	a := s.build(origin, destination)
	a.InitializeRoute(ctx)
	return a
}

// SpawnInBounds draws a uniform origin and destination inside b and spawns
// an agent between them.
func (s *Spawner) SpawnInBounds(ctx context.Context, b geo.Bounds) *Agent {
	origin := b.Random(s.rng.Float64)
	destination := b.Random(s.rng.Float64)
	return s.Spawn(ctx, origin, destination)
}

func (s *Spawner) build(origin, destination geo.Coord) *Agent {
	p := Personality(int(s.rng.Float64()*NumPersonalities) % NumPersonalities)
	prof := ProfileFor(p)

	a := New(AgentID(uuid.NewString()), p, origin, destination, s.provider, s.rng)
	a.SpeedPreference = entropy.Uniform(s.rng, prof.SpeedMin, prof.SpeedMax)
	a.RiskTolerance = entropy.Uniform(s.rng, 0.3, 0.9)
	a.LearningRate = entropy.Uniform(s.rng, 0.1, 0.3)
	a.clock = s.clock
	return a
}
