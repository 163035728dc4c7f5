// Simulation owns the live agent set and the road-condition map, and runs the
// per-tick perceive/decide/move/learn pass over every agent.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/citytraffic/internal/agents"
	"github.com/talgya/citytraffic/internal/entropy"
	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/roads"
)

// MaxSpawnCount caps a single spawn request.
const MaxSpawnCount = 500

var (
	ErrInvalidCount    = errors.New("invalid spawn count")
	ErrUnknownBlockage = errors.New("unknown blockage")
	ErrUnknownAgent    = errors.New("unknown agent")
)

// Publisher receives one encoded snapshot per tick. Implementations must not
// block the caller.
type Publisher interface {
	Publish(data []byte)
}

// ConditionStore persists road conditions across restarts.
type ConditionStore interface {
	SaveCondition(key string, c roads.Condition) error
	DeleteCondition(key string) error
}

// Config tunes the simulation loop.
type Config struct {
	Tick            time.Duration // tick period and simulated time per tick
	PerceptionEvery time.Duration // per-agent perception cadence
	NearbyRadiusKm  float64       // radius of the nearby-agent query
	Workers         int           // max concurrent agent updates per tick; 0 = one goroutine per agent
	SummaryEvery    uint64        // ticks between summary log lines; 0 disables
	Index           IndexBuilder  // spatial index built once per tick
}

// DefaultConfig returns the standard 100 ms loop with 1 s perception.
func DefaultConfig() Config {
	return Config{
		Tick:            DefaultInterval,
		PerceptionEvery: time.Second,
		NearbyRadiusKm:  0.5,
		SummaryEvery:    50,
		Index:           NewLinearIndex,
	}
}

// Stats are aggregate figures over the live agents.
type Stats struct {
	TotalAgents      int     `json:"total_agents"`
	AvgStress        float64 `json:"avg_stress"`
	StuckAgents      int     `json:"stuck_agents"`
	RethinkingAgents int     `json:"rethinking_agents"`
}

// Snapshot is the state published after each tick. It is never mutated once built.
type Snapshot struct {
	Timestamp      time.Time      `json:"timestamp"`
	Tick           uint64         `json:"tick"`
	Agents         []agents.State `json:"agents"`
	RoadConditions roads.View     `json:"road_conditions"`
	Stats          Stats          `json:"stats"`
}

// Status is the control-surface summary.
type Status struct {
	Running       bool   `json:"running"`
	AgentCount    int    `json:"agent_count"`
	BlockageCount int    `json:"blockage_count"`
	Tick          uint64 `json:"tick"`
}

// Simulation is the agent manager. All mutation of the agent set and the
// condition map goes through its methods.
type Simulation struct {
	// Optional collaborators, set before Start.
	Publisher Publisher
	Store     ConditionStore

	cfg     Config
	engine  *Engine
	spawner *agents.Spawner
	rng     entropy.Source
	clock   func() time.Time

	mu         sync.RWMutex
	roster     []*agents.Agent // creation order
	agentIndex map[agents.AgentID]*agents.Agent
	conditions *roads.Store

	// stepMu serializes ticks with forced perception passes.
	stepMu sync.Mutex

	last    atomic.Pointer[Snapshot]
	arrived atomic.Uint64
	dropped atomic.Uint64
}

// NewSimulation creates a simulation that spawns agents with spawner and draws
// perception phases from rng.
func NewSimulation(cfg Config, spawner *agents.Spawner, rng entropy.Source) *Simulation {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.NearbyRadiusKm <= 0 {
		cfg.NearbyRadiusKm = def.NearbyRadiusKm
	}
	if cfg.Index == nil {
		cfg.Index = def.Index
	}

	s := &Simulation{
		cfg:        cfg,
		spawner:    spawner,
		rng:        rng,
		clock:      time.Now,
		agentIndex: make(map[agents.AgentID]*agents.Agent),
		conditions: roads.NewStore(),
	}
	s.engine = NewEngine(cfg.Tick)
	s.engine.SummaryEvery = cfg.SummaryEvery
	s.engine.OnTick = s.Tick
	s.engine.OnSummary = s.logSummary
	return s
}

// SetClock overrides the time source for snapshots and blockage timestamps.
func (s *Simulation) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Engine returns the loop driving this simulation.
func (s *Simulation) Engine() *Engine {
	return s.engine
}

// Start begins ticking. Returns false if already running.
func (s *Simulation) Start(ctx context.Context) bool {
	return s.engine.Start(ctx)
}

// Stop halts ticking and waits for the current tick to finish. Safe to call
// repeatedly.
func (s *Simulation) Stop() {
	s.engine.Stop()
}

// Running reports whether the loop is active.
func (s *Simulation) Running() bool {
	return s.engine.Running()
}

// Advance runs n ticks synchronously on the caller's goroutine.
func (s *Simulation) Advance(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		s.engine.Step(ctx)
	}
}

// SpawnAgents creates count agents with uniform random endpoints inside b and
// returns their ids in creation order.
func (s *Simulation) SpawnAgents(ctx context.Context, count int, b geo.Bounds) ([]agents.AgentID, error) {
	if count < 1 || count > MaxSpawnCount {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidCount, count, MaxSpawnCount)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	ids := make([]agents.AgentID, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return ids, fmt.Errorf("spawn interrupted after %d agents: %w", len(ids), err)
		}
		a := s.spawner.SpawnInBounds(ctx, b)
		s.register(a)
		ids = append(ids, a.ID)
	}

	slog.Info("agents spawned", "count", len(ids), "total", s.AgentCount())
	return ids, nil
}

// SpawnAgent creates one agent between explicit endpoints.
func (s *Simulation) SpawnAgent(ctx context.Context, origin, destination geo.Coord) (agents.AgentID, error) {
	if err := origin.Validate(); err != nil {
		return "", fmt.Errorf("origin: %w", err)
	}
	if err := destination.Validate(); err != nil {
		return "", fmt.Errorf("destination: %w", err)
	}

	a := s.spawner.Spawn(ctx, origin, destination)
	routed := a.HasRoute() // the tick loop owns a once registered
	s.register(a)
	slog.Info("agent spawned", "agent", a.ID, "personality", a.Personality, "routed", routed)
	return a.ID, nil
}

func (s *Simulation) register(a *agents.Agent) {
	if s.cfg.PerceptionEvery > 0 {
		a.StaggerPerception(time.Duration(s.rng.Float64() * float64(s.cfg.PerceptionEvery)))
	}
	s.mu.Lock()
	s.roster = append(s.roster, a)
	s.agentIndex[a.ID] = a
	s.mu.Unlock()
}

// Despawn removes one agent from the live set.
func (s *Simulation) Despawn(id agents.AgentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agentIndex[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	delete(s.agentIndex, id)
	s.roster = lo.Reject(s.roster, func(a *agents.Agent, _ int) bool { return a.ID == id })
	return nil
}

// AgentCount returns the number of live agents.
func (s *Simulation) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roster)
}

// AddRoadBlockage marks key blocked at location and immediately runs a forced
// perception and decision pass over every live agent. An empty key is derived
// from location.
func (s *Simulation) AddRoadBlockage(ctx context.Context, key string, location geo.Coord) (string, roads.Condition, error) {
	if err := location.Validate(); err != nil {
		return "", roads.Condition{}, err
	}
	if key == "" {
		key = roads.Key(location)
	}

	c := s.conditions.Block(key, location, s.clock())
	if s.Store != nil {
		if err := s.Store.SaveCondition(key, c); err != nil {
			slog.Warn("failed to persist blockage", "key", key, "error", err)
		}
	}
	slog.Info("road blocked", "key", key, "lat", location.Lat, "lng", location.Lng)

	s.triggerAgentUpdates(ctx)
	return key, c, nil
}

// RemoveRoadBlockage deletes a blockage.
func (s *Simulation) RemoveRoadBlockage(key string) error {
	if !s.conditions.Unblock(key) {
		return fmt.Errorf("%w: %s", ErrUnknownBlockage, key)
	}
	if s.Store != nil {
		if err := s.Store.DeleteCondition(key); err != nil {
			slog.Warn("failed to delete persisted blockage", "key", key, "error", err)
		}
	}
	slog.Info("road unblocked", "key", key)
	return nil
}

// RestoreConditions loads previously persisted conditions without triggering
// agent updates.
func (s *Simulation) RestoreConditions(entries map[string]roads.Condition) {
	s.conditions.Restore(entries)
}

// Conditions returns a copy of the condition map.
func (s *Simulation) Conditions() roads.View {
	return s.conditions.View()
}

// Status summarizes the simulation for the control surface.
func (s *Simulation) Status() Status {
	return Status{
		Running:       s.engine.Running(),
		AgentCount:    s.AgentCount(),
		BlockageCount: s.conditions.Len(),
		Tick:          s.engine.Tick(),
	}
}

// LastSnapshot returns the most recently published snapshot, or nil before the
// first tick.
func (s *Simulation) LastSnapshot() *Snapshot {
	return s.last.Load()
}

// Tick runs one simulation step: every agent moves, perceives when due, and
// learns concurrently; then arrived and routeless agents are removed and a
// snapshot is published.
func (s *Simulation) Tick(ctx context.Context, tick uint64, dt time.Duration) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	live := s.live()
	index := s.cfg.Index(presences(live))
	view := s.conditions.View()

	s.forEach(live, func(a *agents.Agent) {
		a.Move(dt)
		if a.PerceptionDue(dt, s.cfg.PerceptionEvery) {
			s.perceiveAndDecide(ctx, a, index, view)
		}
		a.Learn()
	})

	s.cleanup()

	snap := s.snapshot(tick)
	s.last.Store(snap)
	s.publish(snap)
}

// triggerAgentUpdates runs an out-of-cadence perception pass so agents react
// to a new blockage without waiting for their next scheduled perception.
func (s *Simulation) triggerAgentUpdates(ctx context.Context) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	live := s.live()
	index := s.cfg.Index(presences(live))
	view := s.conditions.View()

	s.forEach(live, func(a *agents.Agent) {
		s.perceiveAndDecide(ctx, a, index, view)
	})
}

func (s *Simulation) perceiveAndDecide(ctx context.Context, a *agents.Agent, index SpatialIndex, view roads.View) {
	if !a.HasRoute() || a.Arrived() {
		return
	}
	nearby := index.Nearby(a.Position, s.cfg.NearbyRadiusKm, a.ID)
	a.Decide(ctx, a.Perceive(nearby, view))
}

// forEach applies fn to every agent concurrently and waits for all of them.
// A panic in one agent's update is logged, the agent is rolled back to its
// state before fn, and the others are unaffected.
func (s *Simulation) forEach(live []*agents.Agent, fn func(a *agents.Agent)) {
	var g errgroup.Group
	if s.cfg.Workers > 0 {
		g.SetLimit(s.cfg.Workers)
	}
	for _, a := range live {
		g.Go(func() error {
			cp := a.Checkpoint()
			defer func() {
				if r := recover(); r != nil {
					a.Restore(cp)
					slog.Error("agent update panicked", "agent", a.ID, "panic", r)
				}
			}()
			fn(a)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Simulation) live() []*agents.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*agents.Agent(nil), s.roster...)
}

func presences(live []*agents.Agent) []agents.Presence {
	return lo.Map(live, func(a *agents.Agent, _ int) agents.Presence { return a.Presence() })
}

// cleanup drops agents that finished their route or never got one.
func (s *Simulation) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.roster[:0]
	for _, a := range s.roster {
		switch {
		case a.Arrived():
			s.arrived.Add(1)
			slog.Debug("agent arrived", "agent", a.ID)
		case !a.HasRoute():
			s.dropped.Add(1)
			slog.Debug("dropping routeless agent", "agent", a.ID)
		default:
			kept = append(kept, a)
			continue
		}
		delete(s.agentIndex, a.ID)
	}
	clear(s.roster[len(kept):])
	s.roster = kept
}

func (s *Simulation) snapshot(tick uint64) *Snapshot {
	live := s.live()
	states := lo.Map(live, func(a *agents.Agent, _ int) agents.State { return a.State() })
	return &Snapshot{
		Timestamp:      s.clock(),
		Tick:           tick,
		Agents:         states,
		RoadConditions: s.conditions.View(),
		Stats:          computeStats(states),
	}
}

func computeStats(states []agents.State) Stats {
	st := Stats{TotalAgents: len(states)}
	if len(states) == 0 {
		return st
	}
	st.AvgStress = lo.SumBy(states, func(a agents.State) float64 { return a.StressLevel }) / float64(len(states))
	st.StuckAgents = lo.CountBy(states, func(a agents.State) bool { return a.IsStuck })
	st.RethinkingAgents = lo.CountBy(states, func(a agents.State) bool { return a.IsRethinking })
	return st
}

func (s *Simulation) publish(snap *Snapshot) {
	if s.Publisher == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("failed to encode snapshot", "tick", snap.Tick, "error", err)
		return
	}
	s.Publisher.Publish(data)
}

func (s *Simulation) logSummary(tick uint64) {
	snap := s.LastSnapshot()
	if snap == nil {
		return
	}
	slog.Info("traffic summary",
		"tick", humanize.Comma(int64(tick)),
		"agents", humanize.Comma(int64(snap.Stats.TotalAgents)),
		"avg_stress", fmt.Sprintf("%.3f", snap.Stats.AvgStress),
		"stuck", snap.Stats.StuckAgents,
		"rethinking", snap.Stats.RethinkingAgents,
		"blockages", len(snap.RoadConditions),
		"arrived", humanize.Comma(int64(s.arrived.Load())),
		"dropped", humanize.Comma(int64(s.dropped.Load())),
		"overruns", s.engine.Overruns(),
	)
}
