package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/talgya/citytraffic/internal/agents"
	"github.com/talgya/citytraffic/internal/entropy"
	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/roads"
	"github.com/talgya/citytraffic/internal/routing"
)

var (
	sfOrigin      = geo.Coord{Lat: 37.7749, Lng: -122.4194}
	sfDestination = geo.Coord{Lat: 37.7849, Lng: -122.4094}
)

// twoStepProvider answers every query with a 1000 m two-step route from the
// query origin to the query destination.
type twoStepProvider struct {
	mu    sync.Mutex
	calls int
	empty bool
}

func (p *twoStepProvider) GetRoute(_ context.Context, origin, destination geo.Coord, _ time.Time) ([]routing.Route, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.empty {
		return nil, routing.ErrNoRoutes
	}
	mid := geo.Lerp(origin, destination, 0.5)
	return []routing.Route{{
		DistanceM: 1000,
		DurationS: 120,
		Steps: []routing.Step{
			{Start: origin, End: mid, DistanceM: 500, DurationS: 60},
			{Start: mid, End: destination, DistanceM: 500, DurationS: 60},
		},
	}}, nil
}

func (p *twoStepProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// newTestSimulation draws every random value as 0: personality Aggressive,
// speed 0.8, zero perception phase.
func newTestSimulation(provider routing.Provider) *Simulation {
	rng := entropy.NewSequence(0)
	cfg := DefaultConfig()
	cfg.SummaryEvery = 0
	return NewSimulation(cfg, agents.NewSpawner(provider, rng), rng)
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

func (r *recordingPublisher) Publish(data []byte) {
	r.mu.Lock()
	r.messages = append(r.messages, data)
	r.mu.Unlock()
}

type memoryConditionStore struct {
	saved   map[string]roads.Condition
	deleted []string
}

func (m *memoryConditionStore) SaveCondition(key string, c roads.Condition) error {
	m.saved[key] = c
	return nil
}

func (m *memoryConditionStore) DeleteCondition(key string) error {
	m.deleted = append(m.deleted, key)
	return nil
}

func TestSpawnAgentsValidation(t *testing.T) {
	sim := newTestSimulation(&twoStepProvider{})
	ctx := context.Background()

	tests := []struct {
		name   string
		count  int
		bounds geo.Bounds
		want   error
	}{
		{"zero count", 0, geo.DefaultBounds, ErrInvalidCount},
		{"too many", MaxSpawnCount + 1, geo.DefaultBounds, ErrInvalidCount},
		{"missing bounds", 1, geo.Bounds{}, geo.ErrInvalidBounds},
		{"inverted bounds", 1, geo.Bounds{North: 1, South: 2, East: 2, West: 1}, geo.ErrInvalidBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sim.SpawnAgents(ctx, tt.count, tt.bounds)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if sim.AgentCount() != 0 {
		t.Errorf("rejected requests registered %d agents", sim.AgentCount())
	}

	ids, err := sim.SpawnAgents(ctx, 3, geo.DefaultBounds)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] == ids[1] || ids[1] == ids[2] {
		t.Errorf("ids = %v", ids)
	}
	if sim.AgentCount() != 3 {
		t.Errorf("agent count = %d, want 3", sim.AgentCount())
	}
}

func TestSpawnAgentRejectsBadCoordinates(t *testing.T) {
	sim := newTestSimulation(&twoStepProvider{})
	_, err := sim.SpawnAgent(context.Background(), geo.Coord{Lat: 95}, sfDestination)
	if !errors.Is(err, geo.ErrInvalidCoord) {
		t.Errorf("err = %v, want ErrInvalidCoord", err)
	}
}

func TestAgentArrivesAndIsRemoved(t *testing.T) {
	sim := newTestSimulation(&twoStepProvider{})
	ctx := context.Background()
	if _, err := sim.SpawnAgent(ctx, sfOrigin, sfDestination); err != nil {
		t.Fatal(err)
	}

	// Speed 0.8 covers 0.008 of a 500 m step per 100 ms tick: about 250 ticks.
	sim.Advance(ctx, 240)
	if sim.AgentCount() != 1 {
		t.Fatalf("agent removed early after 240 ticks")
	}
	snap := sim.LastSnapshot()
	if snap.Agents[0].CurrentSegment != 1 {
		t.Errorf("segment after 240 ticks = %d, want 1", snap.Agents[0].CurrentSegment)
	}

	sim.Advance(ctx, 20)
	if sim.AgentCount() != 0 {
		t.Errorf("agent still live after arriving")
	}
	if snap := sim.LastSnapshot(); len(snap.Agents) != 0 || snap.Stats.TotalAgents != 0 {
		t.Errorf("snapshot still lists arrived agent: %+v", snap.Stats)
	}
}

func TestRoutelessAgentIsDropped(t *testing.T) {
	sim := newTestSimulation(&twoStepProvider{empty: true})
	ctx := context.Background()
	if _, err := sim.SpawnAgent(ctx, sfOrigin, sfDestination); err != nil {
		t.Fatal(err)
	}
	if sim.AgentCount() != 1 {
		t.Fatal("routeless agent not registered")
	}
	sim.Advance(ctx, 1)
	if sim.AgentCount() != 0 {
		t.Error("routeless agent survived cleanup")
	}
}

func TestBlockageForcesOneReroutePerEvent(t *testing.T) {
	provider := &twoStepProvider{}
	sim := newTestSimulation(provider)
	store := &memoryConditionStore{saved: make(map[string]roads.Condition)}
	sim.Store = store
	ctx := context.Background()

	if _, err := sim.SpawnAgent(ctx, sfOrigin, sfDestination); err != nil {
		t.Fatal(err)
	}

	key, c, err := sim.AddRoadBlockage(ctx, "", sfOrigin)
	if err != nil {
		t.Fatal(err)
	}
	if key != roads.Key(sfOrigin) || !c.Blocked {
		t.Errorf("blockage = %q %+v", key, c)
	}
	if _, ok := store.saved[key]; !ok {
		t.Error("blockage not persisted")
	}
	if got := provider.callCount(); got != 2 {
		t.Fatalf("provider calls after block = %d, want 2 (spawn + forced reroute)", got)
	}

	// Three more perception passes over the same blockage.
	sim.Advance(ctx, 30)
	if got := provider.callCount(); got != 2 {
		t.Errorf("provider calls after 30 ticks = %d, want 2", got)
	}
	snap := sim.LastSnapshot()
	if snap.Agents[0].StressLevel != 1.0 || snap.Stats.AvgStress != 1.0 {
		t.Errorf("stress = %v avg %v, want 1.0", snap.Agents[0].StressLevel, snap.Stats.AvgStress)
	}
	if !snap.RoadConditions.Blocked(key) {
		t.Error("snapshot missing blockage")
	}
	if snap.Agents[0].IsRethinking {
		t.Error("agent left rethinking")
	}

	if err := sim.RemoveRoadBlockage(key); err != nil {
		t.Fatal(err)
	}
	if err := sim.RemoveRoadBlockage(key); !errors.Is(err, ErrUnknownBlockage) {
		t.Errorf("second unblock err = %v, want ErrUnknownBlockage", err)
	}
	if diff := cmp.Diff([]string{key}, store.deleted); diff != "" {
		t.Errorf("deleted keys (-want +got):\n%s", diff)
	}
}

func TestAgentPanicIsIsolated(t *testing.T) {
	var mu sync.Mutex
	calls := map[geo.Coord]int{}
	twoStep := &twoStepProvider{}
	boom := geo.Coord{Lat: 37.76, Lng: -122.45}
	provider := routing.ProviderFunc(func(ctx context.Context, origin, destination geo.Coord, at time.Time) ([]routing.Route, error) {
		mu.Lock()
		calls[origin]++
		n := calls[origin]
		mu.Unlock()
		if origin == boom && n > 1 {
			panic("provider failure")
		}
		return twoStep.GetRoute(ctx, origin, destination, at)
	})

	sim := newTestSimulation(provider)
	ctx := context.Background()
	if _, err := sim.SpawnAgent(ctx, boom, sfDestination); err != nil {
		t.Fatal(err)
	}
	if _, err := sim.SpawnAgent(ctx, sfOrigin, sfDestination); err != nil {
		t.Fatal(err)
	}

	if _, _, err := sim.AddRoadBlockage(ctx, "", boom); err != nil {
		t.Fatal(err)
	}

	sim.Advance(ctx, 1)
	snap := sim.LastSnapshot()
	if len(snap.Agents) != 2 {
		t.Fatalf("agents after panic = %d, want 2", len(snap.Agents))
	}
	for _, a := range snap.Agents {
		if a.IsRethinking {
			t.Errorf("agent %s left rethinking after panic", a.ID)
		}
		if a.RouteProgress <= 0 {
			t.Errorf("agent %s did not move on the next tick", a.ID)
		}
	}
}

// panicIndex fails every nearby query made on behalf of one agent.
type panicIndex struct {
	LinearIndex
	victim agents.AgentID
}

func (p panicIndex) Nearby(center geo.Coord, radiusKm float64, exclude agents.AgentID) []agents.Presence {
	if exclude == p.victim {
		panic("index failure")
	}
	return p.LinearIndex.Nearby(center, radiusKm, exclude)
}

func TestPanickingAgentIsRolledBack(t *testing.T) {
	var victim agents.AgentID
	rng := entropy.NewSequence(0)
	cfg := DefaultConfig()
	cfg.PerceptionEvery = 0 // perceive on every tick, after moving
	cfg.SummaryEvery = 0
	cfg.Index = func(p []agents.Presence) SpatialIndex { return panicIndex{LinearIndex(p), victim} }
	sim := NewSimulation(cfg, agents.NewSpawner(&twoStepProvider{}, rng), rng)

	ctx := context.Background()
	victim, _ = sim.SpawnAgent(ctx, sfOrigin, sfDestination)
	other, _ := sim.SpawnAgent(ctx, sfOrigin, sfDestination)
	sim.Advance(ctx, 3)

	states := map[agents.AgentID]agents.State{}
	for _, st := range sim.LastSnapshot().Agents {
		states[st.ID] = st
	}
	if len(states) != 2 {
		t.Fatalf("agents after panics = %d, want 2", len(states))
	}
	if v := states[victim]; v.RouteProgress != 0 || v.CurrentSegment != 0 || v.Position != sfOrigin {
		t.Errorf("panicking agent kept its moves: %+v", v)
	}
	if o := states[other]; o.RouteProgress <= 0 {
		t.Errorf("healthy agent did not move: %+v", o)
	}
}

func TestSpawnAgentWhileRunning(t *testing.T) {
	rng := entropy.NewSequence(0)
	cfg := DefaultConfig()
	cfg.Tick = time.Millisecond
	cfg.PerceptionEvery = 0
	cfg.SummaryEvery = 0
	sim := NewSimulation(cfg, agents.NewSpawner(&twoStepProvider{}, rng), rng)
	ctx := context.Background()

	// Every spawned agent starts on a blocked segment and reroutes on its
	// first tick.
	if _, _, err := sim.AddRoadBlockage(ctx, "", sfOrigin); err != nil {
		t.Fatal(err)
	}
	if !sim.Start(ctx) {
		t.Fatal("Start returned false")
	}
	defer sim.Stop()

	ids := make([]agents.AgentID, 20)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := sim.SpawnAgent(ctx, sfOrigin, sfDestination)
			if err != nil {
				t.Error(err)
			}
			ids[i] = id
		}()
	}
	wg.Wait()
	start := sim.Status().Tick
	waitFor(t, func() bool { return sim.Status().Tick >= start+5 })
	sim.Stop()

	seen := map[agents.AgentID]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if len(seen) != len(ids) || sim.AgentCount() != len(ids) {
		t.Errorf("unique ids %d, live agents %d, want %d", len(seen), sim.AgentCount(), len(ids))
	}
}

func TestSnapshotPublished(t *testing.T) {
	sim := newTestSimulation(&twoStepProvider{})
	pub := &recordingPublisher{}
	sim.Publisher = pub
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	sim.SetClock(func() time.Time { return at })
	ctx := context.Background()

	id, err := sim.SpawnAgent(ctx, sfOrigin, sfDestination)
	if err != nil {
		t.Fatal(err)
	}
	sim.Advance(ctx, 2)

	if len(pub.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.messages))
	}
	var got Snapshot
	if err := json.Unmarshal(pub.messages[1], &got); err != nil {
		t.Fatal(err)
	}
	want := Stats{TotalAgents: 1}
	if diff := cmp.Diff(want, got.Stats); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
	if got.Tick != 2 || !got.Timestamp.Equal(at) {
		t.Errorf("tick %d timestamp %v", got.Tick, got.Timestamp)
	}
	if len(got.Agents) != 1 || got.Agents[0].ID != id || got.Agents[0].Personality != agents.Aggressive {
		t.Errorf("agents = %+v", got.Agents)
	}
	if sim.LastSnapshot().Tick != 2 {
		t.Errorf("last snapshot tick = %d", sim.LastSnapshot().Tick)
	}
}

func TestStatusAndStop(t *testing.T) {
	sim := newTestSimulation(&twoStepProvider{})
	ctx := context.Background()
	sim.SpawnAgent(ctx, sfOrigin, sfDestination)
	sim.AddRoadBlockage(ctx, "", geo.Coord{Lat: 37.8, Lng: -122.4})

	if !sim.Start(ctx) {
		t.Fatal("Start returned false")
	}
	waitFor(t, func() bool { return sim.Status().Tick >= 2 })

	st := sim.Status()
	if !st.Running || st.AgentCount != 1 || st.BlockageCount != 1 {
		t.Errorf("status = %+v", st)
	}

	sim.Stop()
	sim.Stop()
	if sim.Running() || sim.Status().Running {
		t.Error("still running after Stop")
	}
}

func TestDespawn(t *testing.T) {
	sim := newTestSimulation(&twoStepProvider{})
	ctx := context.Background()
	id, _ := sim.SpawnAgent(ctx, sfOrigin, sfDestination)
	if err := sim.Despawn(id); err != nil {
		t.Fatal(err)
	}
	if sim.AgentCount() != 0 {
		t.Error("agent still counted")
	}
	if err := sim.Despawn(id); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("err = %v, want ErrUnknownAgent", err)
	}
}

func TestRestoreConditions(t *testing.T) {
	sim := newTestSimulation(&twoStepProvider{})
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	sim.RestoreConditions(map[string]roads.Condition{
		"a": {Blocked: true, Location: sfOrigin, CreatedAt: at},
	})
	if !sim.Conditions().Blocked("a") || sim.Status().BlockageCount != 1 {
		t.Error("restored condition missing")
	}
}

func TestLinearIndexNearby(t *testing.T) {
	idx := NewLinearIndex([]agents.Presence{
		{ID: "self", Position: sfOrigin},
		{ID: "near", Position: geo.Coord{Lat: sfOrigin.Lat + 0.001, Lng: sfOrigin.Lng}},
		{ID: "far", Position: sfDestination},
	})
	got := idx.Nearby(sfOrigin, 0.5, "self")
	if len(got) != 1 || got[0].ID != "near" {
		t.Errorf("nearby = %v, want [near]", got)
	}
}

func TestComputeStats(t *testing.T) {
	states := []agents.State{
		{StressLevel: 0.25, IsStuck: true},
		{StressLevel: 0.5, IsRethinking: true},
		{StressLevel: 1.0},
		{StressLevel: 0.25, IsStuck: true},
	}
	want := Stats{TotalAgents: 4, AvgStress: 0.5, StuckAgents: 2, RethinkingAgents: 1}
	if diff := cmp.Diff(want, computeStats(states)); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{}, computeStats(nil)); diff != "" {
		t.Errorf("empty stats (-want +got):\n%s", diff)
	}
}
