// Agent memory: route experience scores, per-segment congestion history, and
// the blockages an agent has already reacted to.
package agents

import "time"

const (
	MaxSegmentHistory = 5

	MinExperience     = 0.3
	MaxExperience     = 2.0
	NeutralExperience = 1.0

	// RerouteExperiencePenalty is subtracted from a route abandoned by a reroute.
	RerouteExperiencePenalty = 0.1
)

// SegmentSample records one traversal of a road segment.
type SegmentSample struct {
	At         time.Time `json:"timestamp"`
	Congestion float64   `json:"congestion"`
	DurationS  float64   `json:"duration"`
}

// Incident records a blockage the agent reacted to.
type Incident struct {
	Key       string    `json:"key"`
	BlockedAt time.Time `json:"blocked_at"` // creation time of the blockage, identifies the event
	SeenAt    time.Time `json:"seen_at"`
}

// Memory holds everything an agent learns over its lifetime.
type Memory struct {
	Experience map[string]float64         `json:"experience"` // route fingerprint → score in [0.3, 2.0]
	Segments   map[string][]SegmentSample `json:"segments"`   // segment key → last 5 traversals, oldest first
	Incidents  []Incident                 `json:"incidents"`
}

// NewMemory returns an empty memory.
func NewMemory() Memory {
	return Memory{
		Experience: make(map[string]float64),
		Segments:   make(map[string][]SegmentSample),
	}
}

// ExperienceFactor returns the stored score for a route, if any.
func (m *Memory) ExperienceFactor(routeKey string) (float64, bool) {
	v, ok := m.Experience[routeKey]
	return v, ok
}

// AdjustExperience adds delta to a route's score (starting from neutral) and
// clamps the result to [MinExperience, MaxExperience].
func (m *Memory) AdjustExperience(routeKey string, delta float64) float64 {
	if routeKey == "" {
		return NeutralExperience
	}
	v, ok := m.Experience[routeKey]
	if !ok {
		v = NeutralExperience
	}
	v += delta
	if v < MinExperience {
		v = MinExperience
	}
	if v > MaxExperience {
		v = MaxExperience
	}
	m.Experience[routeKey] = v
	return v
}

// RecordSegment appends a traversal sample, evicting the oldest beyond
// MaxSegmentHistory.
func (m *Memory) RecordSegment(key string, s SegmentSample) {
	if key == "" {
		return
	}
	h := append(m.Segments[key], s)
	if len(h) > MaxSegmentHistory {
		h = append([]SegmentSample(nil), h[len(h)-MaxSegmentHistory:]...)
	}
	m.Segments[key] = h
}

// TrimSegments keeps only the most recent MaxSegmentHistory samples per segment.
func (m *Memory) TrimSegments() {
	for key, h := range m.Segments {
		if len(h) > MaxSegmentHistory {
			m.Segments[key] = append([]SegmentSample(nil), h[len(h)-MaxSegmentHistory:]...)
		}
	}
}

// SeenIncident reports whether the agent already reacted to this blockage event.
func (m *Memory) SeenIncident(key string, blockedAt time.Time) bool {
	for i := len(m.Incidents) - 1; i >= 0; i-- {
		in := m.Incidents[i]
		if in.Key == key && in.BlockedAt.Equal(blockedAt) {
			return true
		}
	}
	return false
}

// RecordIncident remembers a blockage event.
func (m *Memory) RecordIncident(in Incident) {
	m.Incidents = append(m.Incidents, in)
}
