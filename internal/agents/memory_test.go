package agents

import (
	"testing"
	"time"
)

func TestAdjustExperienceClamps(t *testing.T) {
	m := NewMemory()

	for i := 0; i < 20; i++ {
		m.AdjustExperience("route", -RerouteExperiencePenalty)
	}
	if got, _ := m.ExperienceFactor("route"); got != MinExperience {
		t.Errorf("floor = %v, want %v", got, MinExperience)
	}

	for i := 0; i < 20; i++ {
		m.AdjustExperience("route", 0.3)
	}
	if got, _ := m.ExperienceFactor("route"); got != MaxExperience {
		t.Errorf("ceiling = %v, want %v", got, MaxExperience)
	}

	if got := m.AdjustExperience("", 0.5); got != NeutralExperience {
		t.Errorf("empty key = %v, want neutral", got)
	}
	if len(m.Experience) != 1 {
		t.Errorf("empty key stored: %v", m.Experience)
	}
}

func TestRecordSegmentKeepsNewest(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		m.RecordSegment("seg", SegmentSample{At: base.Add(time.Duration(i) * time.Minute), DurationS: float64(i)})
	}

	h := m.Segments["seg"]
	if len(h) != MaxSegmentHistory {
		t.Fatalf("history len = %d, want %d", len(h), MaxSegmentHistory)
	}
	if h[0].DurationS != 3 || h[len(h)-1].DurationS != 7 {
		t.Errorf("history = %v, want samples 3..7", h)
	}

	m.RecordSegment("", SegmentSample{})
	if _, ok := m.Segments[""]; ok {
		t.Error("empty segment key recorded")
	}
}

func TestTrimSegments(t *testing.T) {
	m := NewMemory()
	m.Segments["seg"] = make([]SegmentSample, 9)
	m.Segments["short"] = make([]SegmentSample, 2)
	m.TrimSegments()
	if len(m.Segments["seg"]) != MaxSegmentHistory || len(m.Segments["short"]) != 2 {
		t.Errorf("lens after trim = %d, %d", len(m.Segments["seg"]), len(m.Segments["short"]))
	}
}

func TestIncidents(t *testing.T) {
	m := NewMemory()
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	if m.SeenIncident("k", at) {
		t.Fatal("empty memory reports incident")
	}
	m.RecordIncident(Incident{Key: "k", BlockedAt: at})
	if !m.SeenIncident("k", at) {
		t.Error("recorded incident not seen")
	}
	if m.SeenIncident("k", at.Add(time.Second)) {
		t.Error("different blockage event reported as seen")
	}
	if m.SeenIncident("other", at) {
		t.Error("different key reported as seen")
	}
}
