package agents

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/talgya/citytraffic/internal/routing"
)

func TestPersonalityText(t *testing.T) {
	for p := Personality(0); p < NumPersonalities; p++ {
		b, err := p.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d): %v", p, err)
		}
		var back Personality
		if err := back.UnmarshalText(b); err != nil || back != p {
			t.Errorf("round trip %q = %v, %v", b, back, err)
		}
	}
	if _, err := ParsePersonality("reckless"); err == nil {
		t.Error("ParsePersonality accepted an unknown label")
	}
	if _, err := Personality(9).MarshalText(); err == nil {
		t.Error("MarshalText accepted an out-of-range value")
	}
}

func TestStateJSON(t *testing.T) {
	r := twoStepRoute(sfOrigin, sfDestination)
	a := newTestAgent(Conservative, &stubProvider{routes: []routing.Route{r}})
	a.InitializeRoute(context.Background())
	a.Stress = 0.4
	a.Move(5 * time.Second)

	want := a.State()
	b, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"personality":"conservative"`, `"stress_level":0.4`, `"current_segment":0`, `"is_rethinking":false`} {
		if !strings.Contains(string(b), field) {
			t.Errorf("encoded state %s missing %s", b, field)
		}
	}

	var got State
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state round trip (-want +got):\n%s", diff)
	}
}

func TestPresenceTracksRoute(t *testing.T) {
	r := twoStepRoute(sfOrigin, sfDestination)
	a := newTestAgent(Explorer, &stubProvider{routes: []routing.Route{r}})
	if a.Presence().RouteKey != "" {
		t.Error("routeless agent has a route key")
	}
	a.InitializeRoute(context.Background())
	want := Presence{ID: a.ID, Position: sfOrigin, RouteKey: r.Fingerprint()}
	if diff := cmp.Diff(want, a.Presence()); diff != "" {
		t.Errorf("presence (-want +got):\n%s", diff)
	}
}
