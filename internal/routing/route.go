// Package routing defines the route model the simulation consumes and the
// providers that produce it. Route planning itself is delegated to an external
// oracle behind the Provider interface; this package only caches, bounds, and
// synthesizes its answers.
package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/talgya/citytraffic/internal/geo"
)

// ErrNoRoutes is returned when a provider has no candidates for a query.
var ErrNoRoutes = errors.New("no routes available")

// Step is one leg of a route between two coordinates.
type Step struct {
	Start        geo.Coord `json:"start_location"`
	End          geo.Coord `json:"end_location"`
	DistanceM    float64   `json:"distance"`
	DurationS    float64   `json:"duration"`
	Instructions string    `json:"instructions,omitempty"`
}

// Route is an ordered list of steps with totals. Routes returned by a
// Provider may be shared between agents and must be treated as read-only.
type Route struct {
	DistanceM          float64 `json:"distance"`
	DurationS          float64 `json:"duration"`
	DurationInTrafficS float64 `json:"duration_in_traffic,omitempty"` // 0 when the provider has no traffic estimate
	Polyline           string  `json:"polyline,omitempty"`
	Steps              []Step  `json:"steps"`
}

// TrafficRatio is duration-in-traffic over free-flow duration, 1 when unknown.
func (r *Route) TrafficRatio() float64 {
	if r.DurationS <= 0 || r.DurationInTrafficS <= 0 {
		return 1
	}
	return r.DurationInTrafficS / r.DurationS
}

// Fingerprint identifies a route for experience memory. It hashes every step
// in order together with the totals, so routes that share a prefix but diverge
// later get different keys.
func (r *Route) Fingerprint() string {
	if r == nil {
		return ""
	}
	h := sha256.New()
	buf := make([]byte, 0, 128)
	appendFloat := func(f float64) {
		buf = strconv.AppendFloat(buf, f, 'g', -1, 64)
		buf = append(buf, '|')
	}

	appendFloat(r.DistanceM)
	appendFloat(r.DurationS)
	h.Write(buf)
	for _, s := range r.Steps {
		buf = buf[:0]
		appendFloat(s.Start.Lat)
		appendFloat(s.Start.Lng)
		appendFloat(s.End.Lat)
		appendFloat(s.End.Lng)
		appendFloat(s.DistanceM)
		appendFloat(s.DurationS)
		buf = append(buf, ';')
		h.Write(buf)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Provider answers route queries. Implementations return ErrNoRoutes, or an
// empty slice with a nil error, when there is nothing to offer.
type Provider interface {
	GetRoute(ctx context.Context, origin, destination geo.Coord, departure time.Time) ([]Route, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, origin, destination geo.Coord, departure time.Time) ([]Route, error)

// GetRoute calls f.
func (f ProviderFunc) GetRoute(ctx context.Context, origin, destination geo.Coord, departure time.Time) ([]Route, error) {
	return f(ctx, origin, destination, departure)
}
