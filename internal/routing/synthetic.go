package routing

import (
	"context"
	"math"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/citytraffic/internal/geo"
)

// SyntheticConfig controls offline route generation.
type SyntheticConfig struct {
	Seed          int64
	Alternatives  int     // candidate routes per query, including the direct one
	StepLengthM   float64 // target length of one step
	FreeFlowMS    float64 // free-flow speed, metres per second
	DetourFactor  float64 // perpendicular waypoint offset as a fraction of trip length
	NoiseScale    float64 // spatial frequency of the congestion field, per degree
	NoiseOctaves  int
	MaxCongestion float64 // duration_in_traffic = duration × (1 + congestion × MaxCongestion)
}

// DefaultSyntheticConfig returns city-scale defaults.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:          1,
		Alternatives:  3,
		StepLengthM:   400,
		FreeFlowMS:    11.1, // ~40 km/h
		DetourFactor:  0.15,
		NoiseScale:    40,
		NoiseOctaves:  3,
		MaxCongestion: 1.0,
	}
}

// SyntheticProvider produces straight-line routes with detour alternatives and
// a smooth, time-varying congestion field. It stands in for a mapping service
// when no API key is configured.
type SyntheticProvider struct {
	cfg   SyntheticConfig
	noise opensimplex.Noise
}

// NewSyntheticProvider creates a generator from cfg; zero fields take defaults.
func NewSyntheticProvider(cfg SyntheticConfig) *SyntheticProvider {
	def := DefaultSyntheticConfig()
	if cfg.Alternatives <= 0 {
		cfg.Alternatives = def.Alternatives
	}
	if cfg.StepLengthM <= 0 {
		cfg.StepLengthM = def.StepLengthM
	}
	if cfg.FreeFlowMS <= 0 {
		cfg.FreeFlowMS = def.FreeFlowMS
	}
	if cfg.DetourFactor <= 0 {
		cfg.DetourFactor = def.DetourFactor
	}
	if cfg.NoiseScale <= 0 {
		cfg.NoiseScale = def.NoiseScale
	}
	if cfg.NoiseOctaves <= 0 {
		cfg.NoiseOctaves = def.NoiseOctaves
	}
	if cfg.MaxCongestion < 0 {
		cfg.MaxCongestion = def.MaxCongestion
	}
	return &SyntheticProvider{
		cfg:   cfg,
		noise: opensimplex.NewNormalized(cfg.Seed),
	}
}

// GetRoute returns up to cfg.Alternatives candidates: the direct route first,
// then detours alternating left and right of the straight line.
func (p *SyntheticProvider) GetRoute(ctx context.Context, origin, destination geo.Coord, departure time.Time) ([]Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if geo.DistanceKm(origin, destination)*1000 < 1 {
		return nil, ErrNoRoutes
	}

	routes := make([]Route, 0, p.cfg.Alternatives)
	routes = append(routes, p.build(departure, origin, destination))

	for i := 1; i < p.cfg.Alternatives; i++ {
		side := 1.0
		if i%2 == 0 {
			side = -1.0
		}
		offset := side * p.cfg.DetourFactor * float64((i+1)/2)
		waypoint := perpendicular(origin, destination, offset)
		routes = append(routes, p.build(departure, origin, waypoint, destination))
	}
	return routes, nil
}

// Congestion samples the field at a point and time, in [0, 1).
func (p *SyntheticProvider) Congestion(c geo.Coord, at time.Time) float64 {
	hours := float64(at.Unix()) / 3600
	return octaveNoise(p.noise, c.Lat*p.cfg.NoiseScale, c.Lng*p.cfg.NoiseScale, hours, p.cfg.NoiseOctaves, 1.0, 0.5)
}

func (p *SyntheticProvider) build(departure time.Time, points ...geo.Coord) Route {
	var r Route
	var inTraffic float64

	for i := 0; i+1 < len(points); i++ {
		a, b := points[i], points[i+1]
		legM := geo.DistanceKm(a, b) * 1000
		n := int(math.Ceil(legM / p.cfg.StepLengthM))
		if n < 2 {
			n = 2
		}
		for s := 0; s < n; s++ {
			start := geo.Lerp(a, b, float64(s)/float64(n))
			end := geo.Lerp(a, b, float64(s+1)/float64(n))
			dist := legM / float64(n)
			dur := dist / p.cfg.FreeFlowMS

			r.Steps = append(r.Steps, Step{
				Start:     start,
				End:       end,
				DistanceM: dist,
				DurationS: dur,
			})
			r.DistanceM += dist
			r.DurationS += dur

			mid := geo.Lerp(start, end, 0.5)
			inTraffic += dur * (1 + p.Congestion(mid, departure)*p.cfg.MaxCongestion)
		}
	}
	r.DurationInTrafficS = inTraffic
	return r
}

// perpendicular returns the midpoint of a→b pushed sideways by offset × |a→b|.
func perpendicular(a, b geo.Coord, offset float64) geo.Coord {
	mid := geo.Lerp(a, b, 0.5)
	dLat := b.Lat - a.Lat
	dLng := b.Lng - a.Lng
	return geo.Coord{
		Lat: mid.Lat - dLng*offset,
		Lng: mid.Lng + dLat*offset,
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y, z float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval3(x*frequency, y*frequency, z) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
