// Package geo provides coordinates, bounding boxes, and great-circle distance.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// EarthRadiusKm is the mean Earth radius used for haversine distance.
const EarthRadiusKm = 6371.0

var (
	ErrInvalidCoord  = errors.New("invalid coordinate")
	ErrInvalidBounds = errors.New("invalid bounds")
)

// Coord is a WGS84 latitude/longitude pair in degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate reports whether the coordinate is a finite point on the globe.
func (c Coord) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return fmt.Errorf("%w: non-finite (%v, %v)", ErrInvalidCoord, c.Lat, c.Lng)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoord, c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoord, c.Lng)
	}
	return nil
}

// Key renders the coordinate as "lat_lng" using the shortest exact float form.
func (c Coord) Key() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "_" + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// DistanceKm returns the haversine distance between two coordinates in kilometres.
func DistanceKm(a, b Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Lerp interpolates linearly between a and b. t is clamped to [0, 1].
func Lerp(a, b Coord, t float64) Coord {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return Coord{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lng: a.Lng + (b.Lng-a.Lng)*t,
	}
}

// Bounds is an axis-aligned lat/lng box.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// DefaultBounds covers central San Francisco.
var DefaultBounds = Bounds{
	North: 37.8199,
	South: 37.7299,
	East:  -122.3694,
	West:  -122.5194,
}

// Validate rejects boxes with missing, inverted, or out-of-range edges.
func (b Bounds) Validate() error {
	if b == (Bounds{}) {
		return fmt.Errorf("%w: empty", ErrInvalidBounds)
	}
	if err := (Coord{Lat: b.North, Lng: b.East}).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBounds, err)
	}
	if err := (Coord{Lat: b.South, Lng: b.West}).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBounds, err)
	}
	if b.South >= b.North {
		return fmt.Errorf("%w: south %v >= north %v", ErrInvalidBounds, b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("%w: west %v >= east %v", ErrInvalidBounds, b.West, b.East)
	}
	return nil
}

// Contains reports whether c lies inside the box (edges inclusive).
func (b Bounds) Contains(c Coord) bool {
	return c.Lat >= b.South && c.Lat <= b.North && c.Lng >= b.West && c.Lng <= b.East
}

// Random draws a uniform point inside the box using the given [0,1) generator.
func (b Bounds) Random(float func() float64) Coord {
	return Coord{
		Lat: b.South + float()*(b.North-b.South),
		Lng: b.West + float()*(b.East-b.West),
	}
}

// Grid returns (n+1)×(n+1) evenly spaced sample points, row by row from the
// south-west corner.
func (b Bounds) Grid(n int) []Coord {
	if n <= 0 {
		return nil
	}
	latStep := (b.North - b.South) / float64(n)
	lngStep := (b.East - b.West) / float64(n)

	points := make([]Coord, 0, (n+1)*(n+1))
	for i := 0; i <= n; i++ {
		for j := 0; j <= n; j++ {
			points = append(points, Coord{
				Lat: b.South + float64(i)*latStep,
				Lng: b.West + float64(j)*lngStep,
			})
		}
	}
	return points
}
