// Package geo provides great-circle distance and polyline helpers.
//
// Distance is a straight-line approximation on a spherical earth. It ignores the
// road path entirely; callers that need path-following distance should project
// onto the route polyline with NearestDistanceAlong and use cumulative arc length.
package geo

import (
	"fmt"
	"math"

	"bus-tracker/internal/apperr"
)

const earthRadiusMeters = 6_371_000.0

// ErrInvalidCoordinate is returned for latitudes outside [-90,90], longitudes
// outside [-180,180] and non-finite values.
var ErrInvalidCoordinate = apperr.New("invalid coordinate", apperr.ErrInvalidInput)

// Point is a WGS84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"latitude" yaml:"latitude"`
	Lon float64 `json:"longitude" yaml:"longitude"`
}

// Validate reports whether p lies in the valid coordinate range.
func (p Point) Validate() error {
	if !finite(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v: %w", p.Lat, ErrInvalidCoordinate)
	}
	if !finite(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("longitude %v: %w", p.Lon, ErrInvalidCoordinate)
	}
	return nil
}

func (p Point) String() string { return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon) }

// Distance returns the haversine distance in meters between a and b.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// CumulativeDistances returns the running arc length in meters at each vertex
// of the polyline. The first element is always 0.
func CumulativeDistances(pts []Point) []float64 {
	if len(pts) == 0 {
		return nil
	}
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + Distance(pts[i-1], pts[i])
	}
	return cum
}

// NearestDistanceAlong projects p onto the polyline and returns the distance
// along it, in meters, of the closest point. Segments are projected with an
// equirectangular approximation centred on p, which is accurate at city scale.
// cum may be nil, in which case it is computed.
func NearestDistanceAlong(pts []Point, cum []float64, p Point) float64 {
	n := len(pts)
	if n == 0 {
		return 0
	}
	if len(cum) != n {
		cum = CumulativeDistances(pts)
	}
	cosLat0 := math.Cos(toRad(p.Lat))
	toXY := func(q Point) (x, y float64) {
		y = toRad(q.Lat-p.Lat) * earthRadiusMeters
		x = toRad(q.Lon-p.Lon) * earthRadiusMeters * cosLat0
		return
	}

	bestDist2 := math.MaxFloat64
	bestAlong := 0.0
	x0, y0 := toXY(pts[0])
	if n == 1 {
		return 0
	}
	for i := 1; i < n; i++ {
		x1, y1 := toXY(pts[i])
		dx, dy := x1-x0, y1-y0
		segLen2 := dx*dx + dy*dy
		t := 0.0
		if segLen2 > 0 {
			// projection of the origin (p) onto the segment
			t = -(x0*dx + y0*dy) / segLen2
			t = math.Max(0, math.Min(1, t))
		}
		px, py := x0+t*dx, y0+t*dy
		if d2 := px*px + py*py; d2 < bestDist2 {
			bestDist2 = d2
			bestAlong = cum[i-1] + t*(cum[i]-cum[i-1])
		}
		x0, y0 = x1, y1
	}
	return bestAlong
}

// Interpolate returns the point at distance dist along the polyline, clamped
// to its ends. cum may be nil, in which case it is computed.
func Interpolate(pts []Point, cum []float64, dist float64) Point {
	n := len(pts)
	if n == 0 {
		return Point{}
	}
	if len(cum) != n {
		cum = CumulativeDistances(pts)
	}
	if dist <= 0 || cum[n-1] == 0 {
		return pts[0]
	}
	if dist >= cum[n-1] {
		return pts[n-1]
	}
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	d0, d1 := cum[i-1], cum[i]
	p0, p1 := pts[i-1], pts[i]
	if d1 == d0 {
		return p0
	}
	frac := (dist - d0) / (d1 - d0)
	return Point{Lat: p0.Lat + (p1.Lat-p0.Lat)*frac, Lon: p0.Lon + (p1.Lon-p0.Lon)*frac}
}

// SegmentBearing returns the bearing of the polyline segment that contains
// the point at distance dist along it.
func SegmentBearing(pts []Point, cum []float64, dist float64) float64 {
	n := len(pts)
	if n < 2 {
		return 0
	}
	if len(cum) != n {
		cum = CumulativeDistances(pts)
	}
	i := 1
	for i < n-1 && cum[i] < dist {
		i++
	}
	return Bearing(pts[i-1], pts[i])
}

// Bearing returns the initial bearing from a to b in degrees, in [0,360).
func Bearing(a, b Point) float64 {
	dLon := toRad(b.Lon - a.Lon)
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
