// Package geo provides point projection, distance and bearing primitives on a
// spherical Earth, plus the unit conversions used by the descent engine.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// EarthRadiusM is the mean Earth radius used by all spherical formulas.
const EarthRadiusM = 6371000.0

// ErrInvalidCoordinate is returned when a latitude or longitude is not finite
// or falls outside its valid range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point is a geographic position in degrees. The zero value is (0, 0).
// Points are values: every operation returns a new Point.
type Point struct {
	lat, lon float64
}

// NewPoint validates lat in [-90, 90] and lon in [-180, 180].
func NewPoint(lat, lon float64) (Point, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return Point{}, fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return Point{}, fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lon)
	}
	return Point{lat: lat, lon: lon}, nil
}

// MustPoint is NewPoint for constants and tests. It panics on invalid input.
func MustPoint(lat, lon float64) Point {
	p, err := NewPoint(lat, lon)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Point) Lat() float64 { return p.lat }
func (p Point) Lon() float64 { return p.lon }

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.lat, p.lon)
}

type pointJSON struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{Lat: p.lat, Lon: p.lon})
}

// UnmarshalJSON decodes {"lat":..,"lon":..} and applies NewPoint validation.
func (p *Point) UnmarshalJSON(b []byte) error {
	var raw pointJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v, err := NewPoint(raw.Lat, raw.Lon)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func radians(d float64) float64 { return d * math.Pi / 180.0 }
func degrees(r float64) float64 { return r * 180.0 / math.Pi }

// Project returns the point reached by travelling distanceM metres from p
// along the great circle with initial bearing bearingDeg (0 = north,
// clockwise). Longitude is wrapped into [-180, 180).
func Project(p Point, distanceM, bearingDeg float64) Point {
	if distanceM == 0 {
		return p
	}

	phi1 := radians(p.lat)
	lambda1 := radians(p.lon)
	theta := radians(bearingDeg)
	delta := distanceM / EarthRadiusM

	sinPhi1, cosPhi1 := math.Sincos(phi1)
	sinDelta, cosDelta := math.Sincos(delta)

	sinPhi2 := clamp(sinPhi1*cosDelta+cosPhi1*sinDelta*math.Cos(theta), -1, 1)
	phi2 := math.Asin(sinPhi2)

	y := math.Sin(theta) * sinDelta * cosPhi1
	x := cosDelta - sinPhi1*sinPhi2
	lambda2 := lambda1 + math.Atan2(y, x)

	return Point{
		lat: clamp(degrees(phi2), -90, 90),
		lon: wrapLongitude(degrees(lambda2)),
	}
}

// Distance returns the great-circle distance between a and b in metres
// using the haversine formula.
func Distance(a, b Point) float64 {
	phi1, phi2 := radians(a.lat), radians(b.lat)
	dPhi := phi2 - phi1
	dLambda := radians(b.lon - a.lon)

	s1 := math.Sin(dPhi / 2)
	s2 := math.Sin(dLambda / 2)
	h := clamp(s1*s1+math.Cos(phi1)*math.Cos(phi2)*s2*s2, 0, 1)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusM * c
}

// InitialBearing returns the forward azimuth from a to b in [0, 360).
// Coincident points yield 0.
func InitialBearing(a, b Point) float64 {
	if a == b {
		return 0
	}
	phi1, phi2 := radians(a.lat), radians(b.lat)
	dLambda := radians(b.lon - a.lon)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return NormalizeBearing(degrees(math.Atan2(y, x)))
}

func wrapLongitude(lon float64) float64 {
	w := math.Mod(lon+540, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
