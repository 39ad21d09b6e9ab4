package geo

import "math"

// NormalizeBearing maps any angle in degrees into [0, 360).
func NormalizeBearing(deg float64) float64 {
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	if r >= 360 {
		r = 0
	}
	return r
}

// OppositeBearing returns the reciprocal of deg, e.g. the downwind bearing of
// a wind blowing from deg.
func OppositeBearing(deg float64) float64 {
	return NormalizeBearing(deg + 180)
}

// MeanBearing returns the mean of two bearings in [0, 360). When the pair
// straddles north the sum is unwrapped by 360 before halving, so 350 and 10
// average to 0 rather than 180.
func MeanBearing(d0, d1 float64) float64 {
	if math.Abs(d0-d1) < 180 {
		return (d0 + d1) / 2
	}
	m := ((d0 + d1) - 360) / 2
	if m < 0 {
		m += 360
	}
	return m
}

// LerpBearing interpolates from d0 towards d1 along the shorter arc.
func LerpBearing(f, d0, d1 float64) float64 {
	diff := d1 - d0
	switch {
	case diff > 180:
		diff -= 360
	case diff < -180:
		diff += 360
	}
	return NormalizeBearing(d0 + f*diff)
}
