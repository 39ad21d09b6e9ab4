// Package wind holds the altitude-indexed wind forecast consumed by the
// descent simulator, with band lookup and interpolation queries.
package wind

import (
	"errors"
	"fmt"
	"math"

	"github.com/star/driftcast/internal/geo"
)

var (
	// ErrInvalidSample is returned for a sample with a non-finite, negative
	// or out-of-range field.
	ErrInvalidSample = errors.New("invalid wind sample")

	// ErrInvalidProfile is returned for an empty or non-ascending sample set.
	ErrInvalidProfile = errors.New("invalid wind profile")

	// ErrOutOfRange is returned when an altitude is not covered by any band.
	ErrOutOfRange = errors.New("altitude outside forecast range")

	// ErrZeroHeightBand is returned when a band's floor and ceiling coincide.
	ErrZeroHeightBand = errors.New("zero-height wind band")
)

// Sample is the forecast wind at one altitude. DirectionDeg is the bearing
// the wind blows from.
type Sample struct {
	AltitudeFt   float64 `json:"altitude_ft"`
	SpeedKt      float64 `json:"speed_kt"`
	DirectionDeg float64 `json:"direction_deg"`
}

// NewSample validates and returns a Sample. A direction of exactly 360 is
// stored as 0.
func NewSample(altFt, speedKt, dirDeg float64) (Sample, error) {
	if !finite(altFt) || !finite(speedKt) || !finite(dirDeg) {
		return Sample{}, fmt.Errorf("%w: non-finite value (%v ft, %v kt, %v deg)",
			ErrInvalidSample, altFt, speedKt, dirDeg)
	}
	if altFt < 0 {
		return Sample{}, fmt.Errorf("%w: altitude %v ft below ground", ErrInvalidSample, altFt)
	}
	if speedKt < 0 {
		return Sample{}, fmt.Errorf("%w: negative speed %v kt", ErrInvalidSample, speedKt)
	}
	if dirDeg < 0 || dirDeg > 360 {
		return Sample{}, fmt.Errorf("%w: direction %v outside [0,360]", ErrInvalidSample, dirDeg)
	}
	if dirDeg == 360 {
		dirDeg = 0
	}
	return Sample{AltitudeFt: altFt, SpeedKt: speedKt, DirectionDeg: dirDeg}, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Profile is one hour's forecast at one location. It is read-only after
// construction and safe to share between goroutines.
type Profile struct {
	model     string
	elevation float64
	groundKt  float64
	groundDir float64
	samples   []Sample
}

// ProfileConfig carries the inputs to NewProfile.
type ProfileConfig struct {
	Model string
	// Elevation is passed through untouched; its unit is the source's.
	Elevation          float64
	GroundSpeedKt      float64
	GroundDirectionDeg float64
	Samples            []Sample
}

// NewProfile validates cfg and copies its samples. Samples must be non-empty
// and strictly ascending by altitude.
func NewProfile(cfg ProfileConfig) (*Profile, error) {
	if len(cfg.Samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidProfile)
	}
	ground, err := NewSample(0, cfg.GroundSpeedKt, cfg.GroundDirectionDeg)
	if err != nil {
		return nil, fmt.Errorf("%w: ground wind: %v", ErrInvalidProfile, err)
	}

	samples := make([]Sample, len(cfg.Samples))
	for i, s := range cfg.Samples {
		v, err := NewSample(s.AltitudeFt, s.SpeedKt, s.DirectionDeg)
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", ErrInvalidProfile, i, err)
		}
		if i > 0 && v.AltitudeFt <= samples[i-1].AltitudeFt {
			return nil, fmt.Errorf("%w: sample %d altitude %v ft not above %v ft",
				ErrInvalidProfile, i, v.AltitudeFt, samples[i-1].AltitudeFt)
		}
		samples[i] = v
	}

	return &Profile{
		model:     cfg.Model,
		elevation: cfg.Elevation,
		groundKt:  ground.SpeedKt,
		groundDir: ground.DirectionDeg,
		samples:   samples,
	}, nil
}

func (p *Profile) Model() string            { return p.model }
func (p *Profile) Elevation() float64       { return p.elevation }
func (p *Profile) GroundSpeedKt() float64   { return p.groundKt }
func (p *Profile) GroundDirection() float64 { return p.groundDir }

// GroundSpeedMPH is the ground wind in miles per hour, the unit of the
// weathercock table.
func (p *Profile) GroundSpeedMPH() float64 { return geo.KnotsToMPH(p.groundKt) }

// Len returns the number of samples.
func (p *Profile) Len() int { return len(p.samples) }

// Sample returns the i'th sample, lowest first.
func (p *Profile) Sample(i int) Sample { return p.samples[i] }

// Samples returns a copy of the sample sequence.
func (p *Profile) Samples() []Sample {
	out := make([]Sample, len(p.samples))
	copy(out, p.samples)
	return out
}

// Top returns the altitude of the highest sample.
func (p *Profile) Top() float64 { return p.samples[len(p.samples)-1].AltitudeFt }

// BandContaining returns the smallest floor index i with
// s[i].Alt <= altFt <= s[i+1].Alt and the fraction of the band's height at
// which altFt sits.
func (p *Profile) BandContaining(altFt float64) (int, float64, error) {
	if math.IsNaN(altFt) || len(p.samples) < 2 {
		return 0, 0, fmt.Errorf("%w: %v ft", ErrOutOfRange, altFt)
	}
	if altFt < p.samples[0].AltitudeFt || altFt > p.Top() {
		return 0, 0, fmt.Errorf("%w: %v ft not within [%v, %v]",
			ErrOutOfRange, altFt, p.samples[0].AltitudeFt, p.Top())
	}

	for i := 0; i+1 < len(p.samples); i++ {
		lo, hi := p.samples[i].AltitudeFt, p.samples[i+1].AltitudeFt
		if altFt < lo || altFt > hi {
			continue
		}
		if hi == lo {
			return i, 0, fmt.Errorf("%w: samples %d and %d at %v ft", ErrZeroHeightBand, i, i+1, lo)
		}
		return i, (altFt - lo) / (hi - lo), nil
	}
	return 0, 0, fmt.Errorf("%w: %v ft", ErrOutOfRange, altFt)
}

// At returns the wind linearly interpolated at fraction of band floor.
// Direction follows the shorter arc between the band's samples.
func (p *Profile) At(floor int, fraction float64) (speedKt, dirDeg float64) {
	lo, hi := p.samples[floor], p.samples[floor+1]
	speedKt = geo.Lerp(fraction, lo.SpeedKt, hi.SpeedKt)
	dirDeg = geo.LerpBearing(fraction, lo.DirectionDeg, hi.DirectionDeg)
	return speedKt, dirDeg
}

// AverageSpeed approximates the mean wind from the band floor up to fraction
// as the mean of the floor speed and the speed at fraction.
//
// Note this half-trapezoid is not the mean over the full band.
func (p *Profile) AverageSpeed(floor int, fraction float64) float64 {
	target, _ := p.At(floor, fraction)
	return (p.samples[floor].SpeedKt + target) / 2
}

// AverageDirection is the straddle-aware mean of the floor direction and the
// direction at fraction.
func (p *Profile) AverageDirection(floor int, fraction float64) float64 {
	_, target := p.At(floor, fraction)
	return geo.MeanBearing(p.samples[floor].DirectionDeg, target)
}
