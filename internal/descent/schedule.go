package descent

import (
	"fmt"
	"log/slog"

	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/wind"
)

// BuildSchedule locates apogeeFt in the profile and returns the descent
// schedule from apogee to the ground, strictly descending by altitude.
func BuildSchedule(p *wind.Profile, apogeeFt float64, rec Recovery, logger *slog.Logger) ([]Step, error) {
	floor, fraction, err := p.BandContaining(apogeeFt)
	if err != nil {
		return nil, err
	}
	return schedule(p, apogeeFt, floor, fraction, rec, logger)
}

// schedule walks the sample bands below the apogee band floor. The apogee
// step carries the averaged wind of the partial band; sample steps carry the
// raw sample wind. A dual-deployment breakpoint gets exactly one step, and
// the active rate switches to the main rate from that step down.
func schedule(p *wind.Profile, apogeeFt float64, floor int, fraction float64, rec Recovery, logger *slog.Logger) ([]Step, error) {
	// Weathercocking can pull apogee down to or below the deployment
	// altitude; the main is then open from apogee.
	deployed := !rec.Dual || apogeeFt <= rec.DeployAltitudeFt
	rate := rec.MainRateFPS
	if !deployed {
		rate = rec.DrogueRateFPS
	}

	steps := make([]Step, 0, floor+4)
	steps = append(steps, Step{
		AltitudeFt:   apogeeFt,
		RateFPS:      rate,
		SpeedKt:      p.AverageSpeed(floor, fraction),
		DirectionDeg: p.AverageDirection(floor, fraction),
	})
	add := func(s Step) {
		if s.AltitudeFt < steps[len(steps)-1].AltitudeFt {
			steps = append(steps, s)
		}
	}
	deploy := func(speedKt, dirDeg float64) {
		deployed = true
		rate = rec.MainRateFPS
		add(Step{AltitudeFt: rec.DeployAltitudeFt, RateFPS: rate, SpeedKt: speedKt, DirectionDeg: dirDeg})
	}

	for i := floor + 1; i >= 1; i-- {
		upper, lower := p.Sample(i), p.Sample(i-1)
		if upper.AltitudeFt <= lower.AltitudeFt {
			if logger != nil {
				logger.Warn("skipping degenerate wind band",
					"component", "descent",
					"model", p.Model(),
					"lower_ft", lower.AltitudeFt,
					"upper_ft", upper.AltitudeFt,
				)
			}
			continue
		}

		if !deployed {
			switch d := rec.DeployAltitudeFt; {
			case lower.AltitudeFt == d:
				deploy(lower.SpeedKt, lower.DirectionDeg)
			case lower.AltitudeFt < d && d < upper.AltitudeFt:
				f := (d - lower.AltitudeFt) / (upper.AltitudeFt - lower.AltitudeFt)
				deploy(p.At(i-1, f))
			}
		}

		add(Step{
			AltitudeFt:   lower.AltitudeFt,
			RateFPS:      rate,
			SpeedKt:      lower.SpeedKt,
			DirectionDeg: lower.DirectionDeg,
		})
	}

	// Below the lowest sample the lowest sample's wind holds down to the
	// ground.
	if lowest := p.Sample(0); lowest.AltitudeFt > 0 {
		if !deployed && rec.DeployAltitudeFt < lowest.AltitudeFt {
			deploy(lowest.SpeedKt, lowest.DirectionDeg)
		}
		add(Step{AltitudeFt: 0, RateFPS: rate, SpeedKt: lowest.SpeedKt, DirectionDeg: lowest.DirectionDeg})
	}

	if len(steps) < 2 {
		return nil, fmt.Errorf("%w: %d step(s) from apogee %v ft", ErrInsufficientSteps, len(steps), apogeeFt)
	}
	return steps, nil
}

// Integrate walks the schedule from start, drifting downwind across each
// pair of steps at the upper step's rate, and returns one flight point per
// step after the first.
func Integrate(start geo.Point, steps []Step) ([]FlightPoint, error) {
	if len(steps) < 2 {
		return nil, fmt.Errorf("%w: %d step(s)", ErrInsufficientSteps, len(steps))
	}

	loc := start
	points := make([]FlightPoint, 0, len(steps)-1)
	for i := 1; i < len(steps); i++ {
		prev, curr := steps[i-1], steps[i]
		if !positive(prev.RateFPS) {
			return nil, fmt.Errorf("%w: %v ft/s at %v ft", ErrInvalidRate, prev.RateFPS, prev.AltitudeFt)
		}

		durationS := (prev.AltitudeFt - curr.AltitudeFt) / prev.RateFPS
		speedKt := (prev.SpeedKt + curr.SpeedKt) / 2
		dirDeg := geo.MeanBearing(prev.DirectionDeg, curr.DirectionDeg)
		driftFt := durationS * geo.KnotsToFPS(speedKt)

		loc = geo.Project(loc, geo.FeetToMeters(driftFt), geo.OppositeBearing(dirDeg))
		points = append(points, FlightPoint{AltitudeFt: curr.AltitudeFt, Location: loc})
	}
	return points, nil
}
