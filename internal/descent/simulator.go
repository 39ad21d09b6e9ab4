// Package descent simulates a recovered rocket drifting from apogee to the
// ground through a sampled wind profile.
//
// A simulation runs the state machine
//
//	Idle -> ApogeeLocated -> ScheduleBuilt -> Integrating -> Complete
//
// and any failure ends in Failed, reported as a *PhaseError. A failed hour
// produces no Result; callers move on to the next hour.
package descent

import (
	"log/slog"
)

// Simulator runs descent simulations. It holds no per-simulation state and
// may be shared between goroutines.
type Simulator struct {
	logger *slog.Logger
}

// NewSimulator creates a Simulator that reports skipped wind bands to logger.
func NewSimulator(logger *slog.Logger) *Simulator {
	return &Simulator{logger: logger}
}

// Simulate runs one hour's descent.
func (s *Simulator) Simulate(in Input) (*Result, error) {
	if err := in.validate(); err != nil {
		return nil, &PhaseError{Phase: PhaseIdle, Err: err}
	}
	p := in.Profile

	// Idle -> ApogeeLocated.
	apogeeFt, apogeeLoc := in.Weathercock.Apply(p.GroundSpeedMPH(), p.GroundDirection(), in.ApogeeFt, in.Launch)
	floor, fraction, err := p.BandContaining(apogeeFt)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseApogeeLocated, Err: err}
	}

	// ApogeeLocated -> ScheduleBuilt.
	steps, err := schedule(p, apogeeFt, floor, fraction, in.Recovery, s.logger)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseScheduleBuilt, Err: err}
	}

	// ScheduleBuilt -> Integrating -> Complete.
	descentPath, err := Integrate(apogeeLoc, steps)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseIntegrating, Err: err}
	}

	path := make([]FlightPoint, 0, len(descentPath)+2)
	path = append(path,
		FlightPoint{AltitudeFt: 0, Location: in.Launch},
		FlightPoint{AltitudeFt: apogeeFt, Location: apogeeLoc},
	)
	path = append(path, descentPath...)

	return &Result{
		time:      in.Time,
		model:     p.Model(),
		elevation: p.Elevation(),
		groundKt:  p.GroundSpeedKt(),
		groundDir: p.GroundDirection(),
		path:      path,
	}, nil
}
