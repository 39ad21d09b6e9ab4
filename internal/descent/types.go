package descent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/weathercock"
	"github.com/star/driftcast/internal/wind"
)

var (
	// ErrInvalidInput is returned when simulation input fails validation.
	ErrInvalidInput = errors.New("invalid simulation input")

	// ErrInvalidRecovery is returned for unusable descent rates or a
	// deployment altitude outside (0, apogee).
	ErrInvalidRecovery = errors.New("invalid recovery profile")

	// ErrInsufficientSteps is returned when the schedule has fewer than two
	// steps to integrate between.
	ErrInsufficientSteps = errors.New("insufficient descent steps")

	// ErrInvalidRate is returned when a step carries a zero, negative or
	// non-finite descent rate.
	ErrInvalidRate = errors.New("invalid descent rate")
)

// Recovery describes the parachute configuration. With Dual set the drogue
// rate applies from apogee down to DeployAltitudeFt and the main rate below.
type Recovery struct {
	MainRateFPS      float64 `json:"main_rate_fps"`
	Dual             bool    `json:"dual"`
	DeployAltitudeFt float64 `json:"deploy_altitude_ft,omitempty"`
	DrogueRateFPS    float64 `json:"drogue_rate_fps,omitempty"`
}

// NewRecovery returns a single-deployment recovery profile.
func NewRecovery(mainRateFPS float64) (Recovery, error) {
	r := Recovery{MainRateFPS: mainRateFPS}
	return r, r.validateRates()
}

// NewDualRecovery returns a dual-deployment recovery profile. The deployment
// altitude is checked against apogee by Validate.
func NewDualRecovery(mainRateFPS, drogueRateFPS, deployAltitudeFt float64) (Recovery, error) {
	r := Recovery{
		MainRateFPS:      mainRateFPS,
		Dual:             true,
		DeployAltitudeFt: deployAltitudeFt,
		DrogueRateFPS:    drogueRateFPS,
	}
	return r, r.validateRates()
}

func (r Recovery) validateRates() error {
	if !positive(r.MainRateFPS) {
		return fmt.Errorf("%w: main rate %v ft/s", ErrInvalidRecovery, r.MainRateFPS)
	}
	if r.Dual {
		if !positive(r.DrogueRateFPS) {
			return fmt.Errorf("%w: drogue rate %v ft/s", ErrInvalidRecovery, r.DrogueRateFPS)
		}
		if !positive(r.DeployAltitudeFt) {
			return fmt.Errorf("%w: deployment altitude %v ft", ErrInvalidRecovery, r.DeployAltitudeFt)
		}
	}
	return nil
}

// Validate checks the rates and, for dual deployment, that the deployment
// altitude lies strictly between the ground and apogeeFt.
func (r Recovery) Validate(apogeeFt float64) error {
	if err := r.validateRates(); err != nil {
		return err
	}
	if r.Dual && r.DeployAltitudeFt >= apogeeFt {
		return fmt.Errorf("%w: deployment altitude %v ft not below apogee %v ft",
			ErrInvalidRecovery, r.DeployAltitudeFt, apogeeFt)
	}
	return nil
}

// Step is one entry of the descent schedule: the wind at AltitudeFt and the
// descent rate in effect from AltitudeFt down to the next step.
type Step struct {
	AltitudeFt   float64 `json:"altitude_ft"`
	RateFPS      float64 `json:"rate_fps"`
	SpeedKt      float64 `json:"speed_kt"`
	DirectionDeg float64 `json:"direction_deg"`
}

// FlightPoint is one vertex of the flight path.
type FlightPoint struct {
	AltitudeFt float64
	Location   geo.Point
}

func (fp FlightPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AltitudeFt float64 `json:"altitude_ft"`
		Lat        float64 `json:"lat"`
		Lon        float64 `json:"lon"`
	}{fp.AltitudeFt, fp.Location.Lat(), fp.Location.Lon()})
}

// Input is everything one hour's simulation consumes. A zero Weathercock
// model disables the ascent adjustment.
type Input struct {
	Time        time.Time
	Launch      geo.Point
	ApogeeFt    float64
	Recovery    Recovery
	Weathercock weathercock.Model
	Profile     *wind.Profile
}

func (in Input) validate() error {
	if in.Profile == nil {
		return fmt.Errorf("%w: no wind profile", ErrInvalidInput)
	}
	if !positive(in.ApogeeFt) {
		return fmt.Errorf("%w: apogee %v ft", ErrInvalidInput, in.ApogeeFt)
	}
	if err := in.Recovery.Validate(in.ApogeeFt); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// Phase is a state of the descent state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseApogeeLocated
	PhaseScheduleBuilt
	PhaseIntegrating
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseApogeeLocated:
		return "apogee_located"
	case PhaseScheduleBuilt:
		return "schedule_built"
	case PhaseIntegrating:
		return "integrating"
	case PhaseComplete:
		return "complete"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PhaseError reports a simulation that reached PhaseFailed. Phase is the
// state the simulation was trying to reach.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("descent failed at %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
