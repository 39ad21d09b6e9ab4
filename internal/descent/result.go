package descent

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/star/driftcast/internal/geo"
)

// Result is one hour's simulated flight. It is immutable; accessors return
// copies.
type Result struct {
	time      time.Time
	model     string
	elevation float64
	groundKt  float64
	groundDir float64
	path      []FlightPoint
}

func (r *Result) Time() time.Time { return r.time }
func (r *Result) Hour() int       { return r.time.Hour() }

// HourLabel is the launch hour on a 12-hour clock, e.g. "12AM" or "3PM".
func (r *Result) HourLabel() string { return HourLabel(r.time.Hour()) }

func (r *Result) Model() string      { return r.model }
func (r *Result) Elevation() float64 { return r.elevation }

func (r *Result) GroundWindKt() float64        { return r.groundKt }
func (r *Result) GroundWindMPH() float64       { return geo.KnotsToMPH(r.groundKt) }
func (r *Result) GroundWindDirection() float64 { return r.groundDir }

// Path returns the flight path from the pad, through apogee, to landing.
func (r *Result) Path() []FlightPoint {
	out := make([]FlightPoint, len(r.path))
	copy(out, r.path)
	return out
}

func (r *Result) Launch() FlightPoint  { return r.path[0] }
func (r *Result) Apogee() FlightPoint  { return r.path[1] }
func (r *Result) Landing() FlightPoint { return r.path[len(r.path)-1] }

// DriftMeters is the ground distance from the pad to the landing point.
func (r *Result) DriftMeters() float64 {
	return geo.Distance(r.Launch().Location, r.Landing().Location)
}

// DriftBearing is the bearing from the pad to the landing point.
func (r *Result) DriftBearing() float64 {
	return geo.InitialBearing(r.Launch().Location, r.Landing().Location)
}

// HourLabel formats hour (0-23) on a 12-hour clock.
func HourLabel(hour int) string {
	switch {
	case hour == 0:
		return "12AM"
	case hour < 12:
		return strconv.Itoa(hour) + "AM"
	case hour == 12:
		return "12PM"
	default:
		return strconv.Itoa(hour-12) + "PM"
	}
}

type groundWindJSON struct {
	SpeedKt      float64 `json:"speed_kt"`
	SpeedMPH     float64 `json:"speed_mph"`
	DirectionDeg float64 `json:"direction_deg"`
}

type resultJSON struct {
	Time            string         `json:"time"`
	Hour            string         `json:"hour"`
	Model           string         `json:"model"`
	Elevation       float64        `json:"elevation"`
	GroundWind      groundWindJSON `json:"ground_wind"`
	Launch          FlightPoint    `json:"launch"`
	Apogee          FlightPoint    `json:"apogee"`
	Landing         FlightPoint    `json:"landing"`
	DriftMeters     float64        `json:"drift_m"`
	DriftBearingDeg float64        `json:"drift_bearing_deg"`
	Path            []FlightPoint  `json:"path"`
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Time:      r.time.Format(time.RFC3339),
		Hour:      r.HourLabel(),
		Model:     r.model,
		Elevation: r.elevation,
		GroundWind: groundWindJSON{
			SpeedKt:      r.groundKt,
			SpeedMPH:     r.GroundWindMPH(),
			DirectionDeg: r.groundDir,
		},
		Launch:          r.Launch(),
		Apogee:          r.Apogee(),
		Landing:         r.Landing(),
		DriftMeters:     r.DriftMeters(),
		DriftBearingDeg: r.DriftBearing(),
		Path:            r.path,
	})
}
