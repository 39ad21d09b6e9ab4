package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/wind"
)

var (
	ErrMalformed    = errors.New("malformed forecast response")
	ErrUpstream     = errors.New("forecast provider error")
	ErrHourNotFound = errors.New("forecast hour not in response")
	ErrNoLevels     = errors.New("no usable pressure levels above ground")
)

type response struct {
	Elevation   float64                    `json:"elevation"`
	HourlyUnits map[string]string          `json:"hourly_units"`
	Hourly      map[string]json.RawMessage `json:"hourly"`
	Error       bool                       `json:"error"`
	Reason      string                     `json:"reason"`
}

// Parse decodes an Open-Meteo hourly response and builds the wind profile for
// hour. The 10 m wind becomes the ground sample at 0 ft. Each pressure level
// becomes a sample at its geopotential height above the site elevation;
// levels that are missing, at or below ground, or not above the previous
// level are skipped with a debug log.
func Parse(r io.Reader, hour time.Time, model string, logger *slog.Logger) (*wind.Profile, error) {
	var resp response
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.Error {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, resp.Reason)
	}

	var times []string
	if raw, ok := resp.Hourly["time"]; !ok {
		return nil, fmt.Errorf("%w: missing hourly.time", ErrMalformed)
	} else if err := json.Unmarshal(raw, &times); err != nil {
		return nil, fmt.Errorf("%w: hourly.time: %v", ErrMalformed, err)
	}

	want := hour.UTC().Truncate(time.Hour).Format(hourFormat)
	idx := -1
	for i, t := range times {
		if t == want {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrHourNotFound, want)
	}

	s := series{resp: &resp, idx: idx}

	groundKt, ok, err := s.speed("wind_speed_10m")
	if err != nil {
		return nil, err
	}
	groundDir, dirOK, err := s.value("wind_direction_10m")
	if err != nil {
		return nil, err
	}
	if !ok || !dirOK {
		return nil, fmt.Errorf("%w: missing 10 m wind for %s", ErrMalformed, want)
	}

	samples := []wind.Sample{{AltitudeFt: 0, SpeedKt: groundKt, DirectionDeg: groundDir}}
	last := 0.0
	for _, lvl := range PressureLevels {
		l := strconv.Itoa(lvl)
		height, hOK, err := s.value("geopotential_height_" + l + "hPa")
		if err != nil {
			return nil, err
		}
		speed, sOK, err := s.speed("wind_speed_" + l + "hPa")
		if err != nil {
			return nil, err
		}
		dir, dOK, err := s.value("wind_direction_" + l + "hPa")
		if err != nil {
			return nil, err
		}
		if !hOK || !sOK || !dOK {
			logger.Debug("skipping pressure level", "component", "forecast", "level_hpa", lvl, "reason", "missing")
			continue
		}

		alt := geo.MetersToFeet(height - resp.Elevation)
		if alt <= last {
			logger.Debug("skipping pressure level",
				"component", "forecast",
				"level_hpa", lvl,
				"altitude_ft", alt,
				"reason", "not above previous level",
			)
			continue
		}
		samples = append(samples, wind.Sample{AltitudeFt: alt, SpeedKt: speed, DirectionDeg: dir})
		last = alt
	}

	if len(samples) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrNoLevels, want)
	}

	p, err := wind.NewProfile(wind.ProfileConfig{
		Model:              model,
		Elevation:          resp.Elevation,
		GroundSpeedKt:      groundKt,
		GroundDirectionDeg: groundDir,
		Samples:            samples,
	})
	if err != nil {
		return nil, fmt.Errorf("building profile for %s: %w", want, err)
	}
	return p, nil
}

// series reads single values out of the hourly arrays at one index.
type series struct {
	resp *response
	idx  int
}

// value returns the value of name at the series index. ok is false when the
// variable is absent or null for that hour.
func (s series) value(name string) (v float64, ok bool, err error) {
	raw, present := s.resp.Hourly[name]
	if !present {
		return 0, false, nil
	}
	var vals []*float64
	if err := json.Unmarshal(raw, &vals); err != nil {
		return 0, false, fmt.Errorf("%w: hourly.%s: %v", ErrMalformed, name, err)
	}
	if s.idx >= len(vals) || vals[s.idx] == nil {
		return 0, false, nil
	}
	return *vals[s.idx], true, nil
}

// speed is value converted to knots using the response's declared unit.
func (s series) speed(name string) (float64, bool, error) {
	v, ok, err := s.value(name)
	if err != nil || !ok {
		return 0, ok, err
	}
	unit := s.resp.HourlyUnits[name]
	kt, err := toKnots(v, unit)
	if err != nil {
		return 0, false, fmt.Errorf("%w: hourly.%s: %v", ErrMalformed, name, err)
	}
	return kt, true, nil
}

func toKnots(v float64, unit string) (float64, error) {
	switch unit {
	case "kn", "kt", "":
		return v, nil
	case "km/h":
		return geo.KPHToKnots(v), nil
	case "m/s":
		return geo.MPSToKnots(v), nil
	case "mp/h", "mph":
		return geo.MPHToKnots(v), nil
	default:
		return 0, fmt.Errorf("unknown speed unit %q", unit)
	}
}
