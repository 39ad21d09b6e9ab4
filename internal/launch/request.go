// Package launch runs the descent simulation for every hour of a launch
// window and collects the results into a Batch.
package launch

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/star/driftcast/internal/descent"
	"github.com/star/driftcast/internal/geo"
	"github.com/star/driftcast/internal/weathercock"
)

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = errors.New("invalid launch request")

// DefaultMaxWindowHours bounds Window.EndHour when no limit is configured.
const DefaultMaxWindowHours = 72

// Window is an inclusive range of whole-hour offsets from the current hour.
type Window struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Validate checks 0 <= StartHour <= EndHour <= maxHours.
func (w Window) Validate(maxHours int) error {
	if maxHours <= 0 {
		maxHours = DefaultMaxWindowHours
	}
	switch {
	case w.StartHour < 0:
		return fmt.Errorf("%w: start hour %d is negative", ErrInvalidRequest, w.StartHour)
	case w.EndHour < w.StartHour:
		return fmt.Errorf("%w: end hour %d before start hour %d", ErrInvalidRequest, w.EndHour, w.StartHour)
	case w.EndHour > maxHours:
		return fmt.Errorf("%w: end hour %d beyond %d hour limit", ErrInvalidRequest, w.EndHour, maxHours)
	}
	return nil
}

// Len returns the number of hours in the window.
func (w Window) Len() int { return w.EndHour - w.StartHour + 1 }

// Hours returns the launch times covered by the window, in order, relative
// to the hour containing now.
func (w Window) Hours(now time.Time) []time.Time {
	base := now.Truncate(time.Hour)
	hours := make([]time.Time, 0, w.Len())
	for h := w.StartHour; h <= w.EndHour; h++ {
		hours = append(hours, base.Add(time.Duration(h)*time.Hour))
	}
	return hours
}

// Request describes one launch window to simulate.
type Request struct {
	// SiteName is informational; Site is authoritative.
	SiteName    string
	Site        geo.Point
	Window      Window
	ApogeeFt    float64
	Recovery    descent.Recovery
	Weathercock weathercock.Model
	// Model selects the forecast model; empty means the source's default.
	Model string
}

// Validate checks everything that does not depend on the forecast.
func (r Request) Validate(maxHours int) error {
	if err := r.Window.Validate(maxHours); err != nil {
		return err
	}
	if math.IsNaN(r.ApogeeFt) || math.IsInf(r.ApogeeFt, 0) || r.ApogeeFt <= 0 {
		return fmt.Errorf("%w: apogee %v ft", ErrInvalidRequest, r.ApogeeFt)
	}
	if err := r.Recovery.Validate(r.ApogeeFt); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}
