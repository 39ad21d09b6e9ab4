// Package weathercock adjusts a rocket's apogee and apogee position for
// weathercocking, the turn into the wind during powered ascent, using a
// table indexed by ground wind speed.
package weathercock

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/star/driftcast/internal/geo"
)

// ErrInvalidModel is returned when a table cannot be used.
var ErrInvalidModel = errors.New("invalid weathercock model")

// TableStepMPH is the wind speed spacing of a user-entered table.
const TableStepMPH = 5.0

// Entry is one row of the table: at GroundSpeedMPH the rocket reaches
// ApogeeFt after travelling DisplacementFt into the wind.
type Entry struct {
	GroundSpeedMPH float64 `json:"ground_speed_mph"`
	DisplacementFt float64 `json:"displacement_ft"`
	ApogeeFt       float64 `json:"apogee_ft"`
}

// Model is a table sorted by ascending wind speed whose first entry is the
// unperturbed 0 mph flight. The zero value is the empty model, for which
// Apply is the identity.
type Model struct {
	entries []Entry
}

// NewModel sorts entries and validates them. A 0 mph entry with zero
// displacement is required and speeds must be distinct.
func NewModel(entries ...Entry) (Model, error) {
	if len(entries) == 0 {
		return Model{}, nil
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].GroundSpeedMPH < sorted[j].GroundSpeedMPH
	})

	for i, e := range sorted {
		if !finite(e.GroundSpeedMPH) || !finite(e.DisplacementFt) || !finite(e.ApogeeFt) {
			return Model{}, fmt.Errorf("%w: entry %d has a non-finite value", ErrInvalidModel, i)
		}
		if e.GroundSpeedMPH < 0 || e.DisplacementFt < 0 {
			return Model{}, fmt.Errorf("%w: entry at %v mph has a negative value", ErrInvalidModel, e.GroundSpeedMPH)
		}
		if e.ApogeeFt <= 0 {
			return Model{}, fmt.Errorf("%w: entry at %v mph has apogee %v ft", ErrInvalidModel, e.GroundSpeedMPH, e.ApogeeFt)
		}
		if i > 0 && e.GroundSpeedMPH == sorted[i-1].GroundSpeedMPH {
			return Model{}, fmt.Errorf("%w: duplicate entry at %v mph", ErrInvalidModel, e.GroundSpeedMPH)
		}
	}

	if sorted[0].GroundSpeedMPH != 0 {
		return Model{}, fmt.Errorf("%w: missing 0 mph entry", ErrInvalidModel)
	}
	if sorted[0].DisplacementFt != 0 {
		return Model{}, fmt.Errorf("%w: 0 mph entry must have zero displacement", ErrInvalidModel)
	}

	return Model{entries: sorted}, nil
}

// NewTable builds a model from a user-entered table of 4 or 5 rows at
// 0, 5, 10, 15 (and 20) mph.
func NewTable(displacementsFt, apogeesFt []float64) (Model, error) {
	n := len(displacementsFt)
	if n != len(apogeesFt) {
		return Model{}, fmt.Errorf("%w: %d displacements but %d apogees", ErrInvalidModel, n, len(apogeesFt))
	}
	if n != 4 && n != 5 {
		return Model{}, fmt.Errorf("%w: table needs 4 or 5 rows, got %d", ErrInvalidModel, n)
	}

	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			GroundSpeedMPH: float64(i) * TableStepMPH,
			DisplacementFt: displacementsFt[i],
			ApogeeFt:       apogeesFt[i],
		}
	}
	return NewModel(entries...)
}

// Empty reports whether the model has no entries.
func (m Model) Empty() bool { return len(m.entries) == 0 }

// Entries returns a copy of the table.
func (m Model) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Lookup returns the displacement and apogee for a ground wind speed. Speeds
// at or below the first entry return it unchanged, speeds above the last
// entry are clamped to it, and anything between is interpolated linearly.
// ok is false for the empty model.
func (m Model) Lookup(groundMPH float64) (displacementFt, apogeeFt float64, ok bool) {
	if len(m.entries) == 0 {
		return 0, 0, false
	}

	first, last := m.entries[0], m.entries[len(m.entries)-1]
	switch {
	case groundMPH <= first.GroundSpeedMPH:
		return first.DisplacementFt, first.ApogeeFt, true
	case groundMPH > last.GroundSpeedMPH:
		return last.DisplacementFt, last.ApogeeFt, true
	}

	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].GroundSpeedMPH >= groundMPH
	})
	lo, hi := m.entries[i-1], m.entries[i]
	displacementFt = geo.Interpolate(groundMPH, lo.GroundSpeedMPH, hi.GroundSpeedMPH, lo.DisplacementFt, hi.DisplacementFt)
	apogeeFt = geo.Interpolate(groundMPH, lo.GroundSpeedMPH, hi.GroundSpeedMPH, lo.ApogeeFt, hi.ApogeeFt)
	return displacementFt, apogeeFt, true
}

// Apply returns the adjusted apogee and the apogee position, reached by
// moving start into the wind (along windDirDeg, the bearing the wind blows
// from). The empty model returns apogeeFt and start unchanged; otherwise the
// table's apogee replaces apogeeFt.
func (m Model) Apply(groundMPH, windDirDeg, apogeeFt float64, start geo.Point) (float64, geo.Point) {
	displacementFt, adjusted, ok := m.Lookup(groundMPH)
	if !ok {
		return apogeeFt, start
	}
	return adjusted, geo.Project(start, geo.FeetToMeters(displacementFt), windDirDeg)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
