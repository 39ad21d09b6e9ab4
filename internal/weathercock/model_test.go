package weathercock

import (
	"errors"
	"math"
	"testing"

	"github.com/star/driftcast/internal/geo"
)

func testTable(t *testing.T) Model {
	t.Helper()
	m, err := NewTable(
		[]float64{0, 100, 250, 450, 700},
		[]float64{3000, 2950, 2850, 2700, 2500},
	)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return m
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name   string
		disp   []float64
		apogee []float64
	}{
		{"too few rows", []float64{0, 10, 20}, []float64{1000, 990, 980}},
		{"too many rows", []float64{0, 1, 2, 3, 4, 5}, []float64{9, 9, 9, 9, 9, 9}},
		{"length mismatch", []float64{0, 1, 2, 3}, []float64{9, 9, 9}},
		{"baseline displaced", []float64{5, 10, 20, 30}, []float64{1000, 990, 980, 970}},
		{"negative displacement", []float64{0, -10, 20, 30}, []float64{1000, 990, 980, 970}},
		{"zero apogee", []float64{0, 10, 20, 30}, []float64{1000, 0, 980, 970}},
		{"NaN", []float64{0, math.NaN(), 20, 30}, []float64{1000, 990, 980, 970}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTable(tt.disp, tt.apogee); !errors.Is(err, ErrInvalidModel) {
				t.Errorf("err = %v, want ErrInvalidModel", err)
			}
		})
	}
}

func TestNewModel_SortsAndRequiresBaseline(t *testing.T) {
	m, err := NewModel(
		Entry{GroundSpeedMPH: 10, DisplacementFt: 200, ApogeeFt: 900},
		Entry{GroundSpeedMPH: 0, DisplacementFt: 0, ApogeeFt: 1000},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e := m.Entries(); e[0].GroundSpeedMPH != 0 || e[1].GroundSpeedMPH != 10 {
		t.Errorf("entries not sorted: %+v", e)
	}

	_, err = NewModel(Entry{GroundSpeedMPH: 5, ApogeeFt: 1000})
	if !errors.Is(err, ErrInvalidModel) {
		t.Errorf("missing baseline err = %v, want ErrInvalidModel", err)
	}

	_, err = NewModel(
		Entry{GroundSpeedMPH: 0, ApogeeFt: 1000},
		Entry{GroundSpeedMPH: 0, ApogeeFt: 1000},
	)
	if !errors.Is(err, ErrInvalidModel) {
		t.Errorf("duplicate speed err = %v, want ErrInvalidModel", err)
	}
}

func TestLookup(t *testing.T) {
	m := testTable(t)
	tests := []struct {
		name     string
		mph      float64
		wantDisp float64
		wantApo  float64
	}{
		{"calm is baseline", 0, 0, 3000},
		{"exact row", 10, 250, 2850},
		{"between rows", 7.5, 175, 2900},
		{"just above baseline", 1, 20, 2990},
		{"top row", 20, 700, 2500},
		{"above table clamps", 35, 700, 2500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			disp, apo, ok := m.Lookup(tt.mph)
			if !ok {
				t.Fatal("Lookup on non-empty model returned !ok")
			}
			if math.Abs(disp-tt.wantDisp) > 1e-9 || math.Abs(apo-tt.wantApo) > 1e-9 {
				t.Errorf("Lookup(%v) = (%v, %v), want (%v, %v)", tt.mph, disp, apo, tt.wantDisp, tt.wantApo)
			}
		})
	}
}

func TestApply_EmptyModelIsIdentity(t *testing.T) {
	start := geo.MustPoint(32.99, -106.97)
	var m Model
	apo, loc := m.Apply(15, 270, 4200, start)
	if apo != 4200 || loc != start {
		t.Errorf("Apply on empty model = (%v, %v), want (4200, %v)", apo, loc, start)
	}
}

func TestApply_CalmReturnsBaseline(t *testing.T) {
	start := geo.MustPoint(32.99, -106.97)
	apo, loc := testTable(t).Apply(0, 270, 3000, start)
	if apo != 3000 {
		t.Errorf("apogee = %v, want 3000", apo)
	}
	if loc != start {
		t.Errorf("location = %v, want unchanged %v", loc, start)
	}
}

func TestApply_MovesIntoWind(t *testing.T) {
	start := geo.MustPoint(32.99, -106.97)

	// Wind from the west: the rocket ends up west of the pad.
	apo, loc := testTable(t).Apply(10, 270, 3000, start)
	if apo != 2850 {
		t.Errorf("apogee = %v, want 2850", apo)
	}
	if d := geo.Distance(start, loc); math.Abs(d-geo.FeetToMeters(250)) > 0.01 {
		t.Errorf("displacement = %.3f m, want %.3f m", d, geo.FeetToMeters(250))
	}
	if b := geo.InitialBearing(start, loc); math.Abs(b-270) > 0.01 {
		t.Errorf("bearing to apogee = %.3f, want 270", b)
	}
}

func TestApply_NoExtrapolation(t *testing.T) {
	start := geo.MustPoint(0, 0)
	m := testTable(t)
	apoMax, locMax := m.Apply(20, 0, 3000, start)
	apoOver, locOver := m.Apply(60, 0, 3000, start)
	if apoMax != apoOver || locMax != locOver {
		t.Errorf("above-table result (%v, %v) differs from top row (%v, %v)", apoOver, locOver, apoMax, locMax)
	}
}
