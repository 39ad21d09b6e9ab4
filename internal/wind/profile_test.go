package wind

import (
	"errors"
	"math"
	"testing"
)

func mustProfile(t *testing.T, samples ...Sample) *Profile {
	t.Helper()
	p, err := NewProfile(ProfileConfig{
		Model:              "test",
		Elevation:          1400,
		GroundSpeedKt:      samples[0].SpeedKt,
		GroundDirectionDeg: samples[0].DirectionDeg,
		Samples:            samples,
	})
	if err != nil {
		t.Fatalf("NewProfile: %v", err)
	}
	return p
}

func TestNewSample(t *testing.T) {
	tests := []struct {
		name            string
		alt, speed, dir float64
		wantErr         bool
		wantDir         float64
	}{
		{"valid", 1000, 12, 270, false, 270},
		{"direction 360 wraps to 0", 0, 5, 360, false, 0},
		{"NaN speed", 0, math.NaN(), 90, true, 0},
		{"Inf altitude", math.Inf(1), 1, 90, true, 0},
		{"negative altitude", -1, 1, 90, true, 0},
		{"negative speed", 0, -0.5, 90, true, 0},
		{"direction above 360", 0, 1, 361, true, 0},
		{"negative direction", 0, 1, -10, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSample(tt.alt, tt.speed, tt.dir)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSample) {
					t.Fatalf("err = %v, want ErrInvalidSample", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.DirectionDeg != tt.wantDir {
				t.Errorf("direction = %v, want %v", s.DirectionDeg, tt.wantDir)
			}
		})
	}
}

func TestNewProfile_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
	}{
		{"empty", nil},
		{"duplicate altitude", []Sample{{0, 5, 90}, {500, 5, 90}, {500, 6, 90}}},
		{"descending", []Sample{{0, 5, 90}, {1000, 5, 90}, {800, 5, 90}}},
		{"invalid sample", []Sample{{0, 5, 90}, {1000, math.NaN(), 90}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProfile(ProfileConfig{Samples: tt.samples})
			if !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("err = %v, want ErrInvalidProfile", err)
			}
		})
	}
}

func TestProfile_SamplesIsCopy(t *testing.T) {
	p := mustProfile(t, Sample{0, 5, 90}, Sample{1000, 10, 100})
	s := p.Samples()
	s[0].SpeedKt = 99
	if p.Sample(0).SpeedKt != 5 {
		t.Error("mutating Samples() result changed the profile")
	}
}

func TestBandContaining(t *testing.T) {
	p := mustProfile(t,
		Sample{0, 5, 90},
		Sample{500, 10, 100},
		Sample{1500, 20, 120},
	)

	tests := []struct {
		name      string
		alt       float64
		wantFloor int
		wantFrac  float64
	}{
		{"ground", 0, 0, 0},
		{"mid first band", 250, 0, 0.5},
		{"on interior sample picks lower band", 500, 0, 1},
		{"quarter second band", 750, 1, 0.25},
		{"top", 1500, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			floor, frac, err := p.BandContaining(tt.alt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if floor != tt.wantFloor || math.Abs(frac-tt.wantFrac) > 1e-12 {
				t.Errorf("BandContaining(%v) = (%d, %v), want (%d, %v)", tt.alt, floor, frac, tt.wantFloor, tt.wantFrac)
			}
		})
	}
}

func TestBandContaining_OutOfRange(t *testing.T) {
	p := mustProfile(t, Sample{100, 5, 90}, Sample{1000, 10, 100})
	for _, alt := range []float64{99.9, 1000.1, math.NaN()} {
		if _, _, err := p.BandContaining(alt); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("BandContaining(%v) err = %v, want ErrOutOfRange", alt, err)
		}
	}

	single := mustProfile(t, Sample{0, 5, 90})
	if _, _, err := single.BandContaining(0); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("single sample err = %v, want ErrOutOfRange", err)
	}
}

func TestBandContaining_ZeroHeightBand(t *testing.T) {
	// Bypasses NewProfile, which would reject the duplicate.
	p := &Profile{samples: []Sample{{0, 5, 90}, {0, 6, 90}, {100, 7, 90}}}
	_, _, err := p.BandContaining(0)
	if !errors.Is(err, ErrZeroHeightBand) {
		t.Errorf("err = %v, want ErrZeroHeightBand", err)
	}
}

func TestAverageSpeed_HalfTrapezoid(t *testing.T) {
	p := mustProfile(t, Sample{0, 10, 90}, Sample{1000, 30, 90})

	tests := []struct {
		frac, want float64
	}{
		{0, 10},
		{0.5, 15}, // floor 10, target 20
		{1, 20},   // floor 10, target 30
	}
	for _, tt := range tests {
		if got := p.AverageSpeed(0, tt.frac); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("AverageSpeed(0, %v) = %v, want %v", tt.frac, got, tt.want)
		}
	}
}

func TestAverageDirection_Wraparound(t *testing.T) {
	tests := []struct {
		name   string
		d0, d1 float64
		frac   float64
		want   float64
	}{
		{"straddles north", 350, 10, 1, 0},
		{"plain mean", 90, 110, 1, 100},
		{"half band across north", 340, 20, 0.5, 350},
		{"floor only", 200, 300, 0, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustProfile(t, Sample{0, 5, tt.d0}, Sample{1000, 5, tt.d1})
			if got := p.AverageDirection(0, tt.frac); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AverageDirection = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAt_Boundaries(t *testing.T) {
	p := mustProfile(t, Sample{0, 4, 80}, Sample{1000, 12, 120})

	speed, dir := p.At(0, 0)
	if speed != 4 || dir != 80 {
		t.Errorf("At(0,0) = (%v, %v), want (4, 80)", speed, dir)
	}
	speed, dir = p.At(0, 1)
	if speed != 12 || dir != 120 {
		t.Errorf("At(0,1) = (%v, %v), want (12, 120)", speed, dir)
	}
	speed, dir = p.At(0, 0.5)
	if math.Abs(speed-8) > 1e-12 || math.Abs(dir-100) > 1e-12 {
		t.Errorf("At(0,0.5) = (%v, %v), want (8, 100)", speed, dir)
	}
}

func TestGroundSpeedMPH(t *testing.T) {
	p := mustProfile(t, Sample{0, 10, 0}, Sample{100, 10, 0})
	if got := p.GroundSpeedMPH(); math.Abs(got-11.5078) > 1e-9 {
		t.Errorf("GroundSpeedMPH = %v, want 11.5078", got)
	}
}
