package geo

// Conversion factors.
const (
	metersPerFoot = 0.3048
	mphPerKnot    = 1.15078
	fpsPerKnot    = 1.68781
	knotsPerKPH   = 0.539957
	knotsPerMPS   = 1.943844
)

func FeetToMeters(ft float64) float64 { return ft * metersPerFoot }
func MetersToFeet(m float64) float64  { return m / metersPerFoot }

func KnotsToMPH(kt float64) float64 { return kt * mphPerKnot }
func MPHToKnots(mph float64) float64 { return mph / mphPerKnot }

// KnotsToFPS converts knots to feet per second.
func KnotsToFPS(kt float64) float64 { return kt * fpsPerKnot }

func KPHToKnots(kph float64) float64 { return kph * knotsPerKPH }
func MPSToKnots(mps float64) float64 { return mps * knotsPerMPS }
