package geo

// Lerp blends a and b by f, returning a at f=0 and b at f=1 exactly.
func Lerp(f, a, b float64) float64 {
	return (1-f)*a + f*b
}

// Interpolate maps x from [x0, x1] onto [y0, y1]. A zero-width source range
// returns y0.
func Interpolate(x, x0, x1, y0, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	return Lerp((x-x0)/(x1-x0), y0, y1)
}
