package lookup

// Callendar-Van Dusen coefficients for IEC 60751 platinum RTDs.
const (
	rtdA = 3.9083e-3
	rtdB = -5.775e-7
	rtdC = -4.183e-12 // below 0 °C only
)

const (
	// PT1000 nominal resistance at 0 °C.
	PT1000 = 1000.0
	// PT100 nominal resistance at 0 °C.
	PT100 = 100.0

	// MinCelsius and MaxCelsius bound every built-in table.
	MinCelsius = -200
	MaxCelsius = 350

	rtdStep = 5
)

// RTDResistance returns the resistance of a platinum RTD with nominal r0 at t °C.
func RTDResistance(r0, t float32) float32 {
	tt := float64(t)
	r := 1 + rtdA*tt + rtdB*tt*tt
	if tt < 0 {
		r += rtdC * (tt - 100) * tt * tt * tt
	}
	return float32(float64(r0) * r)
}

// RTDTable builds a temperature -> resistance table over the built-in range.
func RTDTable(r0 float32) *Table {
	pts := make([]Point, 0, (MaxCelsius-MinCelsius)/rtdStep+1)
	for t := MinCelsius; t <= MaxCelsius; t += rtdStep {
		pts = append(pts, Point{X: float32(t), Y: RTDResistance(r0, float32(t))})
	}
	return MustTable(pts)
}
