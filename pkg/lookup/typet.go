package lookup

// Type T EMF below 0 °C in mV, 10 °C steps from -200 °C (ITS-90 reference table).
var typeTNegative = [...]float32{
	-5.603, -5.439, -5.261, -5.070, -4.865, -4.648, -4.419, -4.177, -3.923, -3.657,
	-3.379, -3.089, -2.788, -2.476, -2.153, -1.819, -1.475, -1.121, -0.757, -0.383,
}

// ITS-90 Type T coefficients for 0..400 °C, result in µV.
var typeTPositive = [...]float64{
	0,
	3.8748106364e1,
	3.3292227880e-2,
	2.0618243404e-4,
	-2.1882256846e-6,
	1.0996880928e-8,
	-3.0815758772e-11,
	4.5479135290e-14,
	-2.7512901673e-17,
}

const typeTStep = 10

func typeTMicrovolts(t float64) float64 {
	var e float64
	for i := len(typeTPositive) - 1; i >= 0; i-- {
		e = e*t + typeTPositive[i]
	}
	return e
}

// TypeTTable returns the temperature -> EMF (volts) table for a Type T thermocouple
// referenced to 0 °C, over MinCelsius..MaxCelsius.
func TypeTTable() *Table {
	pts := make([]Point, 0, (MaxCelsius-MinCelsius)/typeTStep+1)
	for i, mv := range typeTNegative {
		pts = append(pts, Point{X: float32(MinCelsius + i*typeTStep), Y: mv / 1000})
	}
	for t := 0; t <= MaxCelsius; t += typeTStep {
		pts = append(pts, Point{X: float32(t), Y: float32(typeTMicrovolts(float64(t)) / 1e6)})
	}
	return MustTable(pts)
}
