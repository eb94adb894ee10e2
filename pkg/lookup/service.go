package lookup

// Service converts between sensor quantities and temperature. Implementations
// are pure; a non-nil error is ErrOutOfRange with a saturated value.
type Service interface {
	ResistanceToTemperature(ohms float32) (float32, error)
	TemperatureToColdJunctionVoltage(celsius float32) (float32, error)
	VoltageToTemperature(volts float32) (float32, error)
}

var _ Service = (*Tables)(nil)

// Tables is a Service backed by interpolation tables.
type Tables struct {
	rtd   *Table // ohms -> °C
	tc    *Table // °C -> V
	tcInv *Table // V -> °C
}

// NewTables builds a Service from a temperature -> ohms RTD table and a
// temperature -> volts thermocouple table.
func NewTables(rtd, thermocouple *Table) (*Tables, error) {
	rtdInv, err := rtd.Invert()
	if err != nil {
		return nil, err
	}
	tcInv, err := thermocouple.Invert()
	if err != nil {
		return nil, err
	}
	return &Tables{rtd: rtdInv, tc: thermocouple, tcInv: tcInv}, nil
}

// Default returns the service for a platinum RTD of nominal r0 and a Type T
// thermocouple. r0 <= 0 selects PT1000.
func Default(r0 float32) *Tables {
	if r0 <= 0 {
		r0 = PT1000
	}
	t, err := NewTables(RTDTable(r0), TypeTTable())
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tables) ResistanceToTemperature(ohms float32) (float32, error) {
	return t.rtd.Eval(ohms)
}

func (t *Tables) TemperatureToColdJunctionVoltage(celsius float32) (float32, error) {
	return t.tc.Eval(celsius)
}

func (t *Tables) VoltageToTemperature(volts float32) (float32, error) {
	return t.tcInv.Eval(volts)
}
