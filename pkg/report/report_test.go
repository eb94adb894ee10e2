package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/fault"
	"github.com/itohio/tcloop/pkg/lookup"
	"github.com/itohio/tcloop/pkg/loop"
	"github.com/itohio/tcloop/pkg/output"
	"github.com/itohio/tcloop/pkg/thermo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(seq uint64) loop.Event {
	return loop.Event{
		Seq: seq,
		Measurement: thermo.Measurement{
			Timestamp:         time.Unix(1700000000, 0),
			ThermocoupleVolts: 0.004277,
			RTDOhms:           1097.4,
			RTDCelsius:        25,
			ColdJunctionVolts: 0.000992,
			Celsius:           125.5,
		},
		Command: output.Command{Milliamps: 13.3, Code: 1370},
		Record:  calib.DefaultRecord(),
	}
}

type sink struct {
	mu     sync.Mutex
	events []loop.Event
	err    error
	closed bool
}

func (s *sink) Report(e loop.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *sink) Close() error {
	s.closed = true
	return nil
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestMulti(t *testing.T) {
	a, b := &sink{}, &sink{err: errors.New("b down")}
	err := Multi{a, b}.Report(event(1))
	assert.ErrorContains(t, err, "b down")
	assert.Equal(t, 1, a.len())
	assert.Equal(t, 1, b.len())
	assert.NoError(t, Multi{}.Report(event(1)))
}

func TestUnits(t *testing.T) {
	assert.Equal(t, physic.ZeroCelsius, Celsius(0))
	assert.Equal(t, Celsius(0), Celsius(-200)+200*physic.Kelvin)
	assert.Equal(t, 4277*physic.MicroVolt, Volts(0.004277))
	assert.Equal(t, 1097400*physic.MilliOhm, Ohms(1097.4))
	assert.Equal(t, 20*physic.MilliAmpere, Milliamps(20))
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	ev := event(1)
	ev.Errors = []error{adc.SensorError{Channel: adc.Thermocouple, Code: fault.SensorOverRange}}
	require.NoError(t, NewText(&buf).Report(ev))

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\r\n")
	require.Len(t, lines, 7)
	assert.Equal(t, "ADC Overvoltage error on thermocouple PGA", lines[0])
	assert.Equal(t, "RTD Resistance: "+Ohms(1097.4).String(), lines[1])
	assert.Equal(t, "RTD Temperature: "+Celsius(25).String(), lines[2])
	assert.Equal(t, "Cold Junction Voltage: "+Volts(0.000992).String(), lines[3])
	assert.Equal(t, "Thermocouple Voltage: "+Volts(0.004277).String(), lines[4])
	assert.Equal(t, "Final Temperature: "+Celsius(125.5).String(), lines[5])
	assert.Contains(t, lines[6], "(duty 1370)")
}

func TestErrorLine(t *testing.T) {
	lr := &fault.E{C: fault.LookupRange, Op: "thermo", Msg: "thermocouple temperature", Err: lookup.ErrOutOfRange}
	assert.Contains(t, ErrorLine(lr), "Temperature out of range")
	assert.Contains(t, ErrorLine(&fault.E{C: fault.OutputTiming}), "Output update failed")
	assert.Equal(t, "Error: boom", ErrorLine(errors.New("boom")))
}

func TestLog(t *testing.T) {
	assert.NoError(t, Log{Every: 10}.Report(event(3)))
	assert.NoError(t, Log{}.Report(event(3)))
}

func TestAsync(t *testing.T) {
	s := &sink{err: errors.New("ignored")}
	a := NewAsync(s, 4)
	for i := 1; i <= 3; i++ {
		require.NoError(t, a.Report(event(uint64(i))))
	}
	require.NoError(t, a.Close())
	assert.True(t, s.closed)
	require.Len(t, s.events, 3)
	for i, e := range s.events {
		assert.Equal(t, uint64(i+1), e.Seq)
	}

	// Reports after Close are ignored.
	assert.NoError(t, a.Report(event(4)))
	assert.NoError(t, a.Close())
	assert.Equal(t, 3, s.len())
}

// blockingSink holds the worker until released.
type blockingSink struct {
	sink
	release chan struct{}
}

func (b *blockingSink) Report(e loop.Event) error {
	<-b.release
	return b.sink.Report(e)
}

func TestAsync_DropsWhenFull(t *testing.T) {
	b := &blockingSink{release: make(chan struct{})}
	a := NewAsync(b, 1)

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Report(event(uint64(i))), "Report must never block")
	}
	assert.GreaterOrEqual(t, a.Dropped(), uint64(8))
	close(b.release)
	require.NoError(t, a.Close())
	assert.LessOrEqual(t, b.len(), 2)
}

type fakeSource struct {
	mu   sync.Mutex
	ev   loop.Event
	have bool
	rec  calib.Record
}

func (f *fakeSource) Latest() (loop.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ev, f.have
}

func (f *fakeSource) Record() calib.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec
}

func (f *fakeSource) SetRecord(r calib.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec = r
	return nil
}

func (f *fakeSource) set(e loop.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ev, f.have = e, true
}

func TestStatusRouter(t *testing.T) {
	src := &fakeSource{rec: calib.DefaultRecord()}
	srv := httptest.NewServer(NewRouter(src))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ev := event(7)
	ev.Flags = loop.FlagOverRange
	src.set(ev)
	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, uint64(7), st.Seq)
	assert.Equal(t, float32(125.5), st.Celsius)
	assert.Equal(t, uint32(1370), st.Duty)
	assert.Equal(t, uint8(loop.FlagOverRange), st.Flags)

	resp, err = http.Get(srv.URL + "/calibration")
	require.NoError(t, err)
	var rec RecordJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	resp.Body.Close()
	assert.Equal(t, RecordJSON{Code4mA: 2422, Code20mA: 594}, rec)

	put := func(body string) int {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/calibration", strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(t, http.StatusOK, put(`{"code_4ma":2500,"code_20ma":600}`))
	assert.Equal(t, calib.Record{Code4mA: 2500, Code20mA: 600}, src.Record())
	assert.Equal(t, http.StatusUnprocessableEntity, put(`{"code_4ma":600,"code_20ma":2500}`))
	assert.Equal(t, http.StatusBadRequest, put(`{`))

	resp, err = http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEncodeRegisters(t *testing.T) {
	ev := event(0x12345)
	ev.Measurement.Celsius = -150.25
	ev.Flags = loop.FlagSensor | loop.FlagClamped
	regs := EncodeRegisters(ev)
	require.Len(t, regs, RegCount)

	mc := int32(uint32(regs[RegTempHigh])<<16 | uint32(regs[RegTempLow]))
	assert.Equal(t, int32(-150250), mc)
	assert.Equal(t, uint16(13300), regs[RegMicroamps])
	assert.Equal(t, uint16(1370), regs[RegDuty])
	assert.Equal(t, uint16(loop.FlagSensor|loop.FlagClamped), regs[RegFlags])
	assert.Equal(t, uint16(10974), regs[RegRTDDeciOhm])
	assert.Equal(t, uint16(0x1), regs[RegSeqHigh])
	assert.Equal(t, uint16(0x2345), regs[RegSeqLow])
}

type fakeRegisters struct {
	address, quantity uint16
	value             []byte
}

func (f *fakeRegisters) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	f.address, f.quantity, f.value = address, quantity, value
	return nil, nil
}

func TestModbus_Report(t *testing.T) {
	fake := &fakeRegisters{}
	m := &Modbus{client: fake, address: 100}
	require.NoError(t, m.Report(event(1)))

	assert.Equal(t, uint16(100), fake.address)
	assert.Equal(t, uint16(RegCount), fake.quantity)
	require.Len(t, fake.value, 2*RegCount)
	// Big endian register payload.
	assert.Equal(t, []byte{0x05, 0x5A}, fake.value[2*RegDuty:2*RegDuty+2])
	assert.NoError(t, m.Close())

	_, err := NewModbus(ModbusConfig{})
	assert.Error(t, err)
}

type fakeInserter struct {
	batches [][]Row
	closed  bool
}

func (f *fakeInserter) Insert(rows []Row) error {
	f.batches = append(f.batches, rows)
	return nil
}

func (f *fakeInserter) Close() error {
	f.closed = true
	return nil
}

func TestHistory(t *testing.T) {
	ins := &fakeInserter{}
	h := newHistory(ins, 2)

	ev := event(1)
	ev.Errors = []error{&fault.E{C: fault.LookupRange}}
	require.NoError(t, h.Report(ev))
	assert.Empty(t, ins.batches, "waits for a full batch")
	require.NoError(t, h.Report(event(2)))
	require.Len(t, ins.batches, 1)
	assert.Len(t, ins.batches[0], 2)

	r := ins.batches[0][0]
	assert.Equal(t, uint64(1), r.Seq)
	assert.Equal(t, time.UTC, r.Timestamp.Location())
	assert.Equal(t, float32(125.5), r.Celsius)
	assert.Len(t, r.Errors, 1)

	require.NoError(t, h.Report(event(3)))
	require.NoError(t, h.Close())
	require.Len(t, ins.batches, 2)
	assert.Equal(t, uint64(3), ins.batches[1][0].Seq)
	assert.True(t, ins.closed)

	_, err := OpenHistory("not a url", "", 1)
	assert.Error(t, err)
}
