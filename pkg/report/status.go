package report

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/loop"
)

// Source is what the status server exposes. *loop.Instrument implements it.
type Source interface {
	Latest() (loop.Event, bool)
	Record() calib.Record
	SetRecord(calib.Record) error
}

// Status is the JSON view of the latest cycle.
type Status struct {
	Seq               uint64    `json:"seq"`
	Timestamp         time.Time `json:"timestamp"`
	Celsius           float32   `json:"celsius"`
	RTDOhms           float32   `json:"rtd_ohms"`
	RTDCelsius        float32   `json:"rtd_celsius"`
	ThermocoupleVolts float32   `json:"thermocouple_volts"`
	ColdJunctionVolts float32   `json:"cold_junction_volts"`
	Milliamps         float32   `json:"milliamps"`
	Duty              uint32    `json:"duty"`
	OverRange         bool      `json:"over_range"`
	Flags             uint8     `json:"flags"`
	Errors            []string  `json:"errors,omitempty"`
}

// RecordJSON is the calibration record as exchanged over HTTP.
type RecordJSON struct {
	Code4mA  uint32 `json:"code_4ma"`
	Code20mA uint32 `json:"code_20ma"`
}

// NewStatus converts an event.
func NewStatus(e loop.Event) Status {
	m := e.Measurement
	s := Status{
		Seq:               e.Seq,
		Timestamp:         m.Timestamp,
		Celsius:           m.Celsius,
		RTDOhms:           m.RTDOhms,
		RTDCelsius:        m.RTDCelsius,
		ThermocoupleVolts: m.ThermocoupleVolts,
		ColdJunctionVolts: m.ColdJunctionVolts,
		Milliamps:         e.Command.Milliamps,
		Duty:              e.Command.Code,
		OverRange:         m.OverRange,
		Flags:             uint8(e.Flags),
	}
	for _, err := range e.Errors {
		s.Errors = append(s.Errors, ErrorLine(err))
	}
	return s
}

// BasicLogger logs each request.
func BasicLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[%s]%s from [Host:%s | IP:%s]\n", r.Method, r.RequestURI, r.Host, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the status API:
//
//	GET /ping
//	GET /status
//	GET /calibration
//	PUT /calibration
//
// PUT activates the record on the running instrument only; the stored
// record is written by the calibration procedure alone.
func NewRouter(src Source) *mux.Router {
	r := mux.NewRouter()
	r.Use(BasicLogger)

	r.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}).Methods("GET")

	r.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		e, ok := src.Latest()
		if !ok {
			http.Error(w, "no measurement yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, NewStatus(e))
	}).Methods("GET")

	r.HandleFunc("/calibration", func(w http.ResponseWriter, r *http.Request) {
		rec := src.Record()
		writeJSON(w, RecordJSON{Code4mA: rec.Code4mA, Code20mA: rec.Code20mA})
	}).Methods("GET")

	r.HandleFunc("/calibration", func(w http.ResponseWriter, r *http.Request) {
		var body RecordJSON
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid calibration record", http.StatusBadRequest)
			return
		}
		rec := calib.Record{Code4mA: body.Code4mA, Code20mA: body.Code20mA}
		if err := src.SetRecord(rec); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		log.Printf("report: calibration set to %+v over HTTP", rec)
		writeJSON(w, body)
	}).Methods("PUT")

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to serialize response", http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(data)
}

// Serve runs the status API on addr until ctx is done.
func Serve(ctx context.Context, addr string, src Source) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(src),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("report: status API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
