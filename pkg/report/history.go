package report

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"

	"github.com/itohio/tcloop/pkg/loop"
)

// Row is one stored measurement.
type Row struct {
	tableName struct{} `pg:"measurements"`

	ID                uint64 `pg:",pk"`
	Timestamp         time.Time
	Seq               uint64
	Celsius           float32
	RTDOhms           float32
	RTDCelsius        float32
	ThermocoupleVolts float32
	ColdJunctionVolts float32
	Milliamps         float32
	Duty              uint32
	Flags             uint8
	Errors            []string `pg:",array"`
}

// NewRow converts an event.
func NewRow(e loop.Event) Row {
	m := e.Measurement
	r := Row{
		Timestamp:         m.Timestamp.UTC(),
		Seq:               e.Seq,
		Celsius:           m.Celsius,
		RTDOhms:           m.RTDOhms,
		RTDCelsius:        m.RTDCelsius,
		ThermocoupleVolts: m.ThermocoupleVolts,
		ColdJunctionVolts: m.ColdJunctionVolts,
		Milliamps:         e.Command.Milliamps,
		Duty:              e.Command.Code,
		Flags:             uint8(e.Flags),
	}
	for _, err := range e.Errors {
		r.Errors = append(r.Errors, ErrorLine(err))
	}
	return r
}

// rowInserter stores a batch of rows.
type rowInserter interface {
	Insert(rows []Row) error
	Close() error
}

type pgStore struct {
	db *pg.DB
}

func (s pgStore) Insert(rows []Row) error {
	_, err := s.db.Model(&rows).Insert()
	return err
}

func (s pgStore) Close() error { return s.db.Close() }

// History batches events into Postgres. Wrap it in Async so inserts never
// stall the loop.
type History struct {
	mu    sync.Mutex
	store rowInserter
	batch int
	rows  []Row
}

// OpenHistory connects to url, creates the table if needed and returns a
// reporter inserting batch rows at a time.
func OpenHistory(url, password string, batch int) (*History, error) {
	opts, err := pg.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("report history: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	db := pg.Connect(opts)
	err = db.Model((*Row)(nil)).CreateTable(&orm.CreateTableOptions{
		IfNotExists: true,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("report history: failed to create schema: %w", err)
	}
	log.Printf("report: history enabled at %s@%s/%s", opts.User, opts.Addr, opts.Database)
	return newHistory(pgStore{db: db}, batch), nil
}

func newHistory(store rowInserter, batch int) *History {
	if batch <= 0 {
		batch = 1
	}
	return &History{store: store, batch: batch, rows: make([]Row, 0, batch)}
}

// Report implements loop.Reporter.
func (h *History) Report(e loop.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rows = append(h.rows, NewRow(e))
	if len(h.rows) < h.batch {
		return nil
	}
	return h.flush()
}

// Flush inserts pending rows.
func (h *History) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flush()
}

func (h *History) flush() error {
	if len(h.rows) == 0 {
		return nil
	}
	rows := h.rows
	h.rows = make([]Row, 0, h.batch)
	if err := h.store.Insert(rows); err != nil {
		return fmt.Errorf("report history: insert %d rows: %w", len(rows), err)
	}
	return nil
}

// Close flushes and disconnects.
func (h *History) Close() error {
	err := h.Flush()
	if cerr := h.store.Close(); err == nil {
		err = cerr
	}
	return err
}
