package report

import (
	"log"
	"sync"

	"github.com/itohio/tcloop/pkg/loop"
)

// DefaultBufferSize is the queue length of an Async reporter.
const DefaultBufferSize = 100

// Async decouples a slow reporter from the measurement loop. Events are
// dropped when the queue is full.
type Async struct {
	next   loop.Reporter
	events chan loop.Event
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// NewAsync starts a worker delivering to next.
func NewAsync(next loop.Reporter, bufSize int) *Async {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	a := &Async{
		next:   next,
		events: make(chan loop.Event, bufSize),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Report implements loop.Reporter. It never blocks.
func (a *Async) Report(e loop.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	select {
	case a.events <- e:
	default:
		a.dropped++
		if a.dropped == 1 || a.dropped%100 == 0 {
			log.Printf("report: queue full, %d events dropped", a.dropped)
		}
	}
	return nil
}

// Dropped returns the number of events lost to a full queue.
func (a *Async) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close delivers queued events and stops the worker.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.events)
	a.mu.Unlock()

	a.wg.Wait()
	if c, ok := a.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.events {
		if err := a.next.Report(e); err != nil {
			log.Printf("report: event #%d: %v", e.Seq, err)
		}
	}
}
