// Package link connects the host tools to a transmitter over its serial
// console, or to a simulated one.
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/itohio/tcloop/pkg/wire"
)

const (
	// DefaultBaudRate is the console baud rate of the firmware.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the frame and message channels.
	DefaultBufferSize = 100
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is a connection to the transmitter console.
type Serial struct {
	port     string
	baudRate int
	bufSize  int

	conn      serial.Port
	frames    chan wire.Frame
	messages  chan string
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	done      chan struct{}
}

// New creates a Serial for port. Zero baudRate or bufSize select defaults.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		frames:   make(chan wire.Frame, bufSize),
		messages: make(chan string, bufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true
	d.done = make(chan struct{})
	go d.read(port)

	return nil
}

// Close closes the port and the frame and message channels.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}

	d.cancel()
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			log.Printf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}
	d.connected = false
	done := d.done
	d.mu.Unlock()

	// The reader owns the channels; wait for it to let go.
	<-done
	return nil
}

// Frames returns the channel of measurement frames.
func (d *Serial) Frames() <-chan wire.Frame { return d.frames }

// Messages returns console lines that are not frames: prompts, the text
// dump and fault messages.
func (d *Serial) Messages() <-chan string { return d.messages }

// SendKey writes one key to the console.
func (d *Serial) SendKey(key byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}
	if _, err := d.conn.Write([]byte{key}); err != nil {
		return fmt.Errorf("failed to send key %q: %w", key, err)
	}
	return nil
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Serial) read(r io.Reader) {
	defer close(d.done)
	defer close(d.frames)
	defer close(d.messages)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in link reader: %v", r)
		}
	}()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if d.ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !dispatch(d.ctx, line, d.frames, d.messages) {
			return
		}
	}
	if err := scanner.Err(); err != nil && d.ctx.Err() == nil {
		log.Printf("Error reading from serial port: %v", err)
	}
}

// dispatch routes one console line. It returns false once ctx is done.
func dispatch(ctx context.Context, line string, frames chan<- wire.Frame, messages chan<- string) bool {
	f, err := wire.ParseLine(line)
	switch {
	case err == nil:
		select {
		case frames <- f:
		case <-ctx.Done():
			return false
		default:
			log.Printf("Frames channel full, dropping frame")
		}
	case errors.Is(err, wire.ErrNotFrame):
		select {
		case messages <- line:
		case <-ctx.Done():
			return false
		default:
		}
	default:
		log.Printf("Failed to parse line '%s': %v", line, err)
	}
	return true
}
