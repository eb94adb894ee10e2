package link

import "github.com/itohio/tcloop/pkg/wire"

// Device is a transmitter console, real or simulated.
type Device interface {
	Connect() error
	Close() error
	Frames() <-chan wire.Frame
	Messages() <-chan string
	SendKey(key byte) error
	IsConnected() bool
}

var _ Device = (*Serial)(nil)

var _ Device = (*Mock)(nil)
