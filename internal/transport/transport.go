// Package transport owns the byte stream below the protocol engine: a real
// serial port in production, a scripted double in tests.
package transport

import (
	"errors"
	"time"
)

var ErrTransport = errors.New("transport: i/o failure")

// Transport is an exclusively owned, half-duplex byte stream. Read is one
// bounded poll: it returns (0, nil) when the poll timeout passes without
// data, so the caller's deadline loop stays in control.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Opener constructs a Transport for one candidate device path. Discovery
// and the session constructor take an Opener so tests can hand in doubles.
type Opener func(path string) (Transport, error)

// Config carries the link parameters for a serial Transport.
type Config struct {
	BaudRate    int
	PollTimeout time.Duration
}

func (c Config) WithDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = 19200
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
	return c
}
