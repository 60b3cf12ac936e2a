package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// portHandle is the subset of go.bug.st/serial.Port the driver touches.
type portHandle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(timeout time.Duration) error
	Close() error
}

// openPort is swappable so serial transport tests run without hardware.
var openPort = func(path string, mode *serial.Mode) (portHandle, error) {
	return serial.Open(path, mode)
}

type serialTransport struct {
	path string
	port portHandle
}

// OpenSerial opens one serial device path with the configured link
// parameters. The returned Transport polls with the configured bound.
func OpenSerial(path string, cfg Config) (Transport, error) {
	cfg = cfg.WithDefaults()
	port, err := openPort(path, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrTransport, path, err)
	}
	if err := port.SetReadTimeout(cfg.PollTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("%w: set read timeout %s: %v", ErrTransport, path, err)
	}
	return &serialTransport{path: path, port: port}, nil
}

// SerialOpener binds link parameters into an Opener for discovery.
func SerialOpener(cfg Config) Opener {
	return func(path string) (Transport, error) {
		return OpenSerial(path, cfg)
	}
}

func (t *serialTransport) Read(p []byte) (int, error) {
	n, err := t.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("%w: read %s: %v", ErrTransport, t.path, err)
	}
	return n, nil
}

func (t *serialTransport) Write(p []byte) (int, error) {
	n, err := t.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: write %s: %v", ErrTransport, t.path, err)
	}
	return n, nil
}

func (t *serialTransport) Close() error {
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrTransport, t.path, err)
	}
	return nil
}
