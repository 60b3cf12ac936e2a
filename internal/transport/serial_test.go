package transport

import (
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
)

type fakePort struct {
	readTimeout time.Duration
	readErr     error
	writeErr    error
	closeErr    error
	closed      bool
}

func (f *fakePort) Read(p []byte) (int, error)  { return 0, f.readErr }
func (f *fakePort) Write(p []byte) (int, error) { return len(p), f.writeErr }
func (f *fakePort) Close() error {
	f.closed = true
	return f.closeErr
}
func (f *fakePort) SetReadTimeout(timeout time.Duration) error {
	f.readTimeout = timeout
	return nil
}

func swapOpenPort(t *testing.T, fn func(path string, mode *serial.Mode) (portHandle, error)) {
	t.Helper()
	prev := openPort
	openPort = fn
	t.Cleanup(func() { openPort = prev })
}

func TestOpenSerialAppliesLinkConfig(t *testing.T) {
	fake := &fakePort{}
	var gotPath string
	var gotMode serial.Mode
	swapOpenPort(t, func(path string, mode *serial.Mode) (portHandle, error) {
		gotPath = path
		gotMode = *mode
		return fake, nil
	})

	tr, err := OpenSerial("/dev/ttyACM7", Config{BaudRate: 115200, PollTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tr.Close()

	if gotPath != "/dev/ttyACM7" {
		t.Fatalf("opened %q", gotPath)
	}
	if gotMode.BaudRate != 115200 {
		t.Fatalf("baud rate = %d", gotMode.BaudRate)
	}
	if fake.readTimeout != 50*time.Millisecond {
		t.Fatalf("read timeout = %v", fake.readTimeout)
	}
}

func TestOpenSerialDefaultsLinkConfig(t *testing.T) {
	fake := &fakePort{}
	var gotMode serial.Mode
	swapOpenPort(t, func(path string, mode *serial.Mode) (portHandle, error) {
		gotMode = *mode
		return fake, nil
	})

	tr, err := OpenSerial("/dev/ttyACM0", Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tr.Close()

	if gotMode.BaudRate != 19200 {
		t.Fatalf("default baud rate = %d", gotMode.BaudRate)
	}
	if fake.readTimeout != 100*time.Millisecond {
		t.Fatalf("default read timeout = %v", fake.readTimeout)
	}
}

func TestOpenSerialWrapsOpenFailure(t *testing.T) {
	swapOpenPort(t, func(path string, mode *serial.Mode) (portHandle, error) {
		return nil, errors.New("no such device")
	})
	if _, err := OpenSerial("/dev/ttyACM0", Config{}); !errors.Is(err, ErrTransport) {
		t.Fatalf("open failure: %v, want ErrTransport", err)
	}
}

func TestSerialTransportWrapsIOFailures(t *testing.T) {
	ioErr := errors.New("device gone")
	fake := &fakePort{readErr: ioErr, writeErr: ioErr, closeErr: ioErr}
	swapOpenPort(t, func(path string, mode *serial.Mode) (portHandle, error) {
		return fake, nil
	})

	tr, err := OpenSerial("/dev/ttyACM0", Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := tr.Read(make([]byte, 8)); !errors.Is(err, ErrTransport) {
		t.Fatalf("read failure: %v, want ErrTransport", err)
	}
	if _, err := tr.Write([]byte("ver\r")); !errors.Is(err, ErrTransport) {
		t.Fatalf("write failure: %v, want ErrTransport", err)
	}
	if err := tr.Close(); !errors.Is(err, ErrTransport) {
		t.Fatalf("close failure: %v, want ErrTransport", err)
	}
	if !fake.closed {
		t.Fatal("close never reached the port")
	}
}

func TestSerialOpenerBindsConfig(t *testing.T) {
	fake := &fakePort{}
	swapOpenPort(t, func(path string, mode *serial.Mode) (portHandle, error) {
		return fake, nil
	})

	open := SerialOpener(Config{PollTimeout: 25 * time.Millisecond})
	tr, err := open("/dev/ttyACM4")
	if err != nil {
		t.Fatalf("opener: %v", err)
	}
	defer tr.Close()
	if fake.readTimeout != 25*time.Millisecond {
		t.Fatalf("read timeout = %v", fake.readTimeout)
	}
}
