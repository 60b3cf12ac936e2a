package frame

import (
	"errors"
	"time"
)

const (
	// CR terminates every command sent to the device.
	CR byte = '\r'
	LF byte = '\n'

	// Prompt terminates free-form replies instead of a fixed length.
	Prompt byte = '>'
)

var ErrReadTimeout = errors.New("frame: read timeout")

// ByteSource is one bounded read of the underlying stream. A read that hits
// the transport's poll timeout returns (0, nil) so callers can retry until
// their own deadline expires.
type ByteSource interface {
	Read(p []byte) (int, error)
}

// MarkerFunc consumes one unsolicited frame through the same Reader it was
// detected on. It is invoked after the marker byte itself has been consumed.
type MarkerFunc func(*Reader) error

// Reader is the single logical reader of a device stream. All CR/LF bytes
// are discarded on the way through, whichever variant the device mixed into
// its reply, and every payload byte is offered to the marker hook before it
// is delivered to the caller.
type Reader struct {
	src     ByteSource
	buf     []byte
	timeout time.Duration

	marker   byte
	onMarker MarkerFunc
}

// EncodeCommand frames one command line for the wire.
func EncodeCommand(cmd string) []byte {
	return append([]byte(cmd), CR)
}

func New(src ByteSource, readTimeout time.Duration) *Reader {
	return &Reader{src: src, timeout: readTimeout}
}

// SetMarker installs the unsolicited-frame hook. A zero marker disables it.
func (r *Reader) SetMarker(marker byte, fn MarkerFunc) {
	r.marker = marker
	r.onMarker = fn
}

// Timeout returns the per-read deadline bound.
func (r *Reader) Timeout() time.Duration {
	return r.timeout
}

// ReadPayload returns exactly n payload bytes. EOL bytes are discarded and
// unsolicited frames are dispatched in place; neither counts toward n.
func (r *Reader) ReadPayload(n int) (string, error) {
	deadline := time.Now().Add(r.timeout)
	out := make([]byte, 0, n)
	for len(out) < n {
		b, ok, err := r.payloadByte(deadline)
		if err != nil {
			return string(out), err
		}
		if ok {
			out = append(out, b)
		}
	}
	return string(out), nil
}

// ReadUntilPrompt returns all payload bytes up to, and excluding, the prompt
// byte.
func (r *Reader) ReadUntilPrompt() (string, error) {
	deadline := time.Now().Add(r.timeout)
	var out []byte
	for {
		b, ok, err := r.payloadByte(deadline)
		if err != nil {
			return string(out), err
		}
		if !ok {
			continue
		}
		if b == Prompt {
			return string(out), nil
		}
		out = append(out, b)
	}
}

// Poll performs one bounded read during idle listening. Unsolicited frames
// anywhere in the buffered bytes are dispatched; everything else is retained
// for the next payload reader.
func (r *Reader) Poll() error {
	if err := r.fill(); err != nil {
		return err
	}
	var pending []byte
	for len(r.buf) > 0 {
		b := r.buf[0]
		r.buf = r.buf[1:]
		if b == CR || b == LF {
			continue
		}
		if r.onMarker != nil && b == r.marker {
			if err := r.onMarker(r); err != nil {
				r.buf = append(pending, r.buf...)
				return err
			}
			continue
		}
		pending = append(pending, b)
	}
	r.buf = pending
	return nil
}

// Drain discards everything buffered and everything the device still has in
// flight, returning once one poll comes back empty.
func (r *Reader) Drain() error {
	r.buf = r.buf[:0]
	tmp := make([]byte, 256)
	for {
		n, err := r.src.Read(tmp)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// payloadByte yields the next payload byte, running EOL discard and the
// marker hook first. ok is false when the byte was consumed by either.
func (r *Reader) payloadByte(deadline time.Time) (byte, bool, error) {
	b, err := r.readByte(deadline)
	if err != nil {
		return 0, false, err
	}
	if b == CR || b == LF {
		return 0, false, nil
	}
	if r.onMarker != nil && b == r.marker {
		if err := r.onMarker(r); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
	return b, true, nil
}

// readByte pulls the next raw byte, polling the source until the deadline.
func (r *Reader) readByte(deadline time.Time) (byte, error) {
	for len(r.buf) == 0 {
		if !time.Now().Before(deadline) {
			return 0, ErrReadTimeout
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
		if len(r.buf) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *Reader) fill() error {
	tmp := make([]byte, 256)
	n, err := r.src.Read(tmp)
	if err != nil {
		return err
	}
	if n > 0 {
		r.buf = append(r.buf, tmp[:n]...)
	}
	return nil
}
