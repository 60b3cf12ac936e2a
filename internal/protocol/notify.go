package protocol

import (
	"fmt"

	"github.com/danmuck/numatoctl/internal/protocol/frame"
)

// NotifyMarker opens an unsolicited edge-change frame. The byte cannot occur
// in command echoes, hex words, decimal ADC payloads or the prompt, so it is
// safe to recognize at any stream position.
const NotifyMarker byte = '#'

// Notification is one decoded edge-change frame: the new level bitmask, the
// level before the change, and the iodir mask at the time of the change.
type Notification struct {
	Current  Mask
	Previous Mask
	IODir    Mask
}

// Changed returns the set of ports whose level differs between Previous and
// Current.
func (n Notification) Changed() Mask {
	return n.Current.Xor(n.Previous)
}

// Recognizer classifies and parses unsolicited frames. It is a value so
// tests can substitute the grammar without touching the session.
type Recognizer struct {
	Marker byte
	Parse  func(r *frame.Reader, digits int) (Notification, error)
}

// DefaultRecognizer matches the stock firmware grammar: the marker byte,
// then three space-separated full-width hex words (current, previous,
// iodir).
func DefaultRecognizer() Recognizer {
	return Recognizer{Marker: NotifyMarker, Parse: ParseNotification}
}

// ParseNotification consumes a notification body from the stream, the marker
// byte already being consumed by the caller.
func ParseNotification(r *frame.Reader, digits int) (Notification, error) {
	var n Notification
	words := []*Mask{&n.Current, &n.Previous, &n.IODir}
	for i, word := range words {
		if err := expectSpace(r); err != nil {
			return Notification{}, err
		}
		text, err := r.ReadPayload(digits)
		if err != nil {
			return Notification{}, fmt.Errorf("%w: notification word %d: %v", ErrProtocol, i, err)
		}
		m, err := ParseMask(text, digits)
		if err != nil {
			return Notification{}, err
		}
		*word = m
	}
	return n, nil
}

func expectSpace(r *frame.Reader) error {
	sep, err := r.ReadPayload(1)
	if err != nil {
		return fmt.Errorf("%w: notification separator: %v", ErrProtocol, err)
	}
	if sep != " " {
		return fmt.Errorf("%w: notification separator %q", ErrProtocol, sep)
	}
	return nil
}
