package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/numatoctl/internal/protocol"
	"github.com/danmuck/numatoctl/internal/protocol/frame"
	"github.com/danmuck/numatoctl/internal/transport"
)

var (
	ErrDuplicateID = errors.New("device: duplicate device id")
	ErrIdentity    = errors.New("device: does not answer like a gpio device")
	ErrInputPort   = errors.New("device: cannot write to an input port")
	ErrClosed      = errors.New("device: session closed")
)

// Direction of one port.
type Direction int

const (
	Out Direction = iota
	In
)

// Config carries session tuning. The zero value is usable via WithDefaults.
type Config struct {
	Transport transport.Config
	// ReadTimeout bounds one response read; a miss surfaces as
	// protocol.ErrTimeout and leaves the session usable.
	ReadTimeout time.Duration
	// Recognizer classifies unsolicited frames. Zero value selects the
	// stock firmware grammar.
	Recognizer protocol.Recognizer
	// QueueSize bounds notifications waiting for callback dispatch.
	QueueSize int
}

func (c Config) WithDefaults() Config {
	c.Transport = c.Transport.WithDefaults()
	if c.ReadTimeout == 0 {
		c.ReadTimeout = time.Second
	}
	if c.Recognizer.Marker == 0 || c.Recognizer.Parse == nil {
		c.Recognizer = protocol.DefaultRecognizer()
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	return c
}

// Device is one session with a USB GPIO expander. All operations serialize
// on the command mutex: the wire sees one complete command, then the next.
type Device struct {
	path    string
	cfg     Config
	spec    protocol.DeviceSpec
	id      uint32
	version string

	// mu is the command lock. It guards the transport, the reader and the
	// cached port state for the full duration of one command cycle.
	mu     sync.Mutex
	tr     transport.Transport
	r      *frame.Reader
	closed bool

	iodir  protocol.Mask
	iomask protocol.Mask
	level  protocol.Mask
	notify bool

	dispatch *dispatcher

	// listenMu guards listener start/stop, never held across callbacks.
	listenMu   sync.Mutex
	listenStop chan struct{}
	listenDone chan struct{}
}

// Open probes one candidate path and builds a session for it. The probe
// accepts any syntactically plausible identity word; firmware versions are
// opaque and never pinned.
func Open(path string, open transport.Opener, cfg Config) (*Device, error) {
	cfg = cfg.WithDefaults()
	tr, err := open(path)
	if err != nil {
		return nil, err
	}

	d := &Device{
		path: path,
		cfg:  cfg,
		tr:   tr,
		r:    frame.New(tr, cfg.ReadTimeout),
	}
	if err := d.probe(); err != nil {
		_ = tr.Close()
		return nil, err
	}

	d.dispatch = newDispatcher(d.spec.Ports, cfg.QueueSize)
	d.dispatch.start()
	rec := cfg.Recognizer
	d.r.SetMarker(rec.Marker, func(r *frame.Reader) error {
		n, err := rec.Parse(r, d.spec.MaskDigits)
		if err != nil {
			return err
		}
		d.handleNotification(n)
		return nil
	})

	if err := d.initialState(); err != nil {
		_ = tr.Close()
		d.dispatch.stop()
		return nil, err
	}

	log.Debug().
		Str("path", path).
		Uint32("id", d.id).
		Int("ports", d.spec.Ports).
		Msg("device session opened")
	return d, nil
}

// probe quiesces the stream, verifies the identity words and derives the
// variant from the width of a readall reply.
func (d *Device) probe() error {
	// Any notification stream from a previous session would corrupt the
	// identity probe; silence it before draining.
	if _, err := d.tr.Write(frame.EncodeCommand(protocol.CmdNotifyOff)); err != nil {
		return err
	}
	if err := d.r.Drain(); err != nil {
		return err
	}

	id, err := d.execIDWord(protocol.CmdIDGet)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIdentity, d.path, err)
	}
	version, err := d.execPayloadWord(protocol.CmdVer, protocol.IDDigits)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIdentity, d.path, err)
	}

	// The variant is not directly queryable: the digit count of a mask
	// reply fixes the port count.
	levelText, err := d.execPrompt(protocol.CmdReadAll)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIdentity, d.path, err)
	}
	spec, err := protocol.SpecForMaskDigits(len(levelText))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIdentity, d.path, err)
	}
	level, err := protocol.ParseMask(levelText, spec.MaskDigits)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrIdentity, d.path, err)
	}

	d.id = id
	d.version = version
	d.spec = spec
	d.level = level
	return nil
}

// initialState forces the safe all-input configuration and confirms that
// notifications are off, seeding the cached port state.
func (d *Device) initialState() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.setIODirLocked(protocol.AllOnes(d.spec.MaskDigits)); err != nil {
		return err
	}
	if d.spec.SupportsNotification {
		if err := d.setNotifyLocked(false); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the device file this session was opened on.
func (d *Device) Path() string { return d.path }

// Spec returns the immutable variant properties.
func (d *Device) Spec() protocol.DeviceSpec { return d.spec }

// ID returns the device id read at discovery.
func (d *Device) ID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Version returns the firmware version word as an opaque string.
func (d *Device) Version() string { return d.version }

// SetID reprograms the device id. The effect is permanent on the device
// side; the cached id follows only after the device confirms.
func (d *Device) SetID(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.execEmpty(protocol.IDSetCommand(id)); err != nil {
		return err
	}
	d.id = id
	return nil
}

// IODir returns the cached direction mask (1 = input).
func (d *Device) IODir() protocol.Mask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.iodir
}

// IOMask returns the cached write-protection mask.
func (d *Device) IOMask() protocol.Mask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.iomask
}

// Level returns the last device-confirmed level mask.
func (d *Device) Level() protocol.Mask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// SetIODir writes the direction configuration for all ports. The iomask is
// re-derived so the newly declared inputs are write-protected.
func (d *Device) SetIODir(mask protocol.Mask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.setIODirLocked(mask)
}

// SetIOMask writes the write-protection mask.
func (d *Device) SetIOMask(mask protocol.Mask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.setIOMaskLocked(mask)
}

// Setup configures the direction of a single port.
func (d *Device) Setup(port int, dir Direction) error {
	if err := d.spec.CheckPort(port); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.setIODirLocked(d.iodir.WithBit(port, dir == In))
}

// Write sets the logic level of a single output port.
func (d *Device) Write(port int, level bool) error {
	if err := d.spec.CheckPort(port); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.iodir.Bit(port) {
		return fmt.Errorf("%w: port %d", ErrInputPort, port)
	}
	return d.writeAllLocked(d.level.WithBit(port, level))
}

// WriteAll sets the level of every output port at once. Input port bits are
// masked off before the value reaches the wire.
func (d *Device) WriteAll(mask protocol.Mask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.writeAllLocked(mask)
}

// Read returns the logic level of a single port.
func (d *Device) Read(port int) (bool, error) {
	if err := d.spec.CheckPort(port); err != nil {
		return false, err
	}
	mask, err := d.ReadAll()
	if err != nil {
		return false, err
	}
	return mask.Bit(port), nil
}

// ReadAll reads the level of all ports as one mask.
func (d *Device) ReadAll() (protocol.Mask, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return protocol.Mask{}, ErrClosed
	}
	text, err := d.execPayloadWord(protocol.CmdReadAll, d.spec.MaskDigits)
	if err != nil {
		return protocol.Mask{}, err
	}
	mask, err := protocol.ParseMask(text, d.spec.MaskDigits)
	if err != nil {
		return protocol.Mask{}, err
	}
	d.level = mask
	return mask, nil
}

// ADCRead reads the analog level of an ADC-capable port. Values range from
// zero to the variant's resolution ceiling.
func (d *Device) ADCRead(port int) (int, error) {
	if err := d.spec.CheckADCPort(port); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	text, err := d.execPrompt(protocol.ADCReadCommand(port, d.spec.ADCDigits))
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: adc reply %q is not a decimal word", protocol.ErrProtocol, text)
	}
	return value, nil
}

// NotifyEnabled queries the device-side notification switch.
func (d *Device) NotifyEnabled() (bool, error) {
	if !d.spec.SupportsNotification {
		return false, fmt.Errorf("%w: %d-port boards have no notify command",
			protocol.ErrCapability, d.spec.Ports)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, ErrClosed
	}
	text, err := d.execPrompt(protocol.CmdNotifyGet)
	if err != nil {
		return false, err
	}
	switch {
	case strings.HasPrefix(text, protocol.NotifyEnabled):
		return true, nil
	case strings.HasPrefix(text, protocol.NotifyDisabled):
		return false, nil
	}
	return false, fmt.Errorf("%w: notify reply %q", protocol.ErrProtocol, text)
}

// SetNotify switches asynchronous edge notifications on or off. Enabling
// starts the background listener; disabling stops it promptly.
func (d *Device) SetNotify(enable bool) error {
	if !d.spec.SupportsNotification {
		return fmt.Errorf("%w: %d-port boards have no notify command",
			protocol.ErrCapability, d.spec.Ports)
	}

	d.listenMu.Lock()
	defer d.listenMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	err := d.setNotifyLocked(enable)
	d.mu.Unlock()
	if err != nil {
		return err
	}

	if enable {
		d.startListenerLocked()
	} else {
		d.stopListenerLocked()
	}
	return nil
}

// AddEventDetect registers a callback for edge transitions on one port.
// Registration is guarded by the dispatcher's registry lock only; a slow
// callback on another port never blocks it.
func (d *Device) AddEventDetect(port int, cb Callback, edge Edge) error {
	if err := d.spec.CheckPort(port); err != nil {
		return err
	}
	d.dispatch.register(port, cb, edge)
	return nil
}

// RemoveEventDetect drops the callback registration for one port.
func (d *Device) RemoveEventDetect(port int) error {
	if err := d.spec.CheckPort(port); err != nil {
		return err
	}
	d.dispatch.unregister(port)
	return nil
}

// Closed reports whether the session has been shut down.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close restores the safe all-input state, stops the listener and releases
// the transport. Device-side failures are reported but never prevent the
// transport from closing, so batch cleanup can proceed past a dead device.
func (d *Device) Close() error {
	d.listenMu.Lock()
	d.stopListenerLocked()
	d.listenMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	all := protocol.AllOnes(d.spec.MaskDigits)
	if err := d.setIOMaskLocked(all); err != nil {
		errs = append(errs, err)
	}
	if err := d.setIODirLocked(all); err != nil {
		errs = append(errs, err)
	}
	if d.spec.SupportsNotification && d.notify {
		if err := d.setNotifyLocked(false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.tr.Close(); err != nil {
		errs = append(errs, err)
	}
	d.dispatch.stop()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}

// String renders the cached session state for the discovery listing.
func (d *Device) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("dev: %s | id: %d | ver: %s | ports: %d | iodir: 0x%s | iomask: 0x%s | level: 0x%s",
		d.path, d.id, d.version, d.spec.Ports, d.iodir, d.iomask, d.level)
}

// setIODirLocked performs the original three-step direction write: open the
// iomask, write iodir, then re-protect exactly the input ports.
func (d *Device) setIODirLocked(mask protocol.Mask) error {
	if err := d.setIOMaskLocked(protocol.AllOnes(d.spec.MaskDigits)); err != nil {
		return err
	}
	if err := d.execEmpty(protocol.IODirCommand(mask)); err != nil {
		return err
	}
	if err := d.setIOMaskLocked(mask.Not()); err != nil {
		return err
	}
	d.iodir = mask
	return nil
}

func (d *Device) setIOMaskLocked(mask protocol.Mask) error {
	if err := d.execEmpty(protocol.IOMaskCommand(mask)); err != nil {
		return err
	}
	d.iomask = mask
	return nil
}

func (d *Device) writeAllLocked(mask protocol.Mask) error {
	masked := mask.And(d.iodir.Not())
	if err := d.execEmpty(protocol.WriteAllCommand(masked)); err != nil {
		return err
	}
	d.level = masked
	return nil
}

func (d *Device) setNotifyLocked(enable bool) error {
	text, err := d.execPrompt(protocol.NotifySetCommand(enable))
	if err != nil {
		return err
	}
	if text != protocol.NotifyConfirmation(enable) {
		return fmt.Errorf("%w: notify reply %q", protocol.ErrProtocol, text)
	}
	d.notify = enable
	return nil
}

// exec writes one command line and verifies the echo. Notification frames
// spliced into the echo are dispatched by the reader's marker hook and never
// reach the comparison.
func (d *Device) exec(cmd string) error {
	if _, err := d.tr.Write(frame.EncodeCommand(cmd)); err != nil {
		return err
	}
	echo, err := d.r.ReadPayload(len(cmd))
	if err != nil {
		return d.wireErr(cmd, err)
	}
	if echo != cmd {
		return fmt.Errorf("%w: command %q echoed %q", protocol.ErrProtocol, cmd, echo)
	}
	return nil
}

// execEmpty runs a command whose only response is the prompt.
func (d *Device) execEmpty(cmd string) error {
	text, err := d.execPrompt(cmd)
	if err != nil {
		return err
	}
	if text != "" {
		return fmt.Errorf("%w: command %q returned unexpected payload %q",
			protocol.ErrProtocol, cmd, text)
	}
	return nil
}

// execPrompt runs a command and returns the free-form payload up to the
// prompt byte.
func (d *Device) execPrompt(cmd string) (string, error) {
	if err := d.exec(cmd); err != nil {
		return "", err
	}
	text, err := d.r.ReadUntilPrompt()
	if err != nil {
		return "", d.wireErr(cmd, err)
	}
	return text, nil
}

// execPayloadWord runs a command answered by a fixed-width word followed by
// the prompt.
func (d *Device) execPayloadWord(cmd string, digits int) (string, error) {
	if err := d.exec(cmd); err != nil {
		return "", err
	}
	word, err := d.r.ReadPayload(digits)
	if err != nil {
		return "", d.wireErr(cmd, err)
	}
	rest, err := d.r.ReadUntilPrompt()
	if err != nil {
		return "", d.wireErr(cmd, err)
	}
	if rest != "" {
		return "", fmt.Errorf("%w: command %q returned trailing payload %q",
			protocol.ErrProtocol, cmd, rest)
	}
	return word, nil
}

// execIDWord runs a command answered by the fixed 8-digit hex identity word.
func (d *Device) execIDWord(cmd string) (uint32, error) {
	word, err := d.execPayloadWord(cmd, protocol.IDDigits)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(word, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: command %q returned non-hex word %q",
			protocol.ErrProtocol, cmd, word)
	}
	return uint32(value), nil
}

// wireErr maps reader failures onto the error taxonomy.
func (d *Device) wireErr(cmd string, err error) error {
	if errors.Is(err, frame.ErrReadTimeout) {
		return fmt.Errorf("%w: command %q", protocol.ErrTimeout, cmd)
	}
	return err
}

// handleNotification runs on the reading path with the command lock held:
// it decides transitions against the previously cached level in wire order,
// hands matching callbacks to the dispatch queue and then updates the cache.
func (d *Device) handleNotification(n protocol.Notification) {
	previous := d.level
	d.dispatch.fire(n, previous)
	d.level = n.Current
}
