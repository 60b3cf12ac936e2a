package device

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/danmuck/numatoctl/internal/transport"
)

// mockTransport emulates one USB GPIO expander behind a serial device. Like
// the real hardware it echoes every command and terminates lines with an
// arbitrary mix of CR and LF bytes, so tests exercise the EOL-insensitive
// read path by default.
type mockTransport struct {
	mu    sync.Mutex
	ports int

	id    string
	ver   string
	level string
	adc   string

	buf    []byte
	writes []string

	notify bool
	// pendingNotify frames are spliced into the next response at spliceAt.
	pendingNotify []string
	spliceAt      int

	// mute drops responses entirely, simulating a dead device.
	mute   bool
	closed bool

	rng *rand.Rand
}

func newMockTransport(ports int) *mockTransport {
	return &mockTransport{
		ports: ports,
		id:    "00004711",
		ver:   "00000008",
		level: strings.Repeat("0", ports/4),
		adc:   "512",
		rng:   rand.New(rand.NewSource(1)),
	}
}

func (m *mockTransport) width() int { return m.ports / 4 }

func (m *mockTransport) canNotify() bool { return m.ports != 8 }

// eol returns zero to nine random line-ending bytes: terminators carry no
// information and must not matter to the driver.
func (m *mockTransport) eol() string {
	chars := []byte("\r\n")
	n := m.rng.Intn(10)
	out := make([]byte, n)
	for i := range out {
		out[i] = chars[m.rng.Intn(2)]
	}
	return string(out)
}

func (m *mockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("%w: mock closed", transport.ErrTransport)
	}
	query := string(p)
	m.writes = append(m.writes, query)
	if !m.mute {
		m.buf = append(m.buf, m.respond(query)...)
	}
	return len(p), nil
}

func (m *mockTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("%w: mock closed", transport.ErrTransport)
	}
	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) respond(query string) string {
	echo := strings.ReplaceAll(query, "\r", m.eol())
	cmd := strings.TrimSuffix(query, "\r")
	var resp string
	switch {
	case cmd == "gpio notify off":
		if m.canNotify() {
			m.notify = false
			resp = "gpio notify disabled" + m.eol() + ">"
		}
	case cmd == "gpio notify on":
		if m.canNotify() {
			m.notify = true
			resp = "gpio notify enabled" + m.eol() + ">"
		}
	case cmd == "gpio notify get":
		if m.canNotify() {
			state := "disabled"
			if m.notify {
				state = "enabled"
			}
			resp = "gpio notify " + state + m.eol() + ">"
		}
	case cmd == "id get":
		resp = m.id + m.eol() + ">"
	case cmd == "ver":
		resp = m.ver + m.eol() + ">"
	case cmd == "gpio readall":
		resp = m.level + m.eol() + ">"
	case strings.HasPrefix(cmd, "id set "):
		m.id = strings.TrimPrefix(cmd, "id set ")
		resp = ">"
	case strings.HasPrefix(cmd, "gpio writeall "):
		m.level = strings.TrimPrefix(cmd, "gpio writeall ")
		resp = ">"
	case strings.HasPrefix(cmd, "gpio iomask "):
		resp = ">"
	case strings.HasPrefix(cmd, "gpio iodir "):
		resp = ">"
	case strings.HasPrefix(cmd, "adc read "):
		resp = m.adc + m.eol() + ">"
	}

	full := echo + resp
	if len(m.pendingNotify) > 0 {
		frame := m.pendingNotify[0]
		m.pendingNotify = m.pendingNotify[1:]
		at := m.spliceAt
		if at > len(full) {
			at = len(full)
		}
		full = full[:at] + frame + full[at:]
	}
	return full
}

// notifyFrame renders one edge-change frame in the stock firmware grammar.
func (m *mockTransport) notifyFrame(current, previous, iodir string) string {
	return m.eol() + "# " + current + " " + previous + " " + iodir
}

// spliceNotification arranges for a frame to be spliced into the next
// response at byte offset at.
func (m *mockTransport) spliceNotification(current, previous, iodir string, at int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingNotify = append(m.pendingNotify, m.notifyFrame(current, previous, iodir))
	m.spliceAt = at
}

// pushNotification delivers a frame on the idle stream, as the device does
// between commands.
func (m *mockTransport) pushNotification(current, previous, iodir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, m.notifyFrame(current, previous, iodir)...)
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockTransport) setMute(mute bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mute = mute
}

func (m *mockTransport) writeLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}

// mockOpener serves scripted transports by path; unknown paths fail to
// open, emulating absent device files.
func mockOpener(mocks map[string]*mockTransport) transport.Opener {
	return func(path string) (transport.Transport, error) {
		m, ok := mocks[path]
		if !ok {
			return nil, fmt.Errorf("%w: open %s: no such device", transport.ErrTransport, path)
		}
		return m, nil
	}
}
