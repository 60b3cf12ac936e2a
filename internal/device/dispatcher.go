package device

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/numatoctl/internal/protocol"
	"github.com/danmuck/numatoctl/internal/transport"
)

// Edge filters which level transitions invoke a registered callback.
type Edge int

const (
	Rising Edge = iota + 1
	Falling
	Both
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	case Both:
		return "both"
	}
	return "unknown"
}

// Callback receives one matched edge transition: the port index and its new
// logic level. Callbacks run off the reading path and may issue device
// operations.
type Callback func(port int, level bool)

type registration struct {
	cb   Callback
	edge Edge
}

// event is one matched transition, decided on the reading path so dispatch
// order equals wire order.
type event struct {
	port  int
	level bool
	cb    Callback
}

// dispatcher owns the per-port callback registry and the queue decoupling
// callback execution from the stream reader. The registry mutex is strictly
// narrower than the command lock and is never held while a callback runs.
type dispatcher struct {
	regMu sync.Mutex
	regs  map[int]registration
	ports int

	queue chan []event
	done  chan struct{}
}

func newDispatcher(ports, queueSize int) *dispatcher {
	return &dispatcher{
		regs:  make(map[int]registration),
		ports: ports,
		queue: make(chan []event, queueSize),
		done:  make(chan struct{}),
	}
}

func (p *dispatcher) start() {
	go p.run()
}

// stop closes the queue; the run loop drains what is already decided and
// exits. Callers must not enqueue afterwards.
func (p *dispatcher) stop() {
	close(p.queue)
}

func (p *dispatcher) register(port int, cb Callback, edge Edge) {
	p.regMu.Lock()
	defer p.regMu.Unlock()
	p.regs[port] = registration{cb: cb, edge: edge}
}

func (p *dispatcher) unregister(port int) {
	p.regMu.Lock()
	defer p.regMu.Unlock()
	delete(p.regs, port)
}

// fire matches one notification against the registry. previous is the last
// cached level; transitions are evaluated per registered port, ascending, so
// within one notification the callback order is deterministic.
func (p *dispatcher) fire(n protocol.Notification, previous protocol.Mask) {
	changed := n.Current.Xor(previous)
	if changed.IsZero() {
		return
	}

	p.regMu.Lock()
	var batch []event
	for port := 0; port < p.ports; port++ {
		reg, ok := p.regs[port]
		if !ok || !changed.Bit(port) {
			continue
		}
		level := n.Current.Bit(port)
		if !reg.edge.matches(level) {
			continue
		}
		batch = append(batch, event{port: port, level: level, cb: reg.cb})
	}
	p.regMu.Unlock()

	if len(batch) == 0 {
		return
	}
	select {
	case p.queue <- batch:
	default:
		log.Warn().Int("dropped", len(batch)).Msg("notification queue full")
	}
}

// run invokes callbacks strictly in the order their transitions were
// received on the wire. It holds neither the command lock nor the registry
// lock while a callback executes.
func (p *dispatcher) run() {
	defer close(p.done)
	for batch := range p.queue {
		for _, ev := range batch {
			ev.cb(ev.port, ev.level)
		}
	}
}

func (e Edge) matches(level bool) bool {
	switch e {
	case Rising:
		return level
	case Falling:
		return !level
	case Both:
		return true
	}
	return false
}

// startListenerLocked launches the background listener. listenMu held.
func (d *Device) startListenerLocked() {
	if d.listenStop != nil {
		return
	}
	d.listenStop = make(chan struct{})
	d.listenDone = make(chan struct{})
	go d.listen(d.listenStop, d.listenDone)
}

// stopListenerLocked interrupts a blocked poll promptly: polls are bounded
// by the transport timeout and the stop channel is checked between them.
// listenMu held.
func (d *Device) stopListenerLocked() {
	if d.listenStop == nil {
		return
	}
	close(d.listenStop)
	<-d.listenDone
	d.listenStop = nil
	d.listenDone = nil
}

// listen is the dedicated idle-period reader. Each iteration takes the
// command lock for exactly one bounded poll, so a caller's command waits at
// most one poll bound and there is never a second reader on the stream.
func (d *Device) listen(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		d.mu.Lock()
		if d.closed || !d.notify {
			d.mu.Unlock()
			return
		}
		err := d.r.Poll()
		d.mu.Unlock()

		if err == nil {
			continue
		}
		if errors.Is(err, transport.ErrTransport) {
			log.Warn().Str("path", d.path).Err(err).Msg("listener stopped on transport failure")
			return
		}
		// Malformed unsolicited frame: drop it, keep listening.
		log.Warn().Str("path", d.path).Err(err).Msg("discarded malformed notification")
	}
}
