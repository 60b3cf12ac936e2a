package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/numatoctl/internal/transport"
)

// DefaultDevicePaths is the candidate list used when a discovery caller
// supplies none.
var DefaultDevicePaths = func() []string {
	paths := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		paths = append(paths, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	return paths
}()

// Registry discovers and owns sessions, keyed by the id read from each
// device rather than by device file order. It is an explicit value owned by
// the caller; there is no process-wide instance.
type Registry struct {
	open transport.Opener
	cfg  Config

	// mu is the discovery-wide lock: concurrent Discover calls never
	// interleave probing the same candidate.
	mu      sync.Mutex
	devices map[uint32]*Device
}

func NewRegistry(open transport.Opener, cfg Config) *Registry {
	return &Registry{
		open:    open,
		cfg:     cfg.WithDefaults(),
		devices: make(map[uint32]*Device),
	}
}

// Discover probes the candidate paths and registers every device that
// answers the identity probe. Unusable candidates are skipped, never fatal;
// duplicate-id candidates are closed again and reported in the returned
// error while the first registration stays. The returned map is the
// post-scan registry view.
func (g *Registry) Discover(paths []string) (map[uint32]*Device, error) {
	if len(paths) == 0 {
		paths = DefaultDevicePaths
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for id, dev := range g.devices {
		if dev.Closed() {
			delete(g.devices, id)
		}
	}

	var errs []error
	for _, path := range paths {
		if g.registeredLocked(path) {
			continue
		}
		dev, err := Open(path, g.open, g.cfg)
		if err != nil {
			log.Debug().Str("path", path).Err(err).Msg("candidate skipped")
			continue
		}
		if prev, ok := g.devices[dev.ID()]; ok {
			errs = append(errs, fmt.Errorf("%w: %s and %s both report id %08x",
				ErrDuplicateID, prev.Path(), dev.Path(), dev.ID()))
			if err := dev.Close(); err != nil {
				log.Warn().Str("path", path).Err(err).Msg("duplicate close failed")
			}
			continue
		}
		g.devices[dev.ID()] = dev
		log.Info().
			Str("path", path).
			Uint32("id", dev.ID()).
			Int("ports", dev.Spec().Ports).
			Msg("device registered")
	}

	return g.snapshotLocked(), errors.Join(errs...)
}

// Devices returns the current id to session view.
func (g *Registry) Devices() map[uint32]*Device {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// Get returns one session by device id.
func (g *Registry) Get(id uint32) (*Device, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	dev, ok := g.devices[id]
	return dev, ok
}

// Cleanup closes every registered session. Each close failure is collected
// independently so one unreachable device never blocks closing the rest.
func (g *Registry) Cleanup() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for id, dev := range g.devices {
		if err := dev.Close(); err != nil {
			errs = append(errs, err)
			log.Warn().Uint32("id", id).Err(err).Msg("device close failed")
		}
		delete(g.devices, id)
	}
	return errors.Join(errs...)
}

func (g *Registry) registeredLocked(path string) bool {
	for _, dev := range g.devices {
		if dev.Path() == path {
			return true
		}
	}
	return false
}

func (g *Registry) snapshotLocked() map[uint32]*Device {
	out := make(map[uint32]*Device, len(g.devices))
	for id, dev := range g.devices {
		out[id] = dev
	}
	return out
}
