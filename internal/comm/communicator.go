package comm

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"taskgrid/internal/future"
	"taskgrid/internal/geom"
	"taskgrid/internal/runtime"
)

// ErrDestroyed is returned when a communicator is used after Destroy, or
// destroyed twice.
var ErrDestroyed = errors.New("communicator destroyed")

// Communicator hands out group handles for launch domains and tears the
// groups down at shutdown. Groups are created lazily, at most once per
// participant volume; multi-dimensional domains get a reshaped view of the
// volume's handle, cached per domain shape.
//
// The orchestration layer drives a Communicator from a single goroutine.
// The mutex hardens concurrent inspection, it does not make concurrent
// Handle calls part of the contract.
type Communicator struct {
	rt      *runtime.Runtime
	backend Backend
	logger  *slog.Logger

	mu        sync.Mutex
	linear    map[int]*future.Map    // participant volume → handle over [volume]
	reshaped  map[string]*future.Map // domain shape key → delinearized view
	destroyed bool
}

// New creates a communicator that builds groups on the given backend.
func New(rt *runtime.Runtime, b Backend, logger *slog.Logger) (*Communicator, error) {
	if rt == nil {
		return nil, errors.New("comm: nil runtime")
	}
	if b == nil {
		return nil, errors.New("comm: nil backend")
	}
	if logger == nil {
		return nil, errors.New("comm: nil logger")
	}
	return &Communicator{
		rt:       rt,
		backend:  b,
		logger:   logger,
		linear:   make(map[int]*future.Map),
		reshaped: make(map[string]*future.Map),
	}, nil
}

// Backend returns the backend this communicator creates groups on.
func (c *Communicator) Backend() Backend { return c.backend }

// Handle returns the communicator handle shaped like the launch domain.
// The first request for a given volume initializes the group; later
// requests reuse it regardless of domain shape. Point p of the returned
// map resolves to the membership of rank domain.LinearIndex(p).
func (c *Communicator) Handle(domain geom.Rect) (*future.Map, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, ErrDestroyed
	}
	if domain.IsEmpty() {
		return nil, runtime.ErrEmptyDomain
	}

	volume := domain.Volume()
	linear, ok := c.linear[volume]
	if !ok {
		var err error
		linear, err = c.backend.Initialize(volume)
		if err != nil {
			// Nothing is cached for a failed initialization; the next
			// request for this volume starts over.
			return nil, fmt.Errorf("initialize %s group of %d: %w", c.backend.Name(), volume, err)
		}
		c.linear[volume] = linear
		initializedTotal.WithLabelValues(c.backend.Name()).Inc()
		c.logger.Debug("communicator group initialized",
			"backend", c.backend.Name(), "volume", volume)
	}

	if domain.Dim() == 1 {
		return linear, nil
	}

	key := domain.Key()
	if view, ok := c.reshaped[key]; ok {
		return view, nil
	}
	view, err := c.rt.DelinearizeFutureMap(linear, domain)
	if err != nil {
		return nil, fmt.Errorf("reshape %s handle to %s: %w", c.backend.Name(), domain, err)
	}
	c.reshaped[key] = view
	reshapesTotal.WithLabelValues(c.backend.Name()).Inc()
	c.logger.Debug("communicator handle reshaped",
		"backend", c.backend.Name(), "domain", domain.String())
	return view, nil
}

// Destroy finalizes every group this communicator created, each exactly
// once. Reshaped views alias the per-volume handles and are dropped
// without their own finalize. Finalization is attempted for every group
// even when some fail; the errors are joined. A second Destroy returns
// ErrDestroyed.
func (c *Communicator) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return ErrDestroyed
	}
	c.destroyed = true

	volumes := make([]int, 0, len(c.linear))
	for v := range c.linear {
		volumes = append(volumes, v)
	}
	sort.Ints(volumes)

	var errs []error
	for _, volume := range volumes {
		if err := c.backend.Finalize(volume, c.linear[volume]); err != nil {
			errs = append(errs, fmt.Errorf("finalize %s group of %d: %w", c.backend.Name(), volume, err))
			continue
		}
		finalizedTotal.WithLabelValues(c.backend.Name()).Inc()
	}

	c.logger.Debug("communicator destroyed",
		"backend", c.backend.Name(), "groups", len(volumes))
	c.linear = nil
	c.reshaped = nil
	return errors.Join(errs...)
}
