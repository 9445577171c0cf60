package comm

import (
	"context"
	"fmt"
	"log/slog"

	"taskgrid/internal/coll"
	"taskgrid/internal/future"
	"taskgrid/internal/runtime"
)

// Backend is the interface communicator group implementations provide.
// Each backend (device groups on the GPU variant, host groups on the CPU
// variant) creates and tears down groups by issuing runtime launches; the
// methods return as soon as the work is issued.
type Backend interface {
	// Name identifies the backend in logs, metrics, and inspection output.
	Name() string

	// Initialize creates a group with the given participant volume and
	// returns its handle over the one-dimensional domain [volume]. Point i
	// of the handle resolves to rank i's membership.
	Initialize(volume int) (*future.Map, error)

	// Finalize closes every rank of a handle previously returned by
	// Initialize with the same volume.
	Finalize(volume int, handle *future.Map) error
}

// DefaultBackend selects the backend for a runtime: device groups when GPU
// executors are configured, host groups otherwise.
func DefaultBackend(rt *runtime.Runtime, logger *slog.Logger) (Backend, error) {
	if rt.HasVariant(runtime.VariantGPU) {
		return NewGPUBackend(rt, logger)
	}
	return NewCPUBackend(rt, logger)
}

// finalizeHandle closes the membership delivered to the point. Both
// backends register it as their finalize task handler.
func finalizeHandle(_ context.Context, inv *runtime.Invocation) (any, error) {
	c, ok := inv.Arg(0).(*coll.Comm)
	if !ok {
		return nil, fmt.Errorf("handle argument has type %T", inv.Arg(0))
	}
	if c.Rank() != inv.Rank() {
		return nil, fmt.Errorf("handle for rank %d delivered to rank %d", c.Rank(), inv.Rank())
	}
	if err := c.Close(); err != nil {
		return nil, err
	}
	return nil, nil
}
