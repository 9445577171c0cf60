package comm

import (
	"context"
	"fmt"
	"log/slog"

	"taskgrid/internal/coll"
	"taskgrid/internal/future"
	"taskgrid/internal/geom"
	"taskgrid/internal/runtime"
)

// Task ids registered by the GPU backend.
const (
	TaskGPUGroupID  runtime.TaskID = "comm.gpu.group_id"
	TaskGPUInit     runtime.TaskID = "comm.gpu.init"
	TaskGPUFinalize runtime.TaskID = "comm.gpu.finalize"
)

// GPUBackend builds device groups. A side-effecting single task reserves
// the group id, then every point of the init launch joins the group under
// that shared id.
type GPUBackend struct {
	rt     *runtime.Runtime
	reg    *coll.Registry
	logger *slog.Logger
}

var _ Backend = (*GPUBackend)(nil)

// NewGPUBackend registers the device group tasks and returns the backend.
// It fails when the runtime has no GPU executors.
func NewGPUBackend(rt *runtime.Runtime, logger *slog.Logger) (*GPUBackend, error) {
	if !rt.HasVariant(runtime.VariantGPU) {
		return nil, fmt.Errorf("gpu backend: runtime has no %s executors", runtime.VariantGPU)
	}

	b := &GPUBackend{
		rt:     rt,
		reg:    coll.NewRegistry("gpu", 0),
		logger: logger,
	}
	if err := rt.RegisterTask(TaskGPUGroupID, runtime.VariantGPU, b.groupID); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskGPUGroupID, err)
	}
	if err := rt.RegisterTask(TaskGPUInit, runtime.VariantGPU, b.init); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskGPUInit, err)
	}
	if err := rt.RegisterTask(TaskGPUFinalize, runtime.VariantGPU, finalizeHandle); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskGPUFinalize, err)
	}
	return b, nil
}

// Name implements Backend.
func (b *GPUBackend) Name() string { return "gpu" }

// Registry exposes the device group registry for inspection.
func (b *GPUBackend) Registry() *coll.Registry { return b.reg }

// Initialize creates a device group of the given volume. The id task is
// marked side-effecting so consecutive initializations reserve distinct
// ids instead of sharing a memoized one. The trailing execution fence
// orders the joins before anything issued after this call.
func (b *GPUBackend) Initialize(volume int) (*future.Map, error) {
	idLaunch := b.rt.NewTask(TaskGPUGroupID, runtime.VariantGPU)
	idLaunch.SideEffect = true
	idFuture, err := idLaunch.ExecuteSingle()
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", TaskGPUGroupID, err)
	}

	init := b.rt.NewTask(TaskGPUInit, runtime.VariantGPU)
	init.AddFuture(idFuture)
	handle, err := init.Execute(geom.NewRect(volume))
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", TaskGPUInit, err)
	}

	b.rt.IssueExecutionFence()
	return handle, nil
}

// Finalize closes every rank of the handle.
func (b *GPUBackend) Finalize(volume int, handle *future.Map) error {
	fin := b.rt.NewTask(TaskGPUFinalize, runtime.VariantGPU)
	fin.AddFutureMap(handle)
	if _, err := fin.Execute(geom.NewRect(volume)); err != nil {
		return fmt.Errorf("launch %s: %w", TaskGPUFinalize, err)
	}
	return nil
}

// groupID reserves the next device group id.
func (b *GPUBackend) groupID(_ context.Context, _ *runtime.Invocation) (any, error) {
	id, err := b.reg.NextUniqueID()
	if err != nil {
		return nil, err
	}
	b.logger.Debug("device group id reserved", "group", int(id))
	return id, nil
}

// init joins the point's rank into the group named by argument 0.
func (b *GPUBackend) init(_ context.Context, inv *runtime.Invocation) (any, error) {
	id, ok := inv.Arg(0).(coll.GroupID)
	if !ok {
		return nil, fmt.Errorf("group id argument has type %T", inv.Arg(0))
	}
	c, err := b.reg.Join(id, inv.Rank(), inv.Domain.Volume())
	if err != nil {
		return nil, err
	}
	return c, nil
}
