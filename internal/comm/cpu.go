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

// Task ids registered by the CPU backend.
const (
	TaskCPUGroupID  runtime.TaskID = "comm.cpu.group_id"
	TaskCPUMapping  runtime.TaskID = "comm.cpu.mapping"
	TaskCPUInit     runtime.TaskID = "comm.cpu.init"
	TaskCPUFinalize runtime.TaskID = "comm.cpu.finalize"
)

// CPUBackend builds host groups. Unlike device groups, joining one takes a
// mapping table naming the executor slot of every rank, so initialization
// runs an extra mapping launch before the init launch.
type CPUBackend struct {
	rt     *runtime.Runtime
	reg    *coll.Registry
	logger *slog.Logger
}

var _ Backend = (*CPUBackend)(nil)

// NewCPUBackend registers the host group tasks and returns the backend.
func NewCPUBackend(rt *runtime.Runtime, logger *slog.Logger) (*CPUBackend, error) {
	b := &CPUBackend{
		rt:     rt,
		reg:    coll.NewRegistry("cpu", 0),
		logger: logger,
	}
	if err := rt.RegisterTask(TaskCPUGroupID, runtime.VariantCPU, b.groupID); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskCPUGroupID, err)
	}
	if err := rt.RegisterTask(TaskCPUMapping, runtime.VariantCPU, b.mapping); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskCPUMapping, err)
	}
	if err := rt.RegisterTask(TaskCPUInit, runtime.VariantCPU, b.init); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskCPUInit, err)
	}
	if err := rt.RegisterTask(TaskCPUFinalize, runtime.VariantCPU, finalizeHandle); err != nil {
		return nil, fmt.Errorf("register %s: %w", TaskCPUFinalize, err)
	}
	return b, nil
}

// Name implements Backend.
func (b *CPUBackend) Name() string { return "cpu" }

// Registry exposes the host group registry for inspection.
func (b *CPUBackend) Registry() *coll.Registry { return b.reg }

// Initialize creates a host group of the given volume. The mapping launch
// has each rank report its executor slot; the init launch then gets the
// group id plus every mapping entry attached individually in rank order,
// volume+1 arguments per point, so each point assembles the identical
// table before joining.
func (b *CPUBackend) Initialize(volume int) (*future.Map, error) {
	idLaunch := b.rt.NewTask(TaskCPUGroupID, runtime.VariantCPU)
	idLaunch.SideEffect = true
	idFuture, err := idLaunch.ExecuteSingle()
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", TaskCPUGroupID, err)
	}

	domain := geom.NewRect(volume)
	mapping, err := b.rt.NewTask(TaskCPUMapping, runtime.VariantCPU).Execute(domain)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", TaskCPUMapping, err)
	}

	init := b.rt.NewTask(TaskCPUInit, runtime.VariantCPU)
	init.AddFuture(idFuture)
	for r := 0; r < volume; r++ {
		init.AddFuture(mapping.At(r))
	}
	handle, err := init.Execute(domain)
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", TaskCPUInit, err)
	}

	b.rt.IssueExecutionFence()
	return handle, nil
}

// Finalize closes every rank of the handle.
func (b *CPUBackend) Finalize(volume int, handle *future.Map) error {
	fin := b.rt.NewTask(TaskCPUFinalize, runtime.VariantCPU)
	fin.AddFutureMap(handle)
	if _, err := fin.Execute(geom.NewRect(volume)); err != nil {
		return fmt.Errorf("launch %s: %w", TaskCPUFinalize, err)
	}
	return nil
}

// groupID reserves the next host group id.
func (b *CPUBackend) groupID(_ context.Context, _ *runtime.Invocation) (any, error) {
	id, err := b.reg.NextUniqueID()
	if err != nil {
		return nil, err
	}
	b.logger.Debug("host group id reserved", "group", int(id))
	return id, nil
}

// mapping reports the executor slot the point landed on.
func (b *CPUBackend) mapping(_ context.Context, inv *runtime.Invocation) (any, error) {
	return inv.Executor, nil
}

// init assembles the mapping table from its trailing arguments and joins
// the group named by argument 0. Argument 1+r is rank r's entry.
func (b *CPUBackend) init(_ context.Context, inv *runtime.Invocation) (any, error) {
	id, ok := inv.Arg(0).(coll.GroupID)
	if !ok {
		return nil, fmt.Errorf("group id argument has type %T", inv.Arg(0))
	}
	size := inv.Domain.Volume()
	if got := inv.NumArgs(); got != size+1 {
		return nil, fmt.Errorf("init point got %d arguments, want %d", got, size+1)
	}
	table := make([]int, size)
	for r := 0; r < size; r++ {
		entry, ok := inv.Arg(1 + r).(int)
		if !ok {
			return nil, fmt.Errorf("mapping entry %d has type %T", r, inv.Arg(1+r))
		}
		table[r] = entry
	}
	c, err := b.reg.JoinWithMapping(id, inv.Rank(), size, table)
	if err != nil {
		return nil, err
	}
	return c, nil
}
