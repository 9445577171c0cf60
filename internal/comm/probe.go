package comm

import (
	"context"
	"fmt"

	"taskgrid/internal/coll"
	"taskgrid/internal/runtime"
)

// TaskProbe reports a point's view of its group membership. It is used by
// the demo workload and by integration tests to observe a handle from
// inside a launch.
const TaskProbe runtime.TaskID = "comm.probe"

// ProbeReport is the per-rank result of the probe task.
type ProbeReport struct {
	Group  int  `json:"group"`
	Rank   int  `json:"rank"`
	Size   int  `json:"size"`
	Ready  bool `json:"ready"`
	Mapped bool `json:"mapped"`
}

// RegisterProbe registers the probe task on every variant the runtime has
// executors for. The handler body is shared between variants.
func RegisterProbe(rt *runtime.Runtime) error {
	for _, v := range []runtime.Variant{runtime.VariantCPU, runtime.VariantGPU} {
		if !rt.HasVariant(v) {
			continue
		}
		if err := rt.RegisterTask(TaskProbe, v, probe); err != nil {
			return fmt.Errorf("register %s on %s: %w", TaskProbe, v, err)
		}
	}
	return nil
}

// probe validates the handle delivered to the point against the
// invocation and reports the membership.
func probe(_ context.Context, inv *runtime.Invocation) (any, error) {
	c, ok := inv.Arg(0).(*coll.Comm)
	if !ok {
		return nil, fmt.Errorf("handle argument has type %T", inv.Arg(0))
	}
	if c.Rank() != inv.Rank() {
		return nil, fmt.Errorf("handle for rank %d delivered to rank %d", c.Rank(), inv.Rank())
	}
	if c.Size() != inv.Domain.Volume() {
		return nil, fmt.Errorf("group size %d does not match launch volume %d", c.Size(), inv.Domain.Volume())
	}
	return ProbeReport{
		Group:  int(c.GroupID()),
		Rank:   c.Rank(),
		Size:   c.Size(),
		Ready:  c.Ready(),
		Mapped: c.Mapping() != nil,
	}, nil
}
