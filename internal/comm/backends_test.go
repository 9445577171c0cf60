package comm_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"taskgrid/internal/coll"
	"taskgrid/internal/comm"
	"taskgrid/internal/future"
	"taskgrid/internal/geom"
	"taskgrid/internal/runtime"
)

// resolveHandle waits for every point of a handle and returns the
// memberships in linear order.
func resolveHandle(t *testing.T, m *future.Map) []*coll.Comm {
	t.Helper()
	comms := make([]*coll.Comm, m.Volume())
	for i := range comms {
		v, err := m.At(i).Wait(context.Background())
		if err != nil {
			t.Fatalf("handle point %d: %v", i, err)
		}
		c, ok := v.(*coll.Comm)
		if !ok {
			t.Fatalf("handle point %d resolved to %T", i, v)
		}
		comms[i] = c
	}
	return comms
}

func TestGPUBackendLifecycle(t *testing.T) {
	rt := newTestRuntime(t, runtime.Config{CPUExecutors: 1, GPUExecutors: 2})
	b, err := comm.NewGPUBackend(rt, discardLogger())
	if err != nil {
		t.Fatalf("NewGPUBackend: %v", err)
	}
	c, err := comm.New(rt, b, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	handle, err := c.Handle(geom.NewRect(4))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := rt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	comms := resolveHandle(t, handle)
	group := comms[0].GroupID()
	for i, cc := range comms {
		if cc.Rank() != i {
			t.Errorf("point %d has rank %d", i, cc.Rank())
		}
		if cc.Size() != 4 {
			t.Errorf("point %d has size %d, want 4", i, cc.Size())
		}
		if cc.GroupID() != group {
			t.Errorf("point %d joined group %d, want %d", i, cc.GroupID(), group)
		}
		if !cc.Ready() {
			t.Errorf("point %d not ready after initialization fence", i)
		}
		if cc.Mapping() != nil {
			t.Errorf("device group point %d has a mapping table", i)
		}
	}

	if got := b.Registry().Allocated(); got != 1 {
		t.Errorf("Allocated() = %d, want 1", got)
	}
	live := b.Registry().Live()
	if len(live) != 1 || live[0].Joined != 4 || !live[0].Ready {
		t.Errorf("Live() = %+v, want one fully joined ready group", live)
	}

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := rt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after Destroy: %v", err)
	}
	if live := b.Registry().Live(); len(live) != 0 {
		t.Errorf("Live() after Destroy = %+v, want none", live)
	}
}

func TestGPUBackendRequiresGPUExecutors(t *testing.T) {
	rt := newTestRuntime(t, runtime.Config{CPUExecutors: 2})
	if _, err := comm.NewGPUBackend(rt, discardLogger()); err == nil {
		t.Error("NewGPUBackend on a CPU-only runtime returned nil error")
	}
}

func TestGPUBackendDistinctGroupsPerVolume(t *testing.T) {
	rt := newTestRuntime(t, runtime.Config{CPUExecutors: 1, GPUExecutors: 2})
	b, err := comm.NewGPUBackend(rt, discardLogger())
	if err != nil {
		t.Fatalf("NewGPUBackend: %v", err)
	}
	c, err := comm.New(rt, b, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	small, err := c.Handle(geom.NewRect(2))
	if err != nil {
		t.Fatalf("Handle(2): %v", err)
	}
	large, err := c.Handle(geom.NewRect(3))
	if err != nil {
		t.Fatalf("Handle(3): %v", err)
	}
	if err := rt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Each initialization reserves its own id; a memoized id task would
	// hand both groups the same one and the second join would fail.
	smallID := resolveHandle(t, small)[0].GroupID()
	largeID := resolveHandle(t, large)[0].GroupID()
	if smallID == largeID {
		t.Errorf("volumes 2 and 3 share group id %d", smallID)
	}
	if got := b.Registry().Allocated(); got != 2 {
		t.Errorf("Allocated() = %d, want 2", got)
	}
}

func TestCPUBackendLifecycle(t *testing.T) {
	const volume = 3
	const executors = 2

	rt := newTestRuntime(t, runtime.Config{CPUExecutors: executors})
	b, err := comm.NewCPUBackend(rt, discardLogger())
	if err != nil {
		t.Fatalf("NewCPUBackend: %v", err)
	}
	c, err := comm.New(rt, b, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	handle, err := c.Handle(geom.NewRect(volume))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if err := rt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	comms := resolveHandle(t, handle)
	table := comms[0].Mapping()
	if len(table) != volume {
		t.Fatalf("mapping table has %d entries, want %d", len(table), volume)
	}
	for r, slot := range table {
		if slot < 0 || slot >= executors {
			t.Errorf("rank %d mapped to slot %d, outside [0,%d)", r, slot, executors)
		}
	}
	for i, cc := range comms {
		if cc.Rank() != i {
			t.Errorf("point %d has rank %d", i, cc.Rank())
		}
		if !cc.Ready() {
			t.Errorf("point %d not ready after initialization fence", i)
		}
		if diff := cmp.Diff(table, cc.Mapping()); diff != "" {
			t.Errorf("rank %d mapping table mismatch (-rank0 +got):\n%s", i, diff)
		}
	}

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := rt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after Destroy: %v", err)
	}
	if live := b.Registry().Live(); len(live) != 0 {
		t.Errorf("Live() after Destroy = %+v, want none", live)
	}
}

func TestProbeReportsMembership(t *testing.T) {
	rt := newTestRuntime(t, runtime.Config{CPUExecutors: 2})
	b, err := comm.NewCPUBackend(rt, discardLogger())
	if err != nil {
		t.Fatalf("NewCPUBackend: %v", err)
	}
	if err := comm.RegisterProbe(rt); err != nil {
		t.Fatalf("RegisterProbe: %v", err)
	}
	c, err := comm.New(rt, b, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	domain := geom.NewRect(2, 2)
	handle, err := c.Handle(domain)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	l := rt.NewTask(comm.TaskProbe, runtime.VariantCPU)
	l.AddFutureMap(handle)
	reports, err := l.Execute(domain)
	if err != nil {
		t.Fatalf("Execute probe: %v", err)
	}
	if err := rt.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	for i := 0; i < domain.Volume(); i++ {
		v, err := reports.At(i).Wait(context.Background())
		if err != nil {
			t.Fatalf("probe point %d: %v", i, err)
		}
		want := comm.ProbeReport{Group: 0, Rank: i, Size: 4, Ready: true, Mapped: true}
		if diff := cmp.Diff(want, v.(comm.ProbeReport)); diff != "" {
			t.Errorf("probe point %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestDefaultBackendSelection(t *testing.T) {
	gpuRT := newTestRuntime(t, runtime.Config{CPUExecutors: 1, GPUExecutors: 1})
	b, err := comm.DefaultBackend(gpuRT, discardLogger())
	if err != nil {
		t.Fatalf("DefaultBackend: %v", err)
	}
	if b.Name() != "gpu" {
		t.Errorf("backend with GPU executors = %q, want gpu", b.Name())
	}

	cpuRT := newTestRuntime(t, runtime.Config{CPUExecutors: 1})
	b, err = comm.DefaultBackend(cpuRT, discardLogger())
	if err != nil {
		t.Fatalf("DefaultBackend: %v", err)
	}
	if b.Name() != "cpu" {
		t.Errorf("backend without GPU executors = %q, want cpu", b.Name())
	}
}
