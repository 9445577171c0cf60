package comm_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"taskgrid/internal/comm"
	"taskgrid/internal/future"
	"taskgrid/internal/geom"
	"taskgrid/internal/runtime"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRuntime(t *testing.T, cfg runtime.Config) *runtime.Runtime {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rt, err := runtime.New(cfg, nil, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return rt
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// stubBackend records Initialize and Finalize calls without launching
// anything.
type stubBackend struct {
	mu        sync.Mutex
	initCalls []int
	finCalls  []int
	failInit  map[int]error
	failFin   map[int]error
	handles   map[int]*future.Map
}

func newStubBackend() *stubBackend {
	return &stubBackend{
		failInit: make(map[int]error),
		failFin:  make(map[int]error),
		handles:  make(map[int]*future.Map),
	}
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Initialize(volume int) (*future.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initCalls = append(s.initCalls, volume)
	if err := s.failInit[volume]; err != nil {
		return nil, err
	}
	m := future.NewMap(geom.NewRect(volume))
	s.handles[volume] = m
	return m, nil
}

func (s *stubBackend) Finalize(volume int, handle *future.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finCalls = append(s.finCalls, volume)
	if err := s.failFin[volume]; err != nil {
		return err
	}
	if handle != s.handles[volume] {
		return fmt.Errorf("finalize got a different handle for volume %d", volume)
	}
	return nil
}

func newTestCommunicator(t *testing.T) (*comm.Communicator, *stubBackend) {
	t.Helper()
	rt := newTestRuntime(t, runtime.Config{CPUExecutors: 1})
	stub := newStubBackend()
	c, err := comm.New(rt, stub, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, stub
}

func TestNewValidation(t *testing.T) {
	rt := newTestRuntime(t, runtime.Config{CPUExecutors: 1})
	stub := newStubBackend()
	logger := discardLogger()

	if _, err := comm.New(nil, stub, logger); err == nil {
		t.Error("New with nil runtime returned nil error")
	}
	if _, err := comm.New(rt, nil, logger); err == nil {
		t.Error("New with nil backend returned nil error")
	}
	if _, err := comm.New(rt, stub, nil); err == nil {
		t.Error("New with nil logger returned nil error")
	}
}

func TestHandleInitializesOncePerVolume(t *testing.T) {
	c, stub := newTestCommunicator(t)

	first, err := c.Handle(geom.NewRect(4))
	if err != nil {
		t.Fatalf("Handle(4): %v", err)
	}
	second, err := c.Handle(geom.NewRect(4))
	if err != nil {
		t.Fatalf("Handle(4) again: %v", err)
	}
	if first != second {
		t.Error("repeated Handle for the same volume returned distinct maps")
	}

	if _, err := c.Handle(geom.NewRect(8)); err != nil {
		t.Fatalf("Handle(8): %v", err)
	}

	if diff := cmp.Diff([]int{4, 8}, stub.initCalls); diff != "" {
		t.Errorf("Initialize calls mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleReshapesMultiDimDomains(t *testing.T) {
	c, stub := newTestCommunicator(t)

	linear, err := c.Handle(geom.NewRect(4))
	if err != nil {
		t.Fatalf("Handle(4): %v", err)
	}
	grid, err := c.Handle(geom.NewRect(2, 2))
	if err != nil {
		t.Fatalf("Handle(2x2): %v", err)
	}

	if len(stub.initCalls) != 1 {
		t.Fatalf("Initialize called %d times, want 1", len(stub.initCalls))
	}
	if !grid.Domain().Equal(geom.NewRect(2, 2)) {
		t.Errorf("reshaped domain = %s, want [2x2]", grid.Domain())
	}
	for i := 0; i < 4; i++ {
		if grid.At(i) != linear.At(i) {
			t.Errorf("reshaped view point %d does not alias the linear handle", i)
		}
	}

	again, err := c.Handle(geom.NewRect(2, 2))
	if err != nil {
		t.Fatalf("Handle(2x2) again: %v", err)
	}
	if again != grid {
		t.Error("repeated Handle for the same shape returned distinct views")
	}

	// Same volume, different shape: a second view, still no new group.
	row, err := c.Handle(geom.NewRect(4, 1))
	if err != nil {
		t.Fatalf("Handle(4x1): %v", err)
	}
	if row == grid {
		t.Error("views for different shapes were conflated")
	}
	if len(stub.initCalls) != 1 {
		t.Errorf("Initialize called %d times after reshapes, want 1", len(stub.initCalls))
	}
}

func TestHandleEmptyDomain(t *testing.T) {
	c, _ := newTestCommunicator(t)

	if _, err := c.Handle(geom.NewRect(0)); !errors.Is(err, runtime.ErrEmptyDomain) {
		t.Errorf("Handle(0) error = %v, want ErrEmptyDomain", err)
	}
	if _, err := c.Handle(geom.NewRect(3, 0)); !errors.Is(err, runtime.ErrEmptyDomain) {
		t.Errorf("Handle(3x0) error = %v, want ErrEmptyDomain", err)
	}
}

func TestHandleFailedInitializeNotCached(t *testing.T) {
	c, stub := newTestCommunicator(t)
	boom := errors.New("boom")
	stub.failInit[4] = boom

	if _, err := c.Handle(geom.NewRect(4)); !errors.Is(err, boom) {
		t.Fatalf("Handle error = %v, want to wrap %v", err, boom)
	}

	delete(stub.failInit, 4)
	if _, err := c.Handle(geom.NewRect(4)); err != nil {
		t.Fatalf("Handle after cleared failure: %v", err)
	}
	if diff := cmp.Diff([]int{4, 4}, stub.initCalls); diff != "" {
		t.Errorf("Initialize calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDestroyFinalizesEachVolumeOnce(t *testing.T) {
	c, stub := newTestCommunicator(t)

	for _, d := range []geom.Rect{geom.NewRect(8), geom.NewRect(4), geom.NewRect(2, 2)} {
		if _, err := c.Handle(d); err != nil {
			t.Fatalf("Handle(%s): %v", d, err)
		}
	}

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	// One finalize per volume, none for the reshaped view.
	if diff := cmp.Diff([]int{4, 8}, stub.finCalls); diff != "" {
		t.Errorf("Finalize calls mismatch (-want +got):\n%s", diff)
	}

	if err := c.Destroy(); !errors.Is(err, comm.ErrDestroyed) {
		t.Errorf("second Destroy error = %v, want ErrDestroyed", err)
	}
	if _, err := c.Handle(geom.NewRect(4)); !errors.Is(err, comm.ErrDestroyed) {
		t.Errorf("Handle after Destroy error = %v, want ErrDestroyed", err)
	}
}

func TestDestroyAttemptsEveryGroupOnError(t *testing.T) {
	c, stub := newTestCommunicator(t)
	boom := errors.New("boom")
	stub.failFin[4] = boom

	for _, v := range []int{2, 4, 8} {
		if _, err := c.Handle(geom.NewRect(v)); err != nil {
			t.Fatalf("Handle(%d): %v", v, err)
		}
	}

	err := c.Destroy()
	if !errors.Is(err, boom) {
		t.Fatalf("Destroy error = %v, want to wrap %v", err, boom)
	}
	if diff := cmp.Diff([]int{2, 4, 8}, stub.finCalls); diff != "" {
		t.Errorf("Finalize calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDestroyWithoutHandles(t *testing.T) {
	c, stub := newTestCommunicator(t)

	if err := c.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if len(stub.finCalls) != 0 {
		t.Errorf("Finalize called %d times for an unused communicator, want 0", len(stub.finCalls))
	}
}
