// Package runtime executes registered tasks across launch domains on
// bounded executor pools. Launch calls never block on task completion;
// results flow through futures, and ordering between launches is
// established only by future dependencies and execution fences.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"taskgrid/internal/future"
	"taskgrid/internal/geom"
	"taskgrid/internal/trace"
)

// ErrShutdown is returned for launches issued after Shutdown.
var ErrShutdown = errors.New("runtime is shut down")

// ErrEmptyDomain is returned for launches over a domain with no points.
var ErrEmptyDomain = errors.New("empty launch domain")

// Config sizes the executor pools.
type Config struct {
	CPUExecutors int
	GPUExecutors int // 0 disables the GPU variant
}

// Runtime owns the executor pools, the task registry, and the fence and
// memoization machinery.
type Runtime struct {
	reg    *registry
	rec    trace.Recorder
	logger *slog.Logger
	broker *Broker

	ctx    context.Context
	cancel context.CancelFunc

	pools map[Variant]chan int

	// Fence state. Launches capture the barrier and epoch wait group under
	// mu so every fence sees a consistent cut of prior launches.
	mu       sync.Mutex
	barrier  *future.Future
	epoch    *sync.WaitGroup
	fenceSeq int64

	memoMu sync.Mutex
	memo   map[string]*future.Future

	wg     sync.WaitGroup
	closed atomic.Bool

	nLaunches         atomic.Int64
	nPoints           atomic.Int64
	nFences           atomic.Int64
	nDelinearizations atomic.Int64
	nMemoHits         atomic.Int64
	nFailures         atomic.Int64
}

// New builds a runtime with one executor pool per enabled variant. A nil
// recorder disables tracing.
func New(cfg Config, rec trace.Recorder, logger *slog.Logger) (*Runtime, error) {
	if cfg.CPUExecutors < 1 {
		return nil, fmt.Errorf("runtime: need at least one CPU executor, got %d", cfg.CPUExecutors)
	}
	if cfg.GPUExecutors < 0 {
		return nil, fmt.Errorf("runtime: negative GPU executor count %d", cfg.GPUExecutors)
	}
	if rec == nil {
		rec = trace.Nop()
	}

	pools := map[Variant]chan int{VariantCPU: newPool(cfg.CPUExecutors)}
	if cfg.GPUExecutors > 0 {
		pools[VariantGPU] = newPool(cfg.GPUExecutors)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		reg:     newRegistry(),
		rec:     rec,
		logger:  logger,
		broker:  NewBroker(),
		ctx:     ctx,
		cancel:  cancel,
		pools:   pools,
		barrier: future.Completed(nil, nil),
		epoch:   new(sync.WaitGroup),
		memo:    make(map[string]*future.Future),
	}
	rt.logger.Info("runtime started",
		"cpu_executors", cfg.CPUExecutors, "gpu_executors", cfg.GPUExecutors)
	return rt, nil
}

// newPool returns a buffered channel preloaded with executor slot ids. Pool
// capacity bounds how many points of a variant run at once.
func newPool(n int) chan int {
	pool := make(chan int, n)
	for i := 0; i < n; i++ {
		pool <- i
	}
	return pool
}

// RegisterTask binds a handler to the (id, variant) pair. The variant must
// have an executor pool, and a pair may only be registered once.
func (rt *Runtime) RegisterTask(id TaskID, v Variant, h Handler) error {
	if _, ok := rt.pools[v]; !ok {
		return fmt.Errorf("register task %q: variant %q has no executors", id, v)
	}
	return rt.reg.register(id, v, h)
}

// HasVariant reports whether the runtime has executors for v.
func (rt *Runtime) HasVariant(v Variant) bool {
	_, ok := rt.pools[v]
	return ok
}

// Executors returns the pool size for v, or 0 when the variant is disabled.
func (rt *Runtime) Executors(v Variant) int {
	return cap(rt.pools[v])
}

// Tasks returns the registered tasks, sorted by id.
func (rt *Runtime) Tasks() []TaskInfo { return rt.reg.list() }

// Broker returns the runtime's event broker for SSE subscription.
func (rt *Runtime) Broker() *Broker { return rt.broker }

// Stats is a snapshot of runtime activity counters.
type Stats struct {
	Launches         int64 `json:"launches"`
	Points           int64 `json:"points"`
	Fences           int64 `json:"fences"`
	Delinearizations int64 `json:"delinearizations"`
	MemoHits         int64 `json:"memo_hits"`
	Failures         int64 `json:"failures"`
}

// Stats returns a snapshot of activity counters.
func (rt *Runtime) Stats() Stats {
	return Stats{
		Launches:         rt.nLaunches.Load(),
		Points:           rt.nPoints.Load(),
		Fences:           rt.nFences.Load(),
		Delinearizations: rt.nDelinearizations.Load(),
		MemoHits:         rt.nMemoHits.Load(),
		Failures:         rt.nFailures.Load(),
	}
}

// DelinearizeFutureMap reshapes m over domain without issuing any tasks.
// The returned map shares m's futures.
func (rt *Runtime) DelinearizeFutureMap(m *future.Map, domain geom.Rect) (*future.Map, error) {
	view, err := m.Reshape(domain)
	if err != nil {
		return nil, fmt.Errorf("delinearize future map: %w", err)
	}
	rt.nDelinearizations.Add(1)
	delinearizationsTotal.Inc()
	rt.logger.Debug("future map delinearized", "from", m.Domain().String(), "to", domain.String())
	return view, nil
}

// Wait issues an execution fence and blocks until every previously issued
// launch has completed, or ctx is done.
func (rt *Runtime) Wait(ctx context.Context) error {
	_, err := rt.IssueExecutionFence().Wait(ctx)
	return err
}

// Shutdown drains in-flight work, then stops the runtime. It is
// idempotent, and launches issued after Shutdown fail with ErrShutdown.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if rt.closed.Swap(true) {
		return nil
	}

	waitErr := rt.Wait(ctx)
	rt.cancel()
	rt.broker.Close()

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if waitErr == nil {
			waitErr = ctx.Err()
		}
	}

	rt.logger.Info("runtime stopped")
	return waitErr
}

// launchTracker follows one launch to completion so its trace record and
// completion event fire exactly once.
type launchTracker struct {
	id      string
	task    TaskID
	variant Variant
	domain  geom.Rect
	start   time.Time

	pending  atomic.Int64
	mu       sync.Mutex
	firstErr error
}

func (tr *launchTracker) done(rt *Runtime, err error) {
	if err != nil {
		tr.mu.Lock()
		if tr.firstErr == nil {
			tr.firstErr = err
		}
		tr.mu.Unlock()
	}
	if tr.pending.Add(-1) == 0 {
		rt.finishLaunch(tr)
	}
}

// launch fans a task out across domain, one goroutine per point. It returns
// as soon as the points are scheduled.
func (rt *Runtime) launch(l *TaskLauncher, domain geom.Rect) (*future.Map, error) {
	if rt.closed.Load() {
		return nil, fmt.Errorf("launch %s: %w", l.id, ErrShutdown)
	}
	if err := l.validate(domain); err != nil {
		return nil, err
	}
	h, err := rt.reg.resolve(l.id, l.variant)
	if err != nil {
		return nil, fmt.Errorf("launch: %w", err)
	}

	volume := domain.Volume()
	out := future.NewMap(domain)

	tr := &launchTracker{
		id:      trace.NewID(),
		task:    l.id,
		variant: l.variant,
		domain:  domain,
		start:   time.Now(),
	}
	tr.pending.Store(int64(volume))

	rt.mu.Lock()
	barrier := rt.barrier
	epoch := rt.epoch
	epoch.Add(volume)
	rt.mu.Unlock()

	now := time.Now().UTC()
	if err := rt.rec.RecordLaunch(rt.ctx, &trace.Launch{
		ID:         tr.id,
		Task:       string(l.id),
		Variant:    string(l.variant),
		Domain:     domain.String(),
		Points:     volume,
		Args:       len(l.args),
		SideEffect: l.SideEffect,
		Status:     trace.StatusIssued,
		IssuedAt:   now,
	}); err != nil {
		rt.logger.Error("failed to record launch", "launch_id", tr.id, "error", err)
	}
	rt.broker.Publish(Event{
		Kind: EventLaunch, LaunchID: tr.id, Task: string(l.id),
		Variant: string(l.variant), Domain: domain.String(), Points: volume, At: now,
	})
	rt.logger.Debug("launch issued",
		"launch_id", tr.id, "task", l.id, "variant", l.variant,
		"domain", domain.String(), "points", volume)

	rt.nLaunches.Add(1)
	rt.nPoints.Add(int64(volume))
	launchesTotal.WithLabelValues(string(l.id), string(l.variant)).Inc()
	pointsTotal.WithLabelValues(string(l.variant)).Add(float64(volume))

	// Points run against a copy of the argument list to avoid data races
	// with the caller reusing the launcher.
	args := append([]taskArg(nil), l.args...)
	for i := 0; i < volume; i++ {
		idx := i
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			inflightPoints.Inc()
			defer inflightPoints.Dec()
			defer epoch.Done()
			rt.runPoint(h, tr, args, idx, barrier, out.At(idx))
		}()
	}

	return out, nil
}

// runPoint executes one point of a launch: wait for the fence barrier,
// resolve arguments, acquire an executor slot, run the handler.
func (rt *Runtime) runPoint(h Handler, tr *launchTracker, args []taskArg, idx int, barrier *future.Future, out *future.Future) {
	select {
	case <-barrier.Done():
	case <-rt.ctx.Done():
		rt.failPoint(tr, out, fmt.Errorf("task %s point %d: %w", tr.task, idx, rt.ctx.Err()))
		return
	}

	point := tr.domain.PointAt(idx)
	inv := &Invocation{Task: tr.task, Variant: tr.variant, Point: point, Domain: tr.domain}

	resolved := make([]any, len(args))
	for ai, a := range args {
		f := a.scalar
		if a.perPoint != nil {
			f = a.perPoint.At(idx)
		}
		v, err := f.Wait(rt.ctx)
		if err != nil {
			rt.failPoint(tr, out, fmt.Errorf("task %s at %s: argument %d: %w", tr.task, point, ai, err))
			return
		}
		resolved[ai] = v
	}
	inv.args = resolved

	pool := rt.pools[tr.variant]
	var slot int
	select {
	case slot = <-pool:
	case <-rt.ctx.Done():
		rt.failPoint(tr, out, fmt.Errorf("task %s at %s: %w", tr.task, point, rt.ctx.Err()))
		return
	}
	inv.Executor = slot

	start := time.Now()
	v, err := h(rt.ctx, inv)
	pool <- slot
	taskDuration.WithLabelValues(string(tr.task)).Observe(time.Since(start).Seconds())

	if err != nil {
		err = fmt.Errorf("task %s at %s: %w", tr.task, point, err)
	}
	out.Complete(v, err)
	tr.done(rt, err)
}

func (rt *Runtime) failPoint(tr *launchTracker, out *future.Future, err error) {
	out.Complete(nil, err)
	tr.done(rt, err)
}

// finishLaunch records the terminal status once the last point completes.
// Completion records use a background context so late finishes still land
// in the trace during shutdown.
func (rt *Runtime) finishLaunch(tr *launchTracker) {
	tr.mu.Lock()
	err := tr.firstErr
	tr.mu.Unlock()

	status := trace.StatusCompleted
	errMsg := ""
	if err != nil {
		status = trace.StatusFailed
		errMsg = err.Error()
		rt.nFailures.Add(1)
		rt.logger.Error("launch failed", "launch_id", tr.id, "task", tr.task, "error", err)
	}
	durationMS := time.Since(tr.start).Milliseconds()

	if err := rt.rec.CompleteLaunch(context.Background(), tr.id, status, errMsg, durationMS); err != nil {
		rt.logger.Error("failed to record launch completion", "launch_id", tr.id, "error", err)
	}
	rt.broker.Publish(Event{
		Kind: EventComplete, LaunchID: tr.id, Task: string(tr.task),
		Variant: string(tr.variant), Domain: tr.domain.String(),
		Status: status, Error: errMsg, At: time.Now().UTC(),
	})
	rt.logger.Debug("launch finished",
		"launch_id", tr.id, "task", tr.task, "status", status, "duration_ms", durationMS)
}
