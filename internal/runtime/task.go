package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"taskgrid/internal/future"
	"taskgrid/internal/geom"
)

// TaskID names a registered task.
type TaskID string

// Variant selects which executor pool a launch runs on.
type Variant string

// Executor pool variants.
const (
	VariantCPU Variant = "cpu"
	VariantGPU Variant = "gpu"
)

// Handler is the body of a task. It runs once per point of the launch
// domain and its return value resolves that point's future.
type Handler func(ctx context.Context, inv *Invocation) (any, error)

// Invocation carries one point's launch state into a task handler.
type Invocation struct {
	Task     TaskID
	Variant  Variant
	Point    geom.Point
	Domain   geom.Rect
	Executor int

	args []any
}

// Rank returns the linear index of this invocation's point within the
// launch domain.
func (inv *Invocation) Rank() int { return inv.Domain.LinearIndex(inv.Point) }

// NumArgs returns the number of resolved arguments.
func (inv *Invocation) NumArgs() int { return len(inv.args) }

// Arg returns resolved argument i, in attachment order.
func (inv *Invocation) Arg(i int) any { return inv.args[i] }

// taskArg is one attached argument: either a scalar future broadcast to
// every point, or a future map supplying one value per point.
type taskArg struct {
	scalar   *future.Future
	perPoint *future.Map
}

// TaskLauncher accumulates arguments for one task launch.
type TaskLauncher struct {
	// SideEffect marks the launch as externally visible, exempting
	// single-point launches from memoization.
	SideEffect bool

	rt      *Runtime
	id      TaskID
	variant Variant
	args    []taskArg
}

// NewTask starts building a launch of the given task on the given variant.
func (rt *Runtime) NewTask(id TaskID, v Variant) *TaskLauncher {
	return &TaskLauncher{rt: rt, id: id, variant: v}
}

// AddFuture attaches a scalar argument broadcast to every point.
func (l *TaskLauncher) AddFuture(f *future.Future) {
	l.args = append(l.args, taskArg{scalar: f})
}

// AddFutureMap attaches a per-point argument. The map's volume must match
// the launch domain's volume at Execute time.
func (l *TaskLauncher) AddFutureMap(m *future.Map) {
	l.args = append(l.args, taskArg{perPoint: m})
}

// Execute launches the task across every point of domain and returns the
// map of per-point result futures. It never blocks on task completion.
func (l *TaskLauncher) Execute(domain geom.Rect) (*future.Map, error) {
	return l.rt.launch(l, domain)
}

// ExecuteSingle launches the task at a single point. Launches without side
// effects are memoized: re-executing the same task with the same arguments
// returns the previous result future without running the body again.
func (l *TaskLauncher) ExecuteSingle() (*future.Future, error) {
	rt := l.rt

	if !l.SideEffect {
		key := l.memoKey()
		rt.memoMu.Lock()
		if f, ok := rt.memo[key]; ok {
			rt.memoMu.Unlock()
			rt.nMemoHits.Add(1)
			memoHitsTotal.Inc()
			rt.logger.Debug("single launch memoized", "task", l.id, "variant", l.variant)
			return f, nil
		}
		rt.memoMu.Unlock()

		m, err := rt.launch(l, geom.NewRect(1))
		if err != nil {
			return nil, err
		}
		f := m.At(0)
		rt.memoMu.Lock()
		rt.memo[key] = f
		rt.memoMu.Unlock()
		return f, nil
	}

	m, err := rt.launch(l, geom.NewRect(1))
	if err != nil {
		return nil, err
	}
	return m.At(0), nil
}

// memoKey identifies a pure single launch by task, variant, and argument
// future identity.
func (l *TaskLauncher) memoKey() string {
	var b strings.Builder
	b.WriteString(string(l.id))
	b.WriteByte('|')
	b.WriteString(string(l.variant))
	for _, a := range l.args {
		b.WriteByte('|')
		switch {
		case a.scalar != nil:
			b.WriteString(strconv.FormatUint(a.scalar.ID(), 10))
		case a.perPoint != nil && a.perPoint.Volume() > 0:
			b.WriteString("m" + strconv.FormatUint(a.perPoint.At(0).ID(), 10))
		}
	}
	return b.String()
}

// validate checks the launch against the domain before any goroutine spawns.
func (l *TaskLauncher) validate(domain geom.Rect) error {
	if domain.IsEmpty() {
		return fmt.Errorf("launch %s: %w", l.id, ErrEmptyDomain)
	}
	for i, a := range l.args {
		if a.perPoint != nil && a.perPoint.Volume() != domain.Volume() {
			return fmt.Errorf("launch %s: argument %d has volume %d, launch domain %s has volume %d",
				l.id, i, a.perPoint.Volume(), domain, domain.Volume())
		}
	}
	return nil
}
