package runtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotRegistered is returned when a launch names a task or variant the
// registry has never seen.
var ErrNotRegistered = errors.New("task not registered")

// ErrDuplicateTask is returned when a (task, variant) pair is registered
// twice.
var ErrDuplicateTask = errors.New("task already registered")

// TaskInfo pairs a task id with its registered variants.
type TaskInfo struct {
	ID       TaskID    `json:"id"`
	Variants []Variant `json:"variants"`
}

// registry holds task handlers keyed by id and variant. A task may carry
// one handler per variant.
type registry struct {
	mu    sync.RWMutex
	tasks map[TaskID]map[Variant]Handler
}

func newRegistry() *registry {
	return &registry{tasks: make(map[TaskID]map[Variant]Handler)}
}

func (r *registry) register(id TaskID, v Variant, h Handler) error {
	if h == nil {
		return fmt.Errorf("register task %q: nil handler", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	variants, ok := r.tasks[id]
	if !ok {
		variants = make(map[Variant]Handler)
		r.tasks[id] = variants
	}
	if _, dup := variants[v]; dup {
		return fmt.Errorf("task %q variant %q: %w", id, v, ErrDuplicateTask)
	}
	variants[v] = h
	return nil
}

// resolve returns the handler for the given task and variant.
func (r *registry) resolve(id TaskID, v Variant) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	variants, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrNotRegistered)
	}
	h, ok := variants[v]
	if !ok {
		return nil, fmt.Errorf("task %q variant %q: %w", id, v, ErrNotRegistered)
	}
	return h, nil
}

// list returns all registered tasks sorted by id, with variants sorted, for
// a stable API response.
func (r *registry) list() []TaskInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]TaskInfo, 0, len(r.tasks))
	for id, variants := range r.tasks {
		vs := make([]Variant, 0, len(variants))
		for v := range variants {
			vs = append(vs, v)
		}
		sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
		infos = append(infos, TaskInfo{ID: id, Variants: vs})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
