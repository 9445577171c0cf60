// Package coll tracks collective groups for the communicator backends. A
// registry hands out unique group ids, records which ranks have joined and
// closed each group, and exposes a snapshot for inspection. It deliberately
// implements no collective algorithms; it is bookkeeping only.
package coll

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DefaultCapacity bounds how many group ids a registry hands out over its
// lifetime. Ids are never reused.
const DefaultCapacity = 100

var (
	ErrCapacity        = errors.New("group id capacity exhausted")
	ErrUnknownGroup    = errors.New("unknown group id")
	ErrRankRange       = errors.New("rank out of range")
	ErrDuplicateRank   = errors.New("rank already joined")
	ErrSizeMismatch    = errors.New("group size mismatch")
	ErrMappingSize     = errors.New("mapping table has wrong size")
	ErrMappingMismatch = errors.New("mapping table mismatch")
	ErrClosed          = errors.New("already closed")
)

// GroupID identifies one collective group within a registry.
type GroupID int

// Registry allocates group ids and tracks group membership. Safe for
// concurrent use by task bodies running on different executors.
type Registry struct {
	name     string
	capacity int

	mu     sync.RWMutex
	nextID GroupID
	groups map[GroupID]*group
}

// group is the shared state behind every rank's Comm handle. The id, size
// and mapping fields are immutable after creation; membership counters are
// guarded by mu.
type group struct {
	id      GroupID
	size    int
	mapping []int

	mu      sync.Mutex
	joined  []bool
	nJoined int
	closed  []bool
	nClosed int
	ready   chan struct{}
}

// NewRegistry returns a registry named for its backend. A capacity of zero
// or less selects DefaultCapacity.
func NewRegistry(name string, capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		name:     name,
		capacity: capacity,
		groups:   make(map[GroupID]*group),
	}
}

// Name returns the registry's name.
func (r *Registry) Name() string { return r.name }

// NextUniqueID allocates the next group id. It fails with ErrCapacity once
// the registry's id space is exhausted.
func (r *Registry) NextUniqueID() (GroupID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(r.nextID) >= r.capacity {
		return 0, fmt.Errorf("%s registry: %w (capacity %d)", r.name, ErrCapacity, r.capacity)
	}
	id := r.nextID
	r.nextID++
	return id, nil
}

// Allocated returns how many group ids have been handed out so far.
func (r *Registry) Allocated() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.nextID)
}

// Join registers rank as a member of group id, creating the group record on
// first join. The group becomes ready once all size ranks have joined; Join
// itself never blocks.
func (r *Registry) Join(id GroupID, rank, size int) (*Comm, error) {
	return r.join(id, rank, size, nil)
}

// JoinWithMapping is Join for host groups carrying a contact-mapping table.
// Every rank must present an identical table of exactly size entries.
func (r *Registry) JoinWithMapping(id GroupID, rank, size int, mapping []int) (*Comm, error) {
	if len(mapping) != size {
		return nil, fmt.Errorf("%s registry: %d mapping entries for group of size %d: %w",
			r.name, len(mapping), size, ErrMappingSize)
	}
	return r.join(id, rank, size, mapping)
}

func (r *Registry) join(id GroupID, rank, size int, mapping []int) (*Comm, error) {
	if size < 1 {
		return nil, fmt.Errorf("%s registry: group size %d: %w", r.name, size, ErrSizeMismatch)
	}
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%s registry: rank %d outside group of size %d: %w",
			r.name, rank, size, ErrRankRange)
	}

	r.mu.Lock()
	if id < 0 || id >= r.nextID {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s registry: group %d: %w", r.name, id, ErrUnknownGroup)
	}
	g, ok := r.groups[id]
	if !ok {
		g = &group{
			id:     id,
			size:   size,
			joined: make([]bool, size),
			closed: make([]bool, size),
			ready:  make(chan struct{}),
		}
		if mapping != nil {
			g.mapping = append([]int(nil), mapping...)
		}
		r.groups[id] = g
	}
	r.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.nClosed == g.size {
		return nil, fmt.Errorf("%s registry: group %d: %w", r.name, id, ErrClosed)
	}
	if g.size != size {
		return nil, fmt.Errorf("%s registry: group %d has size %d, rank %d claims %d: %w",
			r.name, id, g.size, rank, size, ErrSizeMismatch)
	}
	if (g.mapping == nil) != (mapping == nil) {
		return nil, fmt.Errorf("%s registry: group %d: %w", r.name, id, ErrMappingMismatch)
	}
	for i := range mapping {
		if g.mapping[i] != mapping[i] {
			return nil, fmt.Errorf("%s registry: group %d rank %d entry %d: %w",
				r.name, id, rank, i, ErrMappingMismatch)
		}
	}
	if g.joined[rank] {
		return nil, fmt.Errorf("%s registry: group %d rank %d: %w", r.name, id, rank, ErrDuplicateRank)
	}

	g.joined[rank] = true
	g.nJoined++
	if g.nJoined == g.size {
		close(g.ready)
	}
	return &Comm{g: g, rank: rank}, nil
}

// GroupInfo is a point-in-time view of one group for inspection.
type GroupInfo struct {
	ID     GroupID `json:"id"`
	Size   int     `json:"size"`
	Joined int     `json:"joined"`
	Closed int     `json:"closed"`
	Ready  bool    `json:"ready"`
	Mapped bool    `json:"mapped"`
}

// Live returns the groups that still have open ranks, sorted by id.
func (r *Registry) Live() []GroupInfo {
	r.mu.RLock()
	groups := make([]*group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	infos := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		g.mu.Lock()
		if g.nClosed < g.size {
			infos = append(infos, GroupInfo{
				ID:     g.id,
				Size:   g.size,
				Joined: g.nJoined,
				Closed: g.nClosed,
				Ready:  g.nJoined == g.size,
				Mapped: g.mapping != nil,
			})
		}
		g.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Comm is one rank's handle on a collective group.
type Comm struct {
	g    *group
	rank int
}

// GroupID returns the id of the group this handle belongs to.
func (c *Comm) GroupID() GroupID { return c.g.id }

// Rank returns this handle's rank within the group.
func (c *Comm) Rank() int { return c.rank }

// Size returns the number of ranks in the group.
func (c *Comm) Size() int { return c.g.size }

// Ready reports whether every rank has joined the group.
func (c *Comm) Ready() bool {
	select {
	case <-c.g.ready:
		return true
	default:
		return false
	}
}

// Mapping returns a copy of the group's contact table, or nil for device
// groups.
func (c *Comm) Mapping() []int {
	if c.g.mapping == nil {
		return nil
	}
	return append([]int(nil), c.g.mapping...)
}

// Close marks this rank's participation finished. Closing a rank twice is
// an error. The group counts as destroyed once every rank has closed.
func (c *Comm) Close() error {
	g := c.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed[c.rank] {
		return fmt.Errorf("group %d rank %d: %w", g.id, c.rank, ErrClosed)
	}
	g.closed[c.rank] = true
	g.nClosed++
	return nil
}
