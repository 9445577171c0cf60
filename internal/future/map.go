package future

import (
	"context"
	"fmt"

	"taskgrid/internal/geom"
)

// Map holds one future per point of a launch domain, addressed either by
// linear index or by point.
type Map struct {
	domain  geom.Rect
	futures []*Future
}

// NewMap allocates an incomplete future for every point of domain.
func NewMap(domain geom.Rect) *Map {
	fs := make([]*Future, domain.Volume())
	for i := range fs {
		fs[i] = New()
	}
	return &Map{domain: domain, futures: fs}
}

// Domain returns the domain this map is shaped over.
func (m *Map) Domain() geom.Rect { return m.domain }

// Volume returns the number of futures in the map.
func (m *Map) Volume() int { return len(m.futures) }

// At returns the future at linear index i.
func (m *Map) At(i int) *Future { return m.futures[i] }

// Get returns the future for point p. It panics if p lies outside the
// domain.
func (m *Map) Get(p geom.Point) *Future {
	return m.futures[m.domain.LinearIndex(p)]
}

// Wait blocks until every future in the map has resolved or ctx is done,
// and returns the first error found in linear order.
func (m *Map) Wait(ctx context.Context) error {
	var first error
	for _, f := range m.futures {
		if _, err := f.Wait(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Reshape returns a view of the same futures arranged over a different
// domain. The backing futures are shared and no tasks run; only the shape
// changes. It errors when the volumes differ.
func (m *Map) Reshape(domain geom.Rect) (*Map, error) {
	if domain.Volume() != len(m.futures) {
		return nil, fmt.Errorf("reshape %s to %s: volume mismatch (%d != %d)",
			m.domain, domain, len(m.futures), domain.Volume())
	}
	return &Map{domain: domain, futures: m.futures}, nil
}
