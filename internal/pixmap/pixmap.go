// Package pixmap binds offscreen surfaces to the buffer objects backing
// them.
package pixmap

import (
	"sync"

	"github.com/NeowayLabs/kmsd/internal/bo"
)

// SurfaceID identifies a surface of the windowing layer.
type SurfaceID uint32

type binding struct {
	bo     *bo.BO
	stride int
}

// Table holds one reference on the buffer of every bound surface.
type Table struct {
	mu       sync.Mutex
	bindings map[SurfaceID]*binding
}

func NewTable() *Table {
	return &Table{bindings: make(map[SurfaceID]*binding)}
}

// Bind points surface at b. Binding the buffer already bound is a no-op;
// binding nil drops the binding.
func (t *Table) Bind(surface SurfaceID, b *bo.BO) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.bindings[surface]
	if ok && rec.bo == b {
		return
	}
	if ok && rec.bo != nil {
		bo.Unref(&rec.bo)
	}
	if b == nil {
		if ok {
			delete(t.bindings, surface)
		}
		return
	}
	if !ok {
		rec = &binding{}
		t.bindings[surface] = rec
	}
	rec.bo = b.Ref()
	rec.stride = int(b.Pitch())
}

// Lookup returns the buffer bound to surface, or nil. The reference stays
// with the table; callers keeping the buffer must Ref it.
func (t *Table) Lookup(surface SurfaceID) *bo.BO {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.bindings[surface]; ok {
		return rec.bo
	}
	return nil
}

// Stride returns the row stride of the bound buffer, or zero.
func (t *Table) Stride(surface SurfaceID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.bindings[surface]; ok {
		return rec.stride
	}
	return 0
}

// SetStride overrides the stride of a bound surface, for buffers created
// without a pitch.
func (t *Table) SetStride(surface SurfaceID, stride int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.bindings[surface]
	if ok {
		rec.stride = stride
	}
	return ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bindings)
}

// Destroy forgets a destroyed surface.
func (t *Table) Destroy(surface SurfaceID) {
	t.Bind(surface, nil)
}

// Clear drops every binding.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, rec := range t.bindings {
		bo.Unref(&rec.bo)
		delete(t.bindings, id)
	}
}
