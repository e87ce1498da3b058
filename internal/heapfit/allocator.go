// Package heapfit implements a segregated-fit arena allocator over a
// host-supplied contiguous heap region, in single-link (header-only)
// and double-link (header+footer) variants.
//
// Neither variant is safe for concurrent use; the allocator owns its
// arena synchronously for the lifetime of every public call, with no
// internal scheduling and nothing to make thread safety meaningful.
package heapfit

import (
	"unsafe"

	"github.com/orizon-lang/heapfit/internal/heapfit/arena"
)

// Allocator is the classical malloc/free/realloc triple plus the
// introspection spec.md's test harness needs.
type Allocator interface {
	Malloc(bytes int) unsafe.Pointer
	Free(ptr unsafe.Pointer)
	Realloc(ptr unsafe.Pointer, bytes int) unsafe.Pointer
	Stats() Stats
	Check() error
}

// Single is the header-only variant. It cannot left-coalesce during
// resize — it has no footer to walk backward with — and relocates in
// cases the double variant would grow in place.
type Single struct {
	e engine
}

// NewSingle prepares an empty arena over mem. Per init()'s contract
// this always succeeds; the arena is lazy and the first Malloc
// triggers the first heap growth.
func NewSingle(mem arena.Memory) *Single {
	return &Single{e: newEngine(mem, false)}
}

func (s *Single) Malloc(bytes int) unsafe.Pointer { return s.e.malloc(bytes) }

func (s *Single) Free(ptr unsafe.Pointer) { s.e.doFree(ptr) }

func (s *Single) Realloc(ptr unsafe.Pointer, bytes int) unsafe.Pointer {
	return s.e.realloc(ptr, bytes)
}

func (s *Single) Stats() Stats { return s.e.stats }

func (s *Single) Check() error { return s.e.check() }

// SetObserver attaches diagnostic hooks; it is never consulted by the
// placement engine itself.
func (s *Single) SetObserver(o Observer) { s.e.observer = o }

// Double additionally carries a footer on every block, enabling
// O(1) left-neighbour lookup and therefore left-coalescing during
// resize, at the cost of one extra unit per block.
type Double struct {
	e engine
}

func NewDouble(mem arena.Memory) *Double {
	return &Double{e: newEngine(mem, true)}
}

func (d *Double) Malloc(bytes int) unsafe.Pointer { return d.e.malloc(bytes) }

func (d *Double) Free(ptr unsafe.Pointer) { d.e.doFree(ptr) }

func (d *Double) Realloc(ptr unsafe.Pointer, bytes int) unsafe.Pointer {
	return d.e.realloc(ptr, bytes)
}

func (d *Double) Stats() Stats { return d.e.stats }

func (d *Double) Check() error { return d.e.check() }

func (d *Double) SetObserver(o Observer) { d.e.observer = o }

var (
	_ Allocator = (*Single)(nil)
	_ Allocator = (*Double)(nil)
)
