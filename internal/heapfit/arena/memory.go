// Package arena models the host heap driver that a segregated-fit
// allocator grows against: a contiguous byte region that only ever
// extends, plus the ability to roll an extension back on failure.
package arena

import (
	"fmt"
	"unsafe"
)

// Memory is the contract an allocator core consumes from its backing
// store. It stands in for sbrk/heap_lo/heap_size/reset on a classic
// host memory library: a fixed base address, a monotonically growing
// committed size, and a single operation to change that size.
type Memory interface {
	// Base returns the address of unit zero. It never changes for the
	// lifetime of a Memory value.
	Base() unsafe.Pointer

	// Size returns the number of committed bytes, always a multiple
	// of 8.
	Size() uintptr

	// Sbrk changes the committed size by incrementBytes (negative to
	// shrink, used only to roll back a partial grow). It returns the
	// committed size before the change. A positive increment that
	// cannot be satisfied returns an error and leaves Size unchanged.
	Sbrk(incrementBytes int) (oldSize uintptr, err error)
}

// ErrExhausted is returned by Sbrk when growth would exceed the
// region reserved for the arena.
type ErrExhausted struct {
	Requested uintptr
	Available uintptr
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("heap exhausted: requested %d bytes, %d available", e.Requested, e.Available)
}

// SliceMemory backs a Memory region with one pre-allocated []byte
// slab. The slab's address is fixed at construction time so that
// every pointer handed out by the allocator core remains valid for
// the lifetime of the region — a Go slice that gets re-allocated on
// growth would invalidate exactly the addresses the allocator is
// responsible for keeping alive.
type SliceMemory struct {
	slab      []byte
	committed uintptr
}

// NewSliceMemory reserves capacityBytes of backing storage and starts
// with zero bytes committed, mirroring memlib's mem_init reserving
// MAX_HEAP up front and mem_sbrk only ever moving a break within it.
func NewSliceMemory(capacityBytes int) *SliceMemory {
	if capacityBytes <= 0 {
		capacityBytes = 1
	}

	return &SliceMemory{slab: make([]byte, capacityBytes)}
}

func (m *SliceMemory) Base() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(m.slab))
}

func (m *SliceMemory) Size() uintptr { return m.committed }

func (m *SliceMemory) Sbrk(incrementBytes int) (uintptr, error) {
	old := m.committed
	if incrementBytes == 0 {
		return old, nil
	}

	if incrementBytes < 0 {
		shrink := uintptr(-incrementBytes)
		if shrink > m.committed {
			shrink = m.committed
		}

		m.committed -= shrink

		return old, nil
	}

	grow := uintptr(incrementBytes)
	capacity := uintptr(len(m.slab))

	if m.committed+grow > capacity {
		return old, &ErrExhausted{Requested: grow, Available: capacity - m.committed}
	}

	m.committed += grow

	return old, nil
}
