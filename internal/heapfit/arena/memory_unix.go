//go:build linux || darwin

package arena

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapMemory backs a Memory region with a single anonymous mapping
// reserved once at construction time, the same "reserve the address
// space up front, commit lazily via a moving break" shape a real
// sbrk-backed host heap driver uses. The pages are reserved but the
// allocator never touches past Size(), so the OS only backs the
// portion actually committed.
type MmapMemory struct {
	region    []byte
	committed uintptr
	closed    bool
}

// NewMmapMemory reserves capacityBytes of anonymous, read-write
// memory via mmap(2) and starts with nothing committed.
func NewMmapMemory(capacityBytes int) (*MmapMemory, error) {
	if capacityBytes <= 0 {
		capacityBytes = 1
	}

	region, err := unix.Mmap(-1, 0, capacityBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("heapfit/arena: mmap %d bytes: %w", capacityBytes, err)
	}

	return &MmapMemory{region: region}, nil
}

// Close releases the mapping. The Memory must not be used afterward.
func (m *MmapMemory) Close() error {
	if m.closed {
		return nil
	}

	m.closed = true

	return unix.Munmap(m.region)
}

func (m *MmapMemory) Base() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(m.region))
}

func (m *MmapMemory) Size() uintptr { return m.committed }

func (m *MmapMemory) Sbrk(incrementBytes int) (uintptr, error) {
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
	capacity := uintptr(len(m.region))

	if m.committed+grow > capacity {
		return old, &ErrExhausted{Requested: grow, Available: capacity - m.committed}
	}

	m.committed += grow

	return old, nil
}
