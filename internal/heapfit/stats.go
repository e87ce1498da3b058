package heapfit

// Stats reports a point-in-time view of an allocator's bookkeeping,
// the shape AllocatorStats takes in the corpus's own allocator
// package, trimmed down because this allocator tracks no GC or leak
// state.
type Stats struct {
	HeapBytes     uintptr
	BytesInUse    uintptr
	AllocCount    uint64
	FreeCount     uint64
	SplitCount    uint64
	CoalesceCount uint64
	GrowCount     uint64
	FreeByClass   [11]uint64
}

func (s *Stats) onAlloc(payloadUnits uint32) {
	s.AllocCount++
	s.BytesInUse += uintptr(payloadUnits+1) * 8
}

func (s *Stats) onFree(payloadUnits uint32) {
	s.FreeCount++
	s.BytesInUse -= uintptr(payloadUnits+1) * 8
}

// Observer receives placement-engine events. It exists purely for
// bench/diagnostic tooling; the placement engine never consults it,
// mirroring how RegionObserver/AllocatorObserver sit to the side of
// the allocation path rather than inside it.
type Observer interface {
	OnGrow(addedBytes int)
	OnSplit(leftUnits, rightUnits uint32)
	OnCoalesce(absorbedUnits uint32, direction string)
}
