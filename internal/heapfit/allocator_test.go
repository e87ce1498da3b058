package heapfit

import (
	"bytes"
	"errors"
	"testing"
	"unsafe"

	"github.com/orizon-lang/heapfit/internal/heapfit/arena"
)

// newVariants builds one allocator per variant under test, so the
// shared-semantics tests below run against both Single and Double
// without duplicating the body.
func newVariants(t *testing.T, heapBytes int) map[string]Allocator {
	t.Helper()

	return map[string]Allocator{
		"single": NewSingle(arena.NewSliceMemory(heapBytes)),
		"double": NewDouble(arena.NewSliceMemory(heapBytes)),
	}
}

func payloadBytes(ptr unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(ptr), n)
}

func fillPattern(b []byte, seed byte) {
	for i := range b {
		b[i] = byte(int(seed) + i)
	}
}

func checkPattern(t *testing.T, b []byte, seed byte) {
	t.Helper()

	want := make([]byte, len(b))
	fillPattern(want, seed)

	if !bytes.Equal(b, want) {
		t.Errorf("payload corrupted: got %v, want %v", b, want)
	}
}

// --- literal edge cases, spec.md scenario 4 -------------------------------

func TestMallocZeroReturnsNil(t *testing.T) {
	for name, a := range newVariants(t, 4096) {
		t.Run(name, func(t *testing.T) {
			if ptr := a.Malloc(0); ptr != nil {
				t.Errorf("Malloc(0) = %p, want nil", ptr)
			}
		})
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	for name, a := range newVariants(t, 4096) {
		t.Run(name, func(t *testing.T) {
			a.Free(nil)

			if err := a.Check(); err != nil {
				t.Errorf("Check() after Free(nil) = %v", err)
			}
		})
	}
}

func TestReallocNilActsLikeMalloc(t *testing.T) {
	for name, a := range newVariants(t, 4096) {
		t.Run(name, func(t *testing.T) {
			ptr := a.Realloc(nil, 64)
			if ptr == nil {
				t.Fatal("Realloc(nil, 64) = nil")
			}

			fillPattern(payloadBytes(ptr, 64), 0x11)

			if err := a.Check(); err != nil {
				t.Errorf("Check() = %v", err)
			}
		})
	}
}

func TestReallocZeroFreesAndReturnsNil(t *testing.T) {
	for name, a := range newVariants(t, 4096) {
		t.Run(name, func(t *testing.T) {
			ptr := a.Malloc(64)
			if ptr == nil {
				t.Fatal("Malloc(64) = nil")
			}

			if got := a.Realloc(ptr, 0); got != nil {
				t.Errorf("Realloc(p, 0) = %p, want nil", got)
			}

			if err := a.Check(); err != nil {
				t.Errorf("Check() = %v", err)
			}
		})
	}
}

// --- round trip / invariants ----------------------------------------------

func TestMallocFreeRoundTripPreservesInvariants(t *testing.T) {
	for name, a := range newVariants(t, 1<<16) {
		t.Run(name, func(t *testing.T) {
			if err := a.Check(); err != nil {
				t.Fatalf("Check() before any op = %v", err)
			}

			ptr := a.Malloc(40)
			if ptr == nil {
				t.Fatal("Malloc(40) = nil")
			}

			if err := a.Check(); err != nil {
				t.Fatalf("Check() after Malloc = %v", err)
			}

			a.Free(ptr)

			if err := a.Check(); err != nil {
				t.Fatalf("Check() after Free = %v", err)
			}
		})
	}
}

func TestStatsTracksAllocAndFree(t *testing.T) {
	for name, a := range newVariants(t, 1<<16) {
		t.Run(name, func(t *testing.T) {
			ptrs := make([]unsafe.Pointer, 10)
			for i := range ptrs {
				ptrs[i] = a.Malloc(48)
				if ptrs[i] == nil {
					t.Fatalf("Malloc(48) #%d = nil", i)
				}
			}

			s := a.Stats()
			if s.AllocCount != 10 {
				t.Errorf("AllocCount = %d, want 10", s.AllocCount)
			}

			for _, p := range ptrs {
				a.Free(p)
			}

			s = a.Stats()
			if s.FreeCount != 10 {
				t.Errorf("FreeCount = %d, want 10", s.FreeCount)
			}

			if s.BytesInUse != 0 {
				t.Errorf("BytesInUse = %d, want 0 after freeing everything", s.BytesInUse)
			}
		})
	}
}

// --- scenario 1: a realloc chain preserves the overlapping prefix --------

func TestReallocChainPreservesPrefix(t *testing.T) {
	for name, a := range newVariants(t, 1<<20) {
		t.Run(name, func(t *testing.T) {
			p1 := a.Malloc(8)
			if p1 == nil {
				t.Fatal("Malloc(8) = nil")
			}

			fillPattern(payloadBytes(p1, 8), 1)

			sizes := []int{1024, 8, 256, 2048}
			prev := p1
			const known = 8 // only these bytes were ever written with a known pattern

			for _, sz := range sizes {
				next := a.Realloc(prev, sz)
				if next == nil {
					t.Fatalf("Realloc(_, %d) = nil", sz)
				}

				overlap := known
				if sz < overlap {
					overlap = sz
				}

				checkPattern(t, payloadBytes(next, overlap), 1)

				if err := a.Check(); err != nil {
					t.Fatalf("Check() after Realloc(_, %d) = %v", sz, err)
				}

				prev = next
			}
		})
	}
}

// --- first-fit within a class returns the lowest-address match ----------

func TestFirstFitReturnsLowestAddressMatch(t *testing.T) {
	for name, a := range newVariants(t, 1<<20) {
		t.Run(name, func(t *testing.T) {
			const n = 200
			const blockBytes = 168 // stored size 20, class 8 (medium)

			ptrs := make([]unsafe.Pointer, n)
			for i := 0; i < n; i++ {
				ptrs[i] = a.Malloc(blockBytes)
				if ptrs[i] == nil {
					t.Fatalf("Malloc(%d) #%d = nil", blockBytes, i)
				}
			}

			for i := 0; i < n; i += 2 {
				a.Free(ptrs[i])
			}

			// a smaller request in the same medium class must hit the
			// lowest-address free block (index 0, first-fit scans head
			// to tail and the free list is address-ordered here since
			// every even index was appended in ascending order).
			got := a.Malloc(136) // stored size 16, still class 8

			if got != ptrs[0] {
				t.Errorf("Malloc(136) = %p, want lowest free block %p", got, ptrs[0])
			}

			if err := a.Check(); err != nil {
				t.Errorf("Check() = %v", err)
			}
		})
	}
}

// --- right-coalesce: growing into an immediately-following free block ---

func TestRightCoalesceGrowsInPlace(t *testing.T) {
	for name, a := range newVariants(t, 1<<16) {
		t.Run(name, func(t *testing.T) {
			keep := a.Malloc(64)
			if keep == nil {
				t.Fatal("Malloc(64) = nil")
			}

			fillPattern(payloadBytes(keep, 64), 7)

			next := a.Malloc(64)
			if next == nil {
				t.Fatal("Malloc(64) = nil")
			}

			a.Free(next)

			grown := a.Realloc(keep, 120)
			if grown == nil {
				t.Fatal("Realloc(keep, 120) = nil")
			}

			if grown != keep {
				t.Errorf("Realloc(keep, 120) = %p, want same pointer %p (right neighbour should absorb in place)", grown, keep)
			}

			checkPattern(t, payloadBytes(grown, 64), 7)

			if err := a.Check(); err != nil {
				t.Errorf("Check() = %v", err)
			}
		})
	}
}

// --- left-coalesce (double) vs relocate (single), scenario 2/3 ----------

func TestGrowWithAllocatedRightNeighbour(t *testing.T) {
	mem := arena.NewSliceMemory(1 << 16)
	d := NewDouble(mem)

	left := d.Malloc(64)  // will be freed, sits immediately before mid
	mid := d.Malloc(64)   // the block under resize
	right := d.Malloc(64) // stays allocated, blocks right-coalesce

	if left == nil || mid == nil || right == nil {
		t.Fatal("setup Malloc returned nil")
	}

	fillPattern(payloadBytes(mid, 64), 3)

	d.Free(left)

	grown := d.Realloc(mid, 128)
	if grown == nil {
		t.Fatal("Realloc(mid, 128) = nil")
	}

	if grown != left {
		t.Errorf("Realloc(mid, 128) = %p, want left-coalesced into freed predecessor %p", grown, left)
	}

	checkPattern(t, payloadBytes(grown, 64), 3)

	if err := d.Check(); err != nil {
		t.Errorf("Check() = %v", err)
	}

	// the single variant has no footer to walk backward with, so the
	// identical layout must relocate instead of growing in place.
	mem2 := arena.NewSliceMemory(1 << 16)
	s := NewSingle(mem2)

	left2 := s.Malloc(64)
	mid2 := s.Malloc(64)
	right2 := s.Malloc(64)

	if left2 == nil || mid2 == nil || right2 == nil {
		t.Fatal("setup Malloc returned nil")
	}

	fillPattern(payloadBytes(mid2, 64), 9)
	s.Free(left2)

	grown2 := s.Realloc(mid2, 128)
	if grown2 == nil {
		t.Fatal("Realloc(mid2, 128) = nil")
	}

	if grown2 == mid2 || grown2 == left2 {
		t.Errorf("Realloc(mid2, 128) = %p, want a relocated block (single variant cannot left-coalesce)", grown2)
	}

	checkPattern(t, payloadBytes(grown2, 64), 9)

	if err := s.Check(); err != nil {
		t.Errorf("Check() = %v", err)
	}
}

// --- heap growth chunking past a single Sbrk call's ceiling --------------

type fakeMemory struct {
	base       [64]byte
	committed  uintptr
	calls      int
	failOnCall int
}

func (m *fakeMemory) Base() unsafe.Pointer { return unsafe.Pointer(&m.base[0]) }

func (m *fakeMemory) Size() uintptr { return m.committed }

func (m *fakeMemory) Sbrk(incrementBytes int) (uintptr, error) {
	m.calls++
	old := m.committed

	if incrementBytes < 0 {
		m.committed -= uintptr(-incrementBytes)
		return old, nil
	}

	if m.failOnCall != 0 && m.calls == m.failOnCall {
		return old, errors.New("fake sbrk: simulated exhaustion")
	}

	m.committed += uintptr(incrementBytes)

	return old, nil
}

func TestGrowHeapChunksPastMaxSbrk(t *testing.T) {
	mem := &fakeMemory{}
	s := NewSingle(mem)

	// request growth spanning more than one maxSbrkChunk-sized Sbrk call.
	units := unit(maxSbrkChunk/8 + 100)

	if err := s.e.growHeap(units); err != nil {
		t.Fatalf("growHeap(%d) = %v", units, err)
	}

	if mem.calls < 2 {
		t.Errorf("Sbrk called %d times, want at least 2 to cover a >maxSbrkChunk request", mem.calls)
	}

	if mem.committed != uintptr(units)*8 {
		t.Errorf("committed = %d, want %d", mem.committed, uintptr(units)*8)
	}

	if s.e.next != units {
		t.Errorf("next = %d, want %d", s.e.next, units)
	}
}

func TestGrowHeapResetsOnMidChunkFailure(t *testing.T) {
	mem := &fakeMemory{failOnCall: 2}
	s := NewSingle(mem)

	units := unit(maxSbrkChunk/8 + 100)

	if err := s.e.growHeap(units); err == nil {
		t.Fatal("growHeap(units) = nil error, want failure from injected second chunk")
	}

	if mem.committed != 0 {
		t.Errorf("committed after failed grow = %d, want reset to 0", mem.committed)
	}

	if s.e.next != 0 {
		t.Errorf("next after failed grow = %d, want unchanged 0", s.e.next)
	}

	if s.e.stats.GrowCount != 0 {
		t.Errorf("GrowCount = %d, want 0 on failure", s.e.stats.GrowCount)
	}
}

func TestMallocReturnsNilOnHeapExhaustion(t *testing.T) {
	mem := arena.NewSliceMemory(64) // tiny arena, cannot satisfy a large request
	s := NewSingle(mem)

	if ptr := s.Malloc(4096); ptr != nil {
		t.Errorf("Malloc(4096) over a 64-byte arena = %p, want nil", ptr)
	}

	if err := s.Check(); err != nil {
		t.Errorf("Check() after failed Malloc = %v", err)
	}
}

// --- contract violations abort the process --------------------------------

func withAbortCapture(t *testing.T, fn func()) bool {
	t.Helper()

	orig := osExit
	called := false

	osExit = func(code int) {
		called = true
		panic("heapfit: abort")
	}

	defer func() { osExit = orig }()

	func() {
		defer func() { recover() }()
		fn()
	}()

	return called
}

func TestDoubleFreeAborts(t *testing.T) {
	mem := arena.NewSliceMemory(4096)
	d := NewDouble(mem)

	ptr := d.Malloc(32)
	if ptr == nil {
		t.Fatal("Malloc(32) = nil")
	}

	d.Free(ptr)

	if !withAbortCapture(t, func() { d.Free(ptr) }) {
		t.Error("double free did not abort")
	}
}

func TestReallocOfFreedPointerAborts(t *testing.T) {
	mem := arena.NewSliceMemory(4096)
	s := NewSingle(mem)

	ptr := s.Malloc(32)
	if ptr == nil {
		t.Fatal("Malloc(32) = nil")
	}

	s.Free(ptr)

	if !withAbortCapture(t, func() { s.Realloc(ptr, 64) }) {
		t.Error("realloc of a freed pointer did not abort")
	}
}

func TestFooterMismatchAborts(t *testing.T) {
	mem := arena.NewSliceMemory(4096)
	d := NewDouble(mem)

	ptr := d.Malloc(64)
	if ptr == nil {
		t.Fatal("Malloc(64) = nil")
	}

	u := d.e.headerUnitFromPayload(ptr)
	h := d.e.readHeader(u)
	fu := d.e.footerUnit(u, h)
	d.e.writeHeader(fu, h.withSize(h.size()+1))

	if !withAbortCapture(t, func() { d.Free(ptr) }) {
		t.Error("footer mismatch did not abort")
	}
}

// --- observer hooks fire on the expected events ---------------------------

type recordingObserver struct {
	grows, splits, coalesces int
}

func (r *recordingObserver) OnGrow(int)           { r.grows++ }
func (r *recordingObserver) OnSplit(uint32, uint32) { r.splits++ }
func (r *recordingObserver) OnCoalesce(uint32, string) { r.coalesces++ }

func TestObserverFiresOnGrowSplitCoalesce(t *testing.T) {
	mem := arena.NewSliceMemory(1 << 16)
	s := NewSingle(mem)

	obs := &recordingObserver{}
	s.SetObserver(obs)

	big := s.Malloc(4096)
	if big == nil {
		t.Fatal("Malloc(4096) = nil")
	}

	if obs.grows == 0 {
		t.Error("OnGrow never fired for the first allocation")
	}

	small := s.Malloc(16)
	if small == nil {
		t.Fatal("Malloc(16) = nil")
	}

	s.Free(big)

	// splitting small off of the freed big block exercises OnSplit.
	carved := s.Malloc(24)
	if carved == nil {
		t.Fatal("Malloc(24) = nil")
	}

	if obs.splits == 0 {
		t.Error("OnSplit never fired when carving a smaller block out of a larger free one")
	}

	// growing the carved block into the free remainder right after it
	// exercises OnCoalesce.
	if s.Realloc(carved, 64) == nil {
		t.Fatal("Realloc(carved, 64) = nil")
	}

	if obs.coalesces == 0 {
		t.Error("OnCoalesce never fired when growing into a free right neighbour")
	}
}
