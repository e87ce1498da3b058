package heapfit

import (
	"math"
	"unsafe"

	"github.com/orizon-lang/heapfit/internal/heapfit/arena"
	"github.com/orizon-lang/heapfit/internal/heapfit/class"
)

// engine is the placement logic shared by the single- and
// double-link variants. footer toggles whether every block carries a
// trailing redundant header copy, which is the only structural
// difference between the two: everything else (size classes,
// free-list threading, split/escalate/grow) is identical.
type engine struct {
	mem      arena.Memory
	footer   bool
	next     unit
	freeHead [class.Count]unit
	freeLast [class.Count]unit
	observer Observer
	stats    Stats
}

func newEngine(mem arena.Memory, footer bool) engine {
	e := engine{mem: mem, footer: footer}
	for i := range e.freeHead {
		e.freeHead[i] = nilUnit
		e.freeLast[i] = nilUnit
	}

	return e
}

func (e *engine) minBlockUnits() unit {
	if e.footer {
		return 3
	}

	return 2
}

func (e *engine) totalUnitsFor(storedSize uint32) unit {
	return unit(storedSize) + e.minBlockUnits()
}

// --- raw memory access -----------------------------------------------------

func (e *engine) wordPtr(u unit) *uint64 {
	return (*uint64)(unsafe.Add(e.mem.Base(), int64(u)*8))
}

func (e *engine) readHeader(u unit) header { return header(*e.wordPtr(u)) }

func (e *engine) writeHeader(u unit, h header) { *e.wordPtr(u) = uint64(h) }

func (e *engine) footerUnit(u unit, h header) unit {
	return u + e.totalUnitsFor(h.size()) - 1
}

func (e *engine) writeFooter(u unit, h header) {
	if e.footer {
		e.writeHeader(e.footerUnit(u, h), h)
	}
}

func (e *engine) readLink(u unit) unit { return unit(int64(*e.wordPtr(u))) }

func (e *engine) writeLink(u unit, v unit) { *e.wordPtr(u) = uint64(int64(v)) }

func (e *engine) payloadPtr(u unit) unsafe.Pointer {
	return unsafe.Add(e.mem.Base(), int64(u+1)*8)
}

func (e *engine) headerUnitFromPayload(ptr unsafe.Pointer) unit {
	off := int64(uintptr(ptr) - uintptr(e.mem.Base()))

	return unit(off/8) - 1
}

func (e *engine) bytesAt(u unit, units unit) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(e.mem.Base(), int64(u)*8)), int64(units)*8)
}

// --- free-list index ---------------------------------------------------

// insertFree appends a block to the tail of its class list. The block
// must already have alloc=0 and class set to class.Of(size); this
// only threads the prev/next links.
func (e *engine) insertFree(u unit, h header) {
	c := h.class()
	debugAssert(c == class.Of(h.size()), "insertFree(): unit %d carries class %d, want %d", u, c, class.Of(h.size()))

	last := e.freeLast[c]
	e.writeLink(u+1, last)
	e.writeLink(u+2, nilUnit)

	if last == nilUnit {
		e.freeHead[c] = u
	} else {
		e.writeLink(last+2, u)
	}

	e.freeLast[c] = u
	e.stats.FreeByClass[c]++
}

// unlink removes u from class c's list via the four cases: head&last,
// head-only, last-only, interior. It does not touch u's own link
// words — a caller must not observe them once removed.
func (e *engine) unlink(c uint32, u unit) {
	prev := e.readLink(u + 1)
	next := e.readLink(u + 2)

	debugAssert((prev == nilUnit && e.freeHead[c] == u) || (prev != nilUnit && e.readLink(prev+2) == u),
		"unlink(): free-list chain broken at unit %d in class %d", u, c)

	if prev == nilUnit {
		e.freeHead[c] = next
	} else {
		e.writeLink(prev+2, next)
	}

	if next == nilUnit {
		e.freeLast[c] = prev
	} else {
		e.writeLink(next+1, prev)
	}

	e.stats.FreeByClass[c]--
}

func (e *engine) firstFit(c uint32, need uint32) (unit, bool) {
	for u := e.freeHead[c]; u != nilUnit; u = e.readLink(u + 2) {
		if e.readHeader(u).size() >= need {
			return u, true
		}
	}

	return nilUnit, false
}

// markFree marks the block at u free, classifies it, and inserts it
// into the appropriate list, writing the footer in the double
// variant.
func (e *engine) markFree(u unit, storedSize uint32) header {
	h := makeHeader(storedSize, false, class.Of(storedSize))
	e.writeHeader(u, h)
	e.writeFooter(u, h)
	e.insertFree(u, h)

	return h
}

func (e *engine) markAllocated(u unit, storedSize uint32) header {
	h := makeHeader(storedSize, true, class.Of(storedSize))
	e.writeHeader(u, h)
	e.writeFooter(u, h)

	return h
}

// --- heap growth -------------------------------------------------------

// maxSbrkChunk stands in for the host's per-call INT_MAX-byte ceiling.
const maxSbrkChunk = math.MaxInt32

// growHeap extends the committed arena by units, chunking the
// underlying Sbrk calls and resetting to the size held at entry if
// any sub-call fails partway through.
func (e *engine) growHeap(units unit) error {
	if units <= 0 {
		return nil
	}

	startBytes := e.mem.Size()
	remaining := int64(units) * 8
	grown := int64(0)

	for grown < remaining {
		chunk := remaining - grown
		if chunk > maxSbrkChunk {
			chunk = maxSbrkChunk
		}

		if _, err := e.mem.Sbrk(int(chunk)); err != nil {
			if cur := e.mem.Size(); cur > startBytes {
				e.mem.Sbrk(-int(cur - startBytes))
			}

			return err
		}

		grown += chunk
	}

	e.next += units
	e.stats.GrowCount++
	e.stats.HeapBytes = uintptr(e.next) * 8

	if e.observer != nil {
		e.observer.OnGrow(int(remaining))
	}

	return nil
}

// --- allocate ------------------------------------------------------------

func (e *engine) malloc(bytes int) unsafe.Pointer {
	if bytes <= 0 {
		return nil
	}

	need := bytesToStoredSize(bytes)

	return e.allocateSize(need)
}

// allocateSize runs the full search/escalate/carve path for a stored
// size directly, used both by malloc (after the byte conversion) and
// by the relocate fallback in resize.
func (e *engine) allocateSize(need uint32) unsafe.Pointer {
	i := class.Of(need)

	if e.freeHead[i] != nilUnit {
		if class.IsSmall(i) {
			u := e.freeHead[i]
			h := e.readHeader(u)
			e.unlink(i, u)

			return e.finishPlacement(u, h, need)
		}

		if u, ok := e.firstFit(i, need); ok {
			h := e.readHeader(u)
			e.unlink(i, u)

			return e.split(u, h, need)
		}
	}

	for j := i + 1; j < class.Count; j++ {
		if e.freeHead[j] != nilUnit {
			u := e.freeHead[j]
			h := e.readHeader(u)
			e.unlink(j, u)

			return e.split(u, h, need)
		}
	}

	return e.carveFresh(need)
}

// finishPlacement is the small-class exact-fit path: the block's
// stored size already equals need, so it is marked allocated in
// place with no split arithmetic.
func (e *engine) finishPlacement(u unit, h header, need uint32) unsafe.Pointer {
	ah := h.withAlloc(true).withClass(class.Of(need))
	e.writeHeader(u, ah)
	e.writeFooter(u, ah)
	e.stats.onAlloc(need)

	return e.payloadPtr(u)
}

// split carves an allocated block of stored-size need out of a free
// block L of stored-size p, leaving a free remainder when there is
// enough slack to form a legal block.
func (e *engine) split(u unit, h header, need uint32) unsafe.Pointer {
	p := h.size()
	remaining := unit(p) - unit(need)
	minUnits := e.minBlockUnits()

	if remaining < minUnits {
		ah := makeHeader(p, true, class.Of(p))
		e.writeHeader(u, ah)
		e.writeFooter(u, ah)
		e.stats.onAlloc(p)

		return e.payloadPtr(u)
	}

	lh := makeHeader(need, true, class.Of(need))
	e.writeHeader(u, lh)
	e.writeFooter(u, lh)

	ru := u + e.totalUnitsFor(need)
	rSize := uint32(remaining) - uint32(minUnits)
	e.markFree(ru, rSize)

	e.stats.onAlloc(need)
	e.stats.SplitCount++

	if e.observer != nil {
		e.observer.OnSplit(need, rSize)
	}

	return e.payloadPtr(u)
}

func (e *engine) carveFresh(need uint32) unsafe.Pointer {
	u := e.next
	if err := e.growHeap(e.totalUnitsFor(need)); err != nil {
		return nil
	}

	e.markAllocated(u, need)
	e.stats.onAlloc(need)

	return e.payloadPtr(u)
}

// --- free ------------------------------------------------------------

func (e *engine) doFree(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	u := e.headerUnitFromPayload(ptr)
	h := e.readHeader(u)

	if !h.alloc() {
		abort("free(): double free or invalid pointer %p", ptr)
	}

	if e.footer {
		fh := e.readHeader(e.footerUnit(u, h))
		if fh != h {
			abort("free(): footer mismatch at %p (heap corruption)", ptr)
		}
	}

	e.stats.onFree(h.size())
	e.markFree(u, h.size())
}

// --- reconstitution shared by right- and left-coalesce ------------------

// reconstitute decides, for a block whose needed extra payload has
// been more than covered by absorbed free neighbours, how the leftover
// "extra" units split between growing B and leaving a trailing free
// block. rightmostSize is the original stored size of the last
// absorbed neighbour on the right; in a pure left-coalesce with no
// right neighbour the caller passes B's own original stored size.
//
// singleBoundary implements the frozen open-question resolution: the
// single variant's reference omits the extra-exceeds-size branch, and
// at the exact boundary extra == rightmostSize+1 the expected result
// is a 1-payload tail with B.size = q+1, one more than the double
// variant's general formula would give.
func reconstitute(extra, minUnits unit, rightmostSize, q uint32, singleBoundary bool) (newSize uint32, tailSize uint32, hasTail bool) {
	if extra < minUnits {
		return q + uint32(extra), 0, false
	}

	if singleBoundary && uint32(extra) == rightmostSize+1 {
		return q + 1, 0, true
	}

	if uint32(extra) > rightmostSize {
		return q + uint32(extra) - rightmostSize - 1, 0, true
	}

	return q, uint32(extra) - uint32(minUnits), true
}
