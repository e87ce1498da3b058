package heapfit

import (
	"unsafe"

	"github.com/orizon-lang/heapfit/internal/heapfit/class"
)

// realloc implements the full resize decision tree: identity, shrink,
// right-coalesce, left-coalesce (double variant only), heap-extend,
// relocate fallback, plus the three literal edge cases around zero
// and null.
func (e *engine) realloc(ptr unsafe.Pointer, bytes int) unsafe.Pointer {
	if bytes == 0 {
		e.doFree(ptr)

		return nil
	}

	if ptr == nil {
		return e.malloc(bytes)
	}

	u := e.headerUnitFromPayload(ptr)
	h := e.readHeader(u)

	if !h.alloc() {
		abort("realloc(): invalid or already-freed pointer %p", ptr)
	}

	if e.footer {
		if fh := e.readHeader(e.footerUnit(u, h)); fh != h {
			abort("realloc(): footer mismatch at %p (heap corruption)", ptr)
		}
	}

	p := h.size()
	q := bytesToStoredSize(bytes)

	switch {
	case q == p:
		return ptr
	case q < p:
		return e.shrink(u, p, q)
	default:
		return e.grow(u, p, q)
	}
}

// shrink splits off a trailing free block when there is enough slack,
// otherwise leaves B whole.
func (e *engine) shrink(u unit, p, q uint32) unsafe.Pointer {
	remaining := unit(p) - unit(q)
	minUnits := e.minBlockUnits()

	if remaining < minUnits {
		return e.payloadPtr(u)
	}

	lh := makeHeader(q, true, class.Of(q))
	e.writeHeader(u, lh)
	e.writeFooter(u, lh)

	ru := u + e.totalUnitsFor(q)
	rSize := uint32(remaining) - uint32(minUnits)
	e.markFree(ru, rSize)
	e.stats.SplitCount++
	e.stats.BytesInUse -= uintptr(p-q) * 8

	if e.observer != nil {
		e.observer.OnSplit(q, rSize)
	}

	return e.payloadPtr(u)
}

// grow implements case 3 of the resize decision tree in order:
// right-coalesce, left-coalesce (double only), heap-extend, relocate.
func (e *engine) grow(u unit, p, q uint32) unsafe.Pointer {
	needed := unit(q) - unit(p)

	cursor := u + e.totalUnitsFor(p)
	rightNeighbors := []unit{}
	total := unit(0)
	reachedFrontier := false
	rightSatisfied := false

	for {
		if cursor >= e.next {
			reachedFrontier = true

			break
		}

		nh := e.readHeader(cursor)
		if nh.alloc() {
			break
		}

		rightNeighbors = append(rightNeighbors, cursor)
		total += e.totalUnitsFor(nh.size())

		if total >= needed {
			rightSatisfied = true

			break
		}

		cursor += e.totalUnitsFor(nh.size())
	}

	if rightSatisfied {
		return e.rightCoalesce(u, p, q, needed, rightNeighbors, total)
	}

	if e.footer {
		if ptr, ok := e.leftCoalesce(u, p, q, needed, rightNeighbors, total); ok {
			return ptr
		}
	}

	if reachedFrontier {
		if ptr, ok := e.heapExtend(u, p, q, needed, rightNeighbors, total); ok {
			return ptr
		}
	}

	return e.relocate(u, p, q)
}

func (e *engine) detachFree(units []unit) {
	for _, v := range units {
		h := e.readHeader(v)
		e.unlink(h.class(), v)
	}
}

func (e *engine) rightCoalesce(u unit, p, q uint32, needed unit, neighbors []unit, total unit) unsafe.Pointer {
	e.detachFree(neighbors)

	rightmost := neighbors[len(neighbors)-1]
	rightmostSize := e.readHeader(rightmost).size()
	extra := total - needed
	minUnits := e.minBlockUnits()

	newSize, tailSize, hasTail := reconstitute(extra, minUnits, rightmostSize, q, !e.footer)

	bh := makeHeader(newSize, true, class.Of(newSize))
	e.writeHeader(u, bh)
	e.writeFooter(u, bh)

	if hasTail {
		tailPos := u + e.totalUnitsFor(newSize)
		e.markFree(tailPos, tailSize)
	}

	e.stats.CoalesceCount++
	e.stats.BytesInUse += uintptr(newSize-p) * 8

	if e.observer != nil {
		e.observer.OnCoalesce(uint32(total), "right")
	}

	return e.payloadPtr(u)
}

// leftCoalesce is attempted only by the double variant, since only it
// can locate the preceding block in O(1) via its footer.
func (e *engine) leftCoalesce(u unit, p, q uint32, needed unit, rightNeighbors []unit, rightTotal unit) (unsafe.Pointer, bool) {
	combined := rightTotal
	leftPreds := []unit{}
	cursor := u

	for cursor > 0 {
		footerUnit := cursor - 1
		lh := e.readHeader(footerUnit)

		if lh.alloc() {
			break
		}

		leftSize := lh.size()
		leftStart := cursor - e.totalUnitsFor(leftSize)
		combined += e.totalUnitsFor(leftSize)
		leftPreds = append([]unit{leftStart}, leftPreds...)

		if combined >= needed {
			break
		}

		cursor = leftStart
	}

	if combined < needed || len(leftPreds) == 0 {
		return nil, false
	}

	e.detachFree(rightNeighbors)
	e.detachFree(leftPreds)

	leftmost := leftPreds[0]

	var rightmostSize uint32
	if len(rightNeighbors) > 0 {
		rightmostSize = e.readHeader(rightNeighbors[len(rightNeighbors)-1]).size()
	} else {
		// nothing was absorbed on the right, so B's own original span is
		// what physically bounds the combined block on that side.
		rightmostSize = p
	}

	extra := combined - needed
	minUnits := e.minBlockUnits()
	newSize, tailSize, hasTail := reconstitute(extra, minUnits, rightmostSize, q, false)

	// the old payload must be copied before the new header is
	// written, since the new header may overlap the old one.
	copyUnits := unit(p) + 1
	src := e.bytesAt(u+1, copyUnits)
	dst := e.bytesAt(leftmost+1, copyUnits)
	copy(dst, src)

	bh := makeHeader(newSize, true, class.Of(newSize))
	e.writeHeader(leftmost, bh)
	e.writeFooter(leftmost, bh)

	if hasTail {
		tailPos := leftmost + e.totalUnitsFor(newSize)
		e.markFree(tailPos, tailSize)
	}

	e.stats.CoalesceCount++
	e.stats.BytesInUse += uintptr(newSize-p) * 8

	if e.observer != nil {
		e.observer.OnCoalesce(uint32(combined), "left")
	}

	return e.payloadPtr(leftmost), true
}

func (e *engine) heapExtend(u unit, p, q uint32, needed unit, neighbors []unit, total unit) (unsafe.Pointer, bool) {
	if err := e.growHeap(needed - total); err != nil {
		return nil, false
	}

	e.detachFree(neighbors)

	bh := makeHeader(q, true, class.Of(q))
	e.writeHeader(u, bh)
	e.writeFooter(u, bh)
	e.stats.BytesInUse += uintptr(q-p) * 8

	return e.payloadPtr(u), true
}

func (e *engine) relocate(u unit, p, q uint32) unsafe.Pointer {
	newPtr := e.allocateSize(q)
	if newPtr == nil {
		return nil
	}

	copyUnits := unit(p) + 1
	src := e.bytesAt(u+1, copyUnits)
	dst := e.bytesAt(e.headerUnitFromPayload(newPtr)+1, copyUnits)
	copy(dst, src)

	e.doFree(e.payloadPtr(u))

	return newPtr
}
