package heapfit

import (
	"fmt"

	"github.com/orizon-lang/heapfit/internal/heapfit/class"
)

// check walks [0, next) by header-driven steps, then walks every
// class list, and verifies heap cover, list membership, chain
// integrity, footer parity (double variant), and the minimum block
// size.
func (e *engine) check() error {
	seen := make(map[unit]bool, 11)

	u := unit(0)
	for u < e.next {
		h := e.readHeader(u)

		if e.footer {
			fh := e.readHeader(e.footerUnit(u, h))
			if fh != h {
				return fmt.Errorf("footer parity violated at unit %d", u)
			}
		}

		total := e.totalUnitsFor(h.size())
		if total < e.minBlockUnits() {
			return fmt.Errorf("block at unit %d smaller than MIN_BLOCK_UNITS", u)
		}

		if !h.alloc() {
			if h.class() != class.Of(h.size()) {
				return fmt.Errorf("block at unit %d misindexed: class=%d want=%d", u, h.class(), class.Of(h.size()))
			}

			seen[u] = true
		}

		u += total
	}

	if u != e.next {
		return fmt.Errorf("heap cover violated: walk ended at %d, frontier is %d", u, e.next)
	}

	walked := 0

	for c := uint32(0); c < class.Count; c++ {
		prev := nilUnit

		for v := e.freeHead[c]; v != nilUnit; v = e.readLink(v + 2) {
			if !seen[v] {
				return fmt.Errorf("class %d list references unit %d not found free on heap walk", c, v)
			}

			if e.readHeader(v).class() != c {
				return fmt.Errorf("unit %d listed under class %d but class_of(size)=%d", v, c, e.readHeader(v).class())
			}

			if e.readLink(v+1) != prev {
				return fmt.Errorf("chain broken at unit %d: prev link does not match predecessor", v)
			}

			prev = v
			walked++
		}

		if e.freeLast[c] != nilUnit && e.readLink(e.freeLast[c]+2) != nilUnit {
			return fmt.Errorf("class %d: last.next != null", c)
		}
	}

	if walked != len(seen) {
		return fmt.Errorf("list membership violated: %d free blocks on heap walk, %d reachable from lists", len(seen), walked)
	}

	return nil
}
