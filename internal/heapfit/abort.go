package heapfit

import (
	"fmt"
	"log"
	"os"
)

// Debug gates the internal-invariant assertions. It defaults to true,
// matching a debug build; a release build sets it to false before the
// first allocator is constructed. Contract violations (free/realloc of
// a corrupt or non-allocated pointer) abort regardless of Debug —
// those are a different error kind from an internal invariant break.
var Debug = true

var osExit = os.Exit

// abort reports a contract violation on stderr and terminates the
// process. This is not a panic: the spec treats these as
// non-recoverable programming errors, and a panic can be caught by a
// recover() the caller has no business installing.
func abort(format string, args ...any) {
	log.New(os.Stderr, "heapfit: ", log.LstdFlags).Output(2, fmt.Sprintf(format, args...))
	osExit(2)
}

// debugAssert aborts only when Debug is set, for invariants that are
// internal bookkeeping (free-list chain breaks, class misindexing)
// rather than caller-facing contract violations.
func debugAssert(cond bool, format string, args ...any) {
	if !Debug || cond {
		return
	}

	abort(format, args...)
}
