// Command heapfit-bench replays an allocate/free/resize trace against
// one of the two heapfit variants, the exercise harness spec.md's
// benchmark/correctness driver describes.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"unsafe"

	heaperrors "github.com/orizon-lang/heapfit/internal/errors"
	"github.com/orizon-lang/heapfit/internal/heapfit"
	"github.com/orizon-lang/heapfit/internal/heapfit/arena"
)

func main() {
	var (
		variant   string
		tracePath string
		heapBytes int
		check     bool
		verbose   bool
		seed      int64
		synthetic int
		useMmap   bool
	)

	flagSet(&variant, &tracePath, &heapBytes, &check, &verbose, &seed, &synthetic, &useMmap)

	L := getLocale()

	var mem arena.Memory

	if useMmap {
		mm, err := arena.NewMmapMemory(heapBytes)
		if err != nil {
			fatal(L, "failed to reserve mmap arena: %v", err)
		}
		defer mm.Close()

		mem = mm
	} else {
		mem = arena.NewSliceMemory(heapBytes)
	}

	var alloc heapfit.Allocator
	switch variant {
	case "single":
		s := heapfit.NewSingle(mem)
		if verbose {
			s.SetObserver(logObserver{})
		}

		alloc = s
	case "double":
		d := heapfit.NewDouble(mem)
		if verbose {
			d.SetObserver(logObserver{})
		}

		alloc = d
	default:
		fatal(L, "unknown -variant %q (want single|double)", variant)
	}

	var trace []traceOp
	if tracePath != "" {
		f, err := os.Open(tracePath)
		if err != nil {
			fatal(L, "failed to open trace: %v", err)
		}
		defer f.Close()

		trace, err = parseTrace(f)
		if err != nil {
			fatal(L, "malformed trace: %v", err)
		}
	} else {
		trace = syntheticTrace(rand.New(rand.NewSource(seed)), synthetic)
	}

	if err := run(alloc, trace, check); err != nil {
		fmt.Println(L.fail(err.Error()))
		os.Exit(1)
	}

	fmt.Println(L.ok())
}

// flagSet registers and parses the driver's command-line flags: which
// variant to replay against, where to read a trace from (empty means
// generate one synthetically), how big an arena to reserve, and whether
// to validate invariants after every op or log placement-engine events.
func flagSet(variant, tracePath *string, heapBytes *int, check, verbose *bool, seed *int64, synthetic *int, useMmap *bool) {
	flag.StringVar(variant, "variant", "single", "allocator variant to replay against: single|double")
	flag.StringVar(tracePath, "trace", "", "path to a malloc/free/realloc trace file; empty generates a synthetic trace")
	flag.IntVar(heapBytes, "heap", 64<<20, "bytes to reserve for the arena")
	flag.BoolVar(check, "check", false, "validate every invariant in spec.md section 8 after each op")
	flag.BoolVar(verbose, "verbose", false, "log grow/split/coalesce events to stderr")
	flag.Int64Var(seed, "seed", 1, "PRNG seed for the synthetic trace")
	flag.IntVar(synthetic, "n", 10000, "number of ops in the synthetic trace")
	flag.BoolVar(useMmap, "mmap", false, "back the arena with an anonymous mmap region instead of a Go slice")

	flag.Parse()
}

type traceOp struct {
	kind  string // "malloc", "free", "realloc"
	id    int
	bytes int
}

func parseTrace(f *os.File) ([]traceOp, error) {
	var ops []traceOp

	scanner := bufio.NewScanner(f)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)

		switch fields[0] {
		case "malloc":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: malloc wants 1 arg", lineNo)
			}

			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, heaperrors.InvalidSize(0, fmt.Sprintf("line %d", lineNo))
			}

			ops = append(ops, traceOp{kind: "malloc", bytes: n})
		case "free":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: free wants 1 arg", lineNo)
			}

			id, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad id: %w", lineNo, err)
			}

			ops = append(ops, traceOp{kind: "free", id: id})
		case "realloc":
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: realloc wants 2 args", lineNo)
			}

			id, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad id: %w", lineNo, err)
			}

			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, heaperrors.InvalidSize(0, fmt.Sprintf("line %d", lineNo))
			}

			ops = append(ops, traceOp{kind: "realloc", id: id, bytes: n})
		default:
			return nil, fmt.Errorf("line %d: unknown op %q", lineNo, fields[0])
		}
	}

	return ops, scanner.Err()
}

func syntheticTrace(r *rand.Rand, n int) []traceOp {
	ops := make([]traceOp, 0, n)
	live := 0

	for i := 0; i < n; i++ {
		switch {
		case live == 0 || r.Intn(3) != 0:
			ops = append(ops, traceOp{kind: "malloc", bytes: 1 + r.Intn(512)})
			live++
		default:
			ops = append(ops, traceOp{kind: "free", id: r.Intn(live)})
		}
	}

	return ops
}

func run(alloc heapfit.Allocator, trace []traceOp, check bool) error {
	live := map[int]unsafe.Pointer{}
	order := []int{}
	nextID := 0

	for _, op := range trace {
		switch op.kind {
		case "malloc":
			ptr := alloc.Malloc(op.bytes)
			if ptr == nil && op.bytes != 0 {
				return heaperrors.HeapExhausted(op.bytes, "malloc")
			}

			live[nextID] = ptr
			order = append(order, nextID)
			nextID++
		case "free":
			if len(order) == 0 {
				continue
			}

			id := order[op.id%len(order)]
			alloc.Free(live[id])
			delete(live, id)
		case "realloc":
			if len(order) == 0 {
				continue
			}

			id := order[op.id%len(order)]

			ptr := alloc.Realloc(live[id], op.bytes)
			if ptr == nil && op.bytes != 0 {
				return heaperrors.HeapExhausted(op.bytes, "realloc")
			}

			live[id] = ptr
		}

		if check {
			if err := alloc.Check(); err != nil {
				return fmt.Errorf("invariant violated after %s: %w", op.kind, err)
			}
		}
	}

	return nil
}

type logObserver struct{}

func (logObserver) OnGrow(addedBytes int) { fmt.Fprintf(os.Stderr, "grow +%d bytes\n", addedBytes) }
func (logObserver) OnSplit(leftUnits, rightUnits uint32) {
	fmt.Fprintf(os.Stderr, "split left=%d right=%d\n", leftUnits, rightUnits)
}
func (logObserver) OnCoalesce(absorbedUnits uint32, direction string) {
	fmt.Fprintf(os.Stderr, "coalesce %s absorbed=%d\n", direction, absorbedUnits)
}

type locale struct {
	ok   func() string
	fail func(msg string) string
}

func getLocale() locale {
	return locale{
		ok:   func() string { return "trace replayed, no invariant violated" },
		fail: func(msg string) string { return "trace failed: " + msg },
	}
}

func fatal(L locale, format string, args ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(format, args...))
	os.Exit(1)
}
