// Package class holds the segregated size-class table shared by both
// allocator variants, factored out the way allocator.go factors
// sizeClasses/getSizeClass out of any one allocator implementation.
package class

// Count is the number of free-list buckets.
const Count = 11

// Small classes (0-6) are exact-fit: one payload-unit resolution,
// served head-first with no size search. Medium classes (7-9) and the
// large class (10) are scanned first-fit.
const (
	SmallMax  = 6
	MediumMin = 7
	MediumMax = 9
	Large     = 10
)

// IsSmall reports whether a class index is in the exact-fit range.
func IsSmall(c uint32) bool { return c <= SmallMax }

// Of maps a stored size (payload units minus one) to its class index
// per the piecewise table in the block layout: classes 0-6 map
// 1:1 to stored sizes 0-6, 7 covers 7-14, 8 covers 15-30, 9 covers
// 31-62, 10 covers everything at or above 63.
func Of(storedSize uint32) uint32 {
	switch {
	case storedSize <= 6:
		return storedSize
	case storedSize <= 14:
		return MediumMin
	case storedSize <= 30:
		return MediumMin + 1
	case storedSize <= 62:
		return MediumMax
	default:
		return Large
	}
}
