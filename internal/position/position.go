package position

import (
	"fmt"
	"math/bits"
)

// Stream position arithmetic. An absolute position P on a stream with
// termBufferLength L = 2^k and initial term id T0 decomposes as
//
//	termId     = T0 + (P >> k)
//	termOffset = P & (L-1)
//
// No read or write may span a term boundary; callers clip at the boundary
// and continue in the next call.

// Null is the sentinel for "no position".
const Null int64 = -1

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo(v int64) bool {
	return v > 0 && v&(v-1) == 0
}

// BitsToShift returns k for termLength = 2^k.
func BitsToShift(termLength int32) uint {
	return uint(bits.TrailingZeros32(uint32(termLength)))
}

// TermID returns the term id containing position for the given geometry.
func TermID(position int64, initialTermID, termLength int32) int32 {
	return initialTermID + int32(position>>BitsToShift(termLength))
}

// TermOffset returns the offset of position within its term.
func TermOffset(position int64, termLength int32) int32 {
	return int32(position & int64(termLength-1))
}

// FromTerm recomposes an absolute position from term id and term offset.
func FromTerm(termID, termOffset, initialTermID, termLength int32) int64 {
	return int64(termID-initialTermID)<<BitsToShift(termLength) + int64(termOffset)
}

// Align rounds v up to the nearest multiple of alignment (a power of two).
func Align(v, alignment int32) int32 {
	return (v + alignment - 1) &^ (alignment - 1)
}

// TermCeil returns the smallest term boundary strictly greater than
// position, i.e. the first position of the next term.
func TermCeil(position int64, termLength int32) int64 {
	l := int64(termLength)
	return (position + l) &^ (l - 1)
}

// SegmentIndex returns the index of the segment file containing position.
func SegmentIndex(position, segmentLength int64) int64 {
	return position / segmentLength
}

// SegmentOffset returns the offset of position within its segment file.
func SegmentOffset(position, segmentLength int64) int64 {
	return position % segmentLength
}

// ValidateGeometry checks the term/segment geometry invariants: both
// lengths are powers of two and the segment length is a multiple of the
// term length.
func ValidateGeometry(termLength int32, segmentLength int64) error {
	if !IsPowerOfTwo(int64(termLength)) {
		return fmt.Errorf("position: term length %d is not a power of two", termLength)
	}
	if !IsPowerOfTwo(segmentLength) {
		return fmt.Errorf("position: segment length %d is not a power of two", segmentLength)
	}
	if segmentLength < int64(termLength) || segmentLength%int64(termLength) != 0 {
		return fmt.Errorf("position: segment length %d is not a multiple of term length %d",
			segmentLength, termLength)
	}
	return nil
}
