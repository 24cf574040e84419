// Package zkapcost implements the cost function: the mapping from an
// operation's shape (sizes of shares touched, or the write vectors applied
// to a mutable slot) to the number of passes required to authorize it.
package zkapcost

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned when bytesPerPass is not positive, or
// when a share size is negative. Ordering is not checked at runtime.
var ErrInvalidArgument = errors.New("zkapcost: invalid argument")

// OrderedSizes is a sequence of non-negative share sizes in a caller-
// determined, stable order. The Python original accepted either a list or
// a set and rejected the set at runtime because an unordered collection
// would quantize nondeterministically; in Go we additionally make the
// ordering requirement a type-level property by asking callers to build
// one of these instead of handing over a bare slice pulled from a map.
type OrderedSizes []int64

// FromSlice wraps an already-ordered slice of sizes. Use this when the
// order is already known to be stable (e.g. it came from another
// OrderedSizes, or from iterating a slice the caller controls).
func FromSlice(sizes []int64) OrderedSizes {
	out := make(OrderedSizes, len(sizes))
	copy(out, sizes)
	return out
}

// RequiredPasses returns ceil(sum(shareSizes) / bytesPerPass).
func RequiredPasses(bytesPerPass int64, shareSizes OrderedSizes) (int64, error) {
	if bytesPerPass < 1 {
		return 0, fmt.Errorf("%w: bytesPerPass must be >= 1, got %d", ErrInvalidArgument, bytesPerPass)
	}
	var total int64
	for _, s := range shareSizes {
		if s < 0 {
			return 0, fmt.Errorf("%w: share size must be >= 0, got %d", ErrInvalidArgument, s)
		}
		total += s
	}
	return ceilDiv(total, bytesPerPass), nil
}

// WriteVector describes one contiguous write applied to a mutable share:
// starting at Offset, replacing or extending the share with len(Data)
// bytes.
type WriteVector struct {
	Offset int64
	Data   []byte
}

// impliedLength returns the share length that would result from applying
// vectors to a share of currentLength bytes.
func impliedLength(currentLength int64, vectors []WriteVector) int64 {
	length := currentLength
	for _, v := range vectors {
		end := v.Offset + int64(len(v.Data))
		if end > length {
			length = end
		}
	}
	return length
}

// RequiredNewPassesForMutableWrite computes, per share, the implied new
// length after applying writeVectors, subtracts the current stored length
// (clamped at zero so shrinking writes cost nothing), and returns
// RequiredPasses on the sum of those increases. Shares with no entry in
// writeVectors are untouched and contribute nothing. currentSizes maps
// share number to its presently stored size; shares absent from
// currentSizes are treated as currently empty (size 0).
func RequiredNewPassesForMutableWrite(bytesPerPass int64, currentSizes map[uint64]int64, writeVectors map[uint64][]WriteVector) (int64, error) {
	if bytesPerPass < 1 {
		return 0, fmt.Errorf("%w: bytesPerPass must be >= 1, got %d", ErrInvalidArgument, bytesPerPass)
	}
	if len(writeVectors) == 0 {
		// Read-only operations cost 0.
		return 0, nil
	}

	increases := make(OrderedSizes, 0, len(writeVectors))
	for sharenum, vectors := range writeVectors {
		current := currentSizes[sharenum]
		newLength := impliedLength(current, vectors)
		increase := newLength - current
		if increase < 0 {
			increase = 0
		}
		increases = append(increases, increase)
	}
	return RequiredPasses(bytesPerPass, increases)
}

func ceilDiv(numerator, denominator int64) int64 {
	if numerator <= 0 {
		return 0
	}
	return (numerator + denominator - 1) / denominator
}
