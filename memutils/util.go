package memutils

import (
	"github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~int64 | ~uint64
}

// CheckPow2 returns an error wrapping ErrPowerOfTwo if number is zero or is not a power of two
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return errors.Wrapf(ErrPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the next multiple of alignment, which must be a power of two
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the previous multiple of alignment, which must be a power of two
func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// IsAligned reports whether value is a multiple of alignment
func IsAligned(value int, alignment uint) bool {
	return value&int(alignment-1) == 0
}

// MaxAlignment returns the larger of two power-of-two alignments. Since both are powers of two,
// the larger one is a multiple of the smaller one.
func MaxAlignment(a, b uint) uint {
	if a > b {
		return a
	}
	return b
}
