package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// NextPow2 rounds number up to the nearest power of two. Values of 1 or less round to 1.
func NextPow2[T Number](number T) T {
	if number <= 1 {
		return 1
	}
	return T(1) << bits.Len(uint(number-1))
}

// Log2 returns the base-2 logarithm of a power of two
func Log2[T Number](number T) int {
	return bits.Len(uint(number)) - 1
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}
