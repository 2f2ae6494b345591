package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uint64
}

// CheckPow2 returns an error wrapping PowerOfTwoError if number is not a power of two. Zero is rejected
// as well, since no layout can be aligned to it.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckNonZero returns an error wrapping ZeroValueError if number is zero
func CheckNonZero[T Number](number T, name string) error {
	if number == 0 {
		return cerrors.Wrapf(ZeroValueError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T Number](value T, alignment uint) T {
	return (value + T(alignment) - 1) & ^(T(alignment) - 1)
}

func IsAligned[T Number](value T, alignment uint) bool {
	return value&(T(alignment)-1) == 0
}
