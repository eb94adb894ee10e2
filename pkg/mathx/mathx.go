// Package mathx has small generic helpers shared by the firmware and host code.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Between reports lo <= v && v <= hi.
func Between[T constraints.Ordered](v, lo, hi T) bool {
	if hi < lo {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

// Step moves v by delta without leaving [lo, hi].
func Step[T constraints.Integer](v T, delta int, lo, hi T) T {
	switch {
	case delta < 0 && v-lo < T(-delta):
		return lo
	case delta < 0:
		return v - T(-delta)
	case delta > 0 && hi-v < T(delta):
		return hi
	default:
		return v + T(delta)
	}
}
