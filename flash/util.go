package flash

import (
	"golang.org/x/exp/constraints"
)

// clamp will limit v to the range [lo, hi]
func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// padImage will extend bs with erased (0xFF) bytes up to size
func padImage(bs []byte, size int) []byte {
	if len(bs) >= size {
		return bs
	}
	out := make([]byte, size)
	copy(out, bs)
	for i := len(bs); i < size; i++ {
		out[i] = 0xff
	}
	return out
}
