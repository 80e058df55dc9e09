// Package dfp implements the dynamic fixed point number policy used by the
// calibrator: per-layer integer lengths derived from observed value ranges,
// and the bit-width / fractional-length arithmetic built on top of them.
package dfp

import "math"

// Epsilon guards IntegerLength against log2(0) when a recorded maximum is
// exactly zero (eg an extremum that was never observed).
const Epsilon = 1e-8

// LengthFunc converts the largest absolute value observed for a quantity
// into the number of integer bits needed to represent it without saturation.
type LengthFunc func(maxAbs float64) int

// IntegerLength is the default LengthFunc. It assumes an infinitely long
// fractional part; the +1 inside the log covers the sign bit of a
// two's-complement fixed point value. This is a documented heuristic rather
// than a proven-optimal formula, which is why LengthFunc stays pluggable.
func IntegerLength(maxAbs float64) int {
	return int(math.Ceil(math.Log2(maxAbs + Epsilon + 1)))
}

// FracLength returns the fractional length for a value quantized to
// bitwidth total bits with il integer bits.
func FracLength(bitwidth, il int) int {
	return bitwidth - il
}

// Bitwidth reconstructs the total bit-width from a fractional length and an
// integer length. It is the exact inverse of FracLength.
func Bitwidth(frac, il int) int {
	return frac + il
}
