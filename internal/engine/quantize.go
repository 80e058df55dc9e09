package engine

import "math"

// trim rounds v to the dynamic fixed point grid of the given bit-width and
// fractional length: nearest multiple of 2^-fl, saturating at the
// two's-complement range. A bit-width of zero leaves v untouched.
func trim(v float32, bw, fl int) float32 {
	if bw <= 0 {
		return v
	}
	step := math.Pow(2, float64(-fl))
	maxV := (math.Exp2(float64(bw-1)) - 1) * step
	minV := -math.Exp2(float64(bw-1)) * step

	r := math.Round(float64(v)/step) * step
	if r > maxV {
		r = maxV
	}
	if r < minV {
		r = minV
	}
	return float32(r)
}

func trimSlice(vs []float32, bw, fl int) {
	if bw <= 0 {
		return
	}
	for i, v := range vs {
		vs[i] = trim(v, bw, fl)
	}
}

func maxAbs(vs []float32) float64 {
	var m float64
	for _, v := range vs {
		a := math.Abs(float64(v))
		if a > m {
			m = a
		}
	}
	return m
}
