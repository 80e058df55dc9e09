package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// shape is the rank-3 activation geometry flowing between layers. Flat
// vectors use channels=len, height=width=1.
type shape struct {
	c, h, w int
}

func (s shape) elems() int { return s.c * s.h * s.w }

func flat(n int) shape { return shape{c: n, h: 1, w: 1} }

// forwardState carries per-batch context through the layer chain.
type forwardState struct {
	label    int
	hasLabel bool
	loss     float64
}

type node interface {
	forward(st *forwardState, in []float32) ([]float32, error)
}

type reluNode struct{}

func (reluNode) forward(_ *forwardState, in []float32) ([]float32, error) {
	out := make([]float32, len(in))
	for i, v := range in {
		if v > 0 {
			out[i] = v
		}
	}
	return out, nil
}

type softmaxNode struct{}

func (softmaxNode) forward(_ *forwardState, in []float32) ([]float32, error) {
	out := make([]float32, len(in))
	maxV := float32(math.Inf(-1))
	for _, v := range in {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range in {
		e := math.Exp(float64(v - maxV))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out, nil
}

// accuracyNode scores a classification batch: output is 1 when the argmax of
// its input matches the batch label, else 0. It also charges the negative
// log likelihood of the label to the batch loss.
type accuracyNode struct{}

func (accuracyNode) forward(st *forwardState, in []float32) ([]float32, error) {
	if !st.hasLabel {
		return nil, ErrNoLabel
	}
	if st.label < 0 || st.label >= len(in) {
		return nil, fmt.Errorf("engine: label %d out of range for %d outputs", st.label, len(in))
	}
	argmax := 0
	for i, v := range in {
		if v > in[argmax] {
			argmax = i
		}
	}
	p := math.Max(float64(in[st.label]), 1e-12)
	st.loss += -math.Log(p)
	if argmax == st.label {
		return []float32{1}, nil
	}
	return []float32{0}, nil
}

type poolNode struct {
	in, out        shape
	kernel, stride int
}

func (p *poolNode) forward(_ *forwardState, in []float32) ([]float32, error) {
	out := make([]float32, p.out.elems())
	for c := 0; c < p.in.c; c++ {
		for oy := 0; oy < p.out.h; oy++ {
			for ox := 0; ox < p.out.w; ox++ {
				m := float32(math.Inf(-1))
				for ky := 0; ky < p.kernel; ky++ {
					for kx := 0; kx < p.kernel; kx++ {
						iy := oy*p.stride + ky
						ix := ox*p.stride + kx
						if iy >= p.in.h || ix >= p.in.w {
							continue
						}
						v := in[(c*p.in.h+iy)*p.in.w+ix]
						if v > m {
							m = v
						}
					}
				}
				out[(c*p.out.h+oy)*p.out.w+ox] = m
			}
		}
	}
	return out, nil
}

type convNode struct {
	in, out             shape
	kernel, stride, pad int
	filters             int
	weights             []float32 // [filters][inC][kernel][kernel]
	bias                []float32 // [filters]
}

func (cv *convNode) forward(_ *forwardState, in []float32) ([]float32, error) {
	out := make([]float32, cv.out.elems())
	k := cv.kernel
	for f := 0; f < cv.filters; f++ {
		for oy := 0; oy < cv.out.h; oy++ {
			for ox := 0; ox < cv.out.w; ox++ {
				sum := cv.bias[f]
				for c := 0; c < cv.in.c; c++ {
					for ky := 0; ky < k; ky++ {
						iy := oy*cv.stride - cv.pad + ky
						if iy < 0 || iy >= cv.in.h {
							continue
						}
						for kx := 0; kx < k; kx++ {
							ix := ox*cv.stride - cv.pad + kx
							if ix < 0 || ix >= cv.in.w {
								continue
							}
							w := cv.weights[((f*cv.in.c+c)*k+ky)*k+kx]
							sum += in[(c*cv.in.h+iy)*cv.in.w+ix] * w
						}
					}
				}
				out[(f*cv.out.h+oy)*cv.out.w+ox] = sum
			}
		}
	}
	return out, nil
}

type fcNode struct {
	weights *mat.Dense // outputs x inLen
	bias    []float32
	inLen   int
	outputs int
}

func (fc *fcNode) forward(_ *forwardState, in []float32) ([]float32, error) {
	x := mat.NewVecDense(fc.inLen, nil)
	for i, v := range in {
		x.SetVec(i, float64(v))
	}
	var y mat.VecDense
	y.MulVec(fc.weights, x)

	out := make([]float32, fc.outputs)
	for i := range out {
		out[i] = float32(y.AtVec(i)) + fc.bias[i]
	}
	return out, nil
}
