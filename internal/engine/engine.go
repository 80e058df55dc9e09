// Package engine is the bundled forward runner: a CPU reference
// implementation that executes network descriptions against FXW weights,
// reports per-output scores and loss, and tracks per-layer extrema for the
// calibrator's statistics pass. Fixed point layer variants trim parameters
// at load time and activations at forward time.
package engine

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/lwarden/fixcal/internal/backend"
	"github.com/lwarden/fixcal/internal/calib"
	"github.com/lwarden/fixcal/internal/logger"
	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

// Options configures an Engine.
type Options struct {
	// Device is the resolved compute device. GPU selections are accepted
	// but execution happens on the CPU; the reference engine carries no GPU
	// kernels.
	Device backend.Device
	// Batches supplies calibration data to every network instance.
	Batches BatchSource
	Log     logger.Logger
}

// Engine implements calib.Runner.
type Engine struct {
	opts Options
}

// New creates an Engine. The batch source is shared by all handles; forward
// passes are strictly sequential so no synchronization is needed.
func New(opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = logger.Default()
	}
	if opts.Device.Kind == backend.GPU {
		opts.Log.Warn("gpu requested but the reference engine executes on cpu", "device", opts.Device.String())
	}
	return &Engine{opts: opts}
}

// layerInst is one instantiated layer plus its extrema accumulator.
type layerInst struct {
	name      string
	typ       string
	q         netdesc.Quantization
	node      node
	hasParams bool
	extrema   calib.Extrema
}

// instance is a loaded network; it implements calib.Handle. Each instance
// owns its batch cursor: forward passes start at batch 0 regardless of what
// other instances consumed, so repeated evaluations of the same description
// score the same data window.
type instance struct {
	layers  []*layerInst
	input   shape
	batches BatchSource
	cursor  int
	closed  bool
}

// Load instantiates desc against weights. Incompatible geometry or missing
// tensors fail here, before any forward pass.
func (e *Engine) Load(_ context.Context, desc *netdesc.Description, weights *wfile.File) (calib.Handle, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if e.opts.Batches == nil || e.opts.Batches.Len() == 0 {
		return nil, ErrNoBatches
	}
	if len(desc.Layers) == 0 || desc.Layers[0].Type != netdesc.TypeInput {
		return nil, ErrNoInput
	}

	inst := &instance{batches: e.opts.Batches}
	cur := shape{}
	for i := range desc.Layers {
		l := &desc.Layers[i]
		li := &layerInst{name: l.Name, typ: l.Type}
		if l.Quantization != nil {
			li.q = *l.Quantization
		}

		switch l.Type {
		case netdesc.TypeInput:
			if i != 0 {
				return nil, fmt.Errorf("%w: layer %q: Input must be first", ErrIncompatible, l.Name)
			}
			if len(l.Shape) != 3 {
				return nil, fmt.Errorf("%w: layer %q: Input shape must be [channels, height, width]", ErrIncompatible, l.Name)
			}
			cur = shape{c: l.Shape[0], h: l.Shape[1], w: l.Shape[2]}
			inst.input = cur
			li.node = nil // pass-through

		case netdesc.TypeConvolution, netdesc.TypeConvolutionFixed:
			n, out, err := buildConv(l, cur, weights)
			if err != nil {
				return nil, err
			}
			if li.q.BWParams > 0 {
				trimSlice(n.weights, li.q.BWParams, li.q.FLParams)
				trimSlice(n.bias, li.q.BWParams, li.q.FLParams)
			}
			li.node = n
			li.hasParams = true
			li.extrema.HasParams = true
			li.extrema.MaxParams = max(maxAbs(n.weights), maxAbs(n.bias))
			cur = out

		case netdesc.TypeInnerProduct, netdesc.TypeInnerProductFixed:
			n, out, err := buildFc(l, cur, weights)
			if err != nil {
				return nil, err
			}
			if li.q.BWParams > 0 {
				trimDense(n.weights, li.q.BWParams, li.q.FLParams)
				trimSlice(n.bias, li.q.BWParams, li.q.FLParams)
			}
			li.node = n
			li.hasParams = true
			li.extrema.HasParams = true
			li.extrema.MaxParams = max(maxAbsDense(n.weights), maxAbs(n.bias))
			cur = out

		case netdesc.TypeReLU:
			li.node = reluNode{}

		case netdesc.TypeSoftmax:
			li.node = softmaxNode{}

		case netdesc.TypeMaxPool:
			if l.Kernel <= 0 || l.Stride <= 0 {
				return nil, fmt.Errorf("%w: layer %q: MaxPool needs kernel and stride", ErrIncompatible, l.Name)
			}
			out := shape{
				c: cur.c,
				h: (cur.h-l.Kernel)/l.Stride + 1,
				w: (cur.w-l.Kernel)/l.Stride + 1,
			}
			if out.h <= 0 || out.w <= 0 {
				return nil, fmt.Errorf("%w: layer %q: pooling window exceeds input", ErrIncompatible, l.Name)
			}
			li.node = &poolNode{in: cur, out: out, kernel: l.Kernel, stride: l.Stride}
			cur = out

		case netdesc.TypeAccuracy:
			li.node = accuracyNode{}
			cur = flat(1)

		default:
			return nil, fmt.Errorf("%w: layer %q has type %q", ErrIncompatible, l.Name, l.Type)
		}

		inst.layers = append(inst.layers, li)
	}

	e.opts.Log.Debug("network loaded", "layers", len(inst.layers), "outputs", cur.elems())
	return inst, nil
}

func buildConv(l *netdesc.Layer, in shape, weights *wfile.File) (*convNode, shape, error) {
	if l.Filters <= 0 || l.Kernel <= 0 {
		return nil, shape{}, fmt.Errorf("%w: layer %q: convolution needs filters and kernel", ErrIncompatible, l.Name)
	}
	stride := l.Stride
	if stride == 0 {
		stride = 1
	}
	out := shape{
		c: l.Filters,
		h: (in.h+2*l.Pad-l.Kernel)/stride + 1,
		w: (in.w+2*l.Pad-l.Kernel)/stride + 1,
	}
	if out.h <= 0 || out.w <= 0 {
		return nil, shape{}, fmt.Errorf("%w: layer %q: kernel exceeds input", ErrIncompatible, l.Name)
	}

	w, err := tensorWithElems(weights, l.Name+"/weights", l.Filters*in.c*l.Kernel*l.Kernel)
	if err != nil {
		return nil, shape{}, err
	}
	b, err := tensorWithElems(weights, l.Name+"/bias", l.Filters)
	if err != nil {
		return nil, shape{}, err
	}
	return &convNode{
		in: in, out: out,
		kernel: l.Kernel, stride: stride, pad: l.Pad,
		filters: l.Filters,
		weights: w, bias: b,
	}, out, nil
}

func buildFc(l *netdesc.Layer, in shape, weights *wfile.File) (*fcNode, shape, error) {
	if l.Outputs <= 0 {
		return nil, shape{}, fmt.Errorf("%w: layer %q: inner product needs outputs", ErrIncompatible, l.Name)
	}
	inLen := in.elems()
	w, err := tensorWithElems(weights, l.Name+"/weights", l.Outputs*inLen)
	if err != nil {
		return nil, shape{}, err
	}
	b, err := tensorWithElems(weights, l.Name+"/bias", l.Outputs)
	if err != nil {
		return nil, shape{}, err
	}

	dense := mat.NewDense(l.Outputs, inLen, nil)
	for r := 0; r < l.Outputs; r++ {
		for c := 0; c < inLen; c++ {
			dense.Set(r, c, float64(w[r*inLen+c]))
		}
	}
	return &fcNode{weights: dense, bias: b, inLen: inLen, outputs: l.Outputs}, flat(l.Outputs), nil
}

func tensorWithElems(weights *wfile.File, name string, elems int) ([]float32, error) {
	data, err := weights.Float32s(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatible, err)
	}
	if len(data) != elems {
		return nil, fmt.Errorf("%w: tensor %q has %d elements, expected %d", ErrIncompatible, name, len(data), elems)
	}
	return data, nil
}

func trimDense(d *mat.Dense, bw, fl int) {
	r, c := d.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.Set(i, j, float64(trim(float32(d.At(i, j)), bw, fl)))
		}
	}
}

func maxAbsDense(d *mat.Dense) float64 {
	r, c := d.Dims()
	var m float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := d.At(i, j)
			if v < 0 {
				v = -v
			}
			if v > m {
				m = v
			}
		}
	}
	return m
}

// Forward runs one calibration batch through the network. Scores are the
// final layer's outputs.
func (in *instance) Forward(ctx context.Context) ([]float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	batch, err := in.batches.Batch(in.cursor)
	if err != nil {
		return nil, 0, err
	}
	in.cursor++
	if len(batch.Input) != in.input.elems() {
		return nil, 0, fmt.Errorf("%w: got %d values, input shape needs %d", ErrBatchShape, len(batch.Input), in.input.elems())
	}

	st := &forwardState{label: batch.Label, hasLabel: batch.HasLabel}
	act := batch.Input
	for _, li := range in.layers {
		if li.node == nil { // Input pass-through
			li.extrema.MaxIn = max(li.extrema.MaxIn, maxAbs(act))
			li.extrema.MaxOut = li.extrema.MaxIn
			continue
		}
		if li.q.BWIn > 0 {
			trimmed := make([]float32, len(act))
			copy(trimmed, act)
			trimSlice(trimmed, li.q.BWIn, li.q.FLIn)
			act = trimmed
		}
		li.extrema.MaxIn = max(li.extrema.MaxIn, maxAbs(act))

		out, err := li.node.forward(st, act)
		if err != nil {
			return nil, 0, fmt.Errorf("engine: layer %q: %w", li.name, err)
		}
		if li.q.BWOut > 0 {
			trimSlice(out, li.q.BWOut, li.q.FLOut)
		}
		li.extrema.MaxOut = max(li.extrema.MaxOut, maxAbs(out))
		act = out
	}

	scores := make([]float64, len(act))
	for i, v := range act {
		scores[i] = float64(v)
	}
	return scores, st.loss, nil
}

// LayerExtrema reports the running maxima observed so far.
func (in *instance) LayerExtrema() map[string]calib.Extrema {
	out := make(map[string]calib.Extrema, len(in.layers))
	for _, li := range in.layers {
		out[li.name] = li.extrema
	}
	return out
}

// Close releases the instance. The engine holds no per-instance resources
// beyond its layer buffers, so this only guards against reuse.
func (in *instance) Close() error {
	in.closed = true
	in.layers = nil
	return nil
}
