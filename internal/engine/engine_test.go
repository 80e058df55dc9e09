package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/lwarden/fixcal/internal/backend"
	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

func writeWeights(t *testing.T, tensors map[string]struct {
	dims []int
	data []float32
}) *wfile.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "w.fxw")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := wfile.NewWriter(f)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	for name, tt := range tensors {
		if err := w.AddTensor(name, tt.dims, tt.data); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wf, err := wfile.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = wf.Close() })
	return wf
}

type tensorSpec = struct {
	dims []int
	data []float32
}

// fcNet is a 4-input, 2-output single inner product network.
func fcNet() *netdesc.Description {
	return &netdesc.Description{
		Layers: []netdesc.Layer{
			{Name: "data", Type: netdesc.TypeInput, Shape: []int{4, 1, 1}},
			{Name: "fc1", Type: netdesc.TypeInnerProduct, Outputs: 2},
		},
	}
}

func fcWeights(t *testing.T) *wfile.File {
	return writeWeights(t, map[string]tensorSpec{
		"fc1/weights": {dims: []int{2, 4}, data: []float32{
			1, 0, 0, 0,
			0, 1, 1, 0,
		}},
		"fc1/bias": {dims: []int{2}, data: []float32{0.5, -1}},
	})
}

func TestForwardInnerProduct(t *testing.T) {
	t.Parallel()

	e := New(Options{
		Device:  backend.Device{Kind: backend.CPU},
		Batches: &SliceSource{Batches: []Batch{{Input: []float32{1, 2, 3, 4}}}},
	})
	h, err := e.Load(context.Background(), fcNet(), fcWeights(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer func() { _ = h.Close() }()

	scores, loss, err := h.Forward(context.Background())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if loss != 0 {
		t.Fatalf("loss = %v, want 0 without accuracy layer", loss)
	}
	// fc1: [1*1+0.5, 2+3-1] = [1.5, 4]
	if len(scores) != 2 || math.Abs(scores[0]-1.5) > 1e-6 || math.Abs(scores[1]-4) > 1e-6 {
		t.Fatalf("scores = %v, want [1.5 4]", scores)
	}
}

func TestForwardTracksExtrema(t *testing.T) {
	t.Parallel()

	e := New(Options{Batches: &SliceSource{Batches: []Batch{
		{Input: []float32{1, 2, 3, 4}},
		{Input: []float32{-6, 0, 0, 0}},
	}}})
	h, err := e.Load(context.Background(), fcNet(), fcWeights(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer func() { _ = h.Close() }()

	for i := 0; i < 2; i++ {
		if _, _, err := h.Forward(context.Background()); err != nil {
			t.Fatalf("forward %d: %v", i, err)
		}
	}
	ex := h.LayerExtrema()

	fc := ex["fc1"]
	if !fc.HasParams {
		t.Fatalf("fc1 should report parameters")
	}
	if fc.MaxParams != 1 {
		t.Fatalf("fc1 MaxParams = %v, want 1", fc.MaxParams)
	}
	// Batch 2 input has |-6| = 6; running maxima never decrease.
	if fc.MaxIn != 6 {
		t.Fatalf("fc1 MaxIn = %v, want 6", fc.MaxIn)
	}
	// Batch 1 output [1.5 4]; batch 2 output [-5.5 -1]: max |.| = 5.5.
	if fc.MaxOut != 5.5 {
		t.Fatalf("fc1 MaxOut = %v, want 5.5", fc.MaxOut)
	}
	if _, ok := ex["data"]; !ok {
		t.Fatalf("input layer missing from extrema")
	}
}

func TestQuantizedParamsChangeScores(t *testing.T) {
	t.Parallel()

	desc := fcNet()
	weights := writeWeights(t, map[string]tensorSpec{
		"fc1/weights": {dims: []int{2, 4}, data: []float32{
			0.3, 0, 0, 0,
			0, 0.3, 0, 0,
		}},
		"fc1/bias": {dims: []int{2}, data: []float32{0, 0}},
	})

	run := func(d *netdesc.Description) []float64 {
		e := New(Options{Batches: &SliceSource{Batches: []Batch{{Input: []float32{1, 1, 0, 0}}}}})
		h, err := e.Load(context.Background(), d, weights)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		defer func() { _ = h.Close() }()
		scores, _, err := h.Forward(context.Background())
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		return scores
	}

	full := run(desc)
	if math.Abs(full[0]-0.3) > 1e-6 {
		t.Fatalf("full precision score = %v, want 0.3", full[0])
	}

	q := desc.Clone()
	q.Layers[1].Type = netdesc.TypeInnerProductFixed
	// 2 fractional bits: 0.3 rounds to 0.25.
	q.Layers[1].Quantization = &netdesc.Quantization{BWParams: 8, FLParams: 2}
	quant := run(q)
	if math.Abs(quant[0]-0.25) > 1e-6 {
		t.Fatalf("quantized score = %v, want 0.25", quant[0])
	}
}

func TestConvPoolAccuracyPipeline(t *testing.T) {
	t.Parallel()

	desc := &netdesc.Description{
		Layers: []netdesc.Layer{
			{Name: "data", Type: netdesc.TypeInput, Shape: []int{1, 4, 4}},
			{Name: "conv1", Type: netdesc.TypeConvolution, Filters: 1, Kernel: 3, Stride: 1, Pad: 1},
			{Name: "relu1", Type: netdesc.TypeReLU},
			{Name: "pool1", Type: netdesc.TypeMaxPool, Kernel: 2, Stride: 2},
			{Name: "fc1", Type: netdesc.TypeInnerProduct, Outputs: 2},
			{Name: "prob", Type: netdesc.TypeSoftmax},
			{Name: "accuracy", Type: netdesc.TypeAccuracy},
		},
	}

	// Identity 3x3 kernel (center tap 1): conv output equals its input.
	kernel := make([]float32, 9)
	kernel[4] = 1
	fcW := make([]float32, 2*4)
	fcW[0] = 1 // output 0 sees pool cell 0
	fcW[7] = 1 // output 1 sees pool cell 3
	weights := writeWeights(t, map[string]tensorSpec{
		"conv1/weights": {dims: []int{1, 1, 3, 3}, data: kernel},
		"conv1/bias":    {dims: []int{1}, data: []float32{0}},
		"fc1/weights":   {dims: []int{2, 4}, data: fcW},
		"fc1/bias":      {dims: []int{2}, data: []float32{0, 0}},
	})

	input := make([]float32, 16)
	input[0] = 4 // top-left dominates pool cell 0
	e := New(Options{Batches: &SliceSource{Batches: []Batch{{Input: input, Label: 0, HasLabel: true}}}})
	h, err := e.Load(context.Background(), desc, weights)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer func() { _ = h.Close() }()

	scores, loss, err := h.Forward(context.Background())
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(scores) != 1 || scores[0] != 1 {
		t.Fatalf("accuracy = %v, want [1]", scores)
	}
	if loss <= 0 {
		t.Fatalf("loss = %v, want positive nll", loss)
	}
}

func TestLoadRejectsIncompatibleWeights(t *testing.T) {
	t.Parallel()

	weights := writeWeights(t, map[string]tensorSpec{
		"fc1/weights": {dims: []int{2, 3}, data: make([]float32, 6)},
		"fc1/bias":    {dims: []int{2}, data: make([]float32, 2)},
	})
	e := New(Options{Batches: &SliceSource{Batches: []Batch{{Input: make([]float32, 4)}}}})
	if _, err := e.Load(context.Background(), fcNet(), weights); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("err = %v, want ErrIncompatible", err)
	}

	missing := writeWeights(t, map[string]tensorSpec{
		"fc1/bias": {dims: []int{2}, data: make([]float32, 2)},
	})
	if _, err := e.Load(context.Background(), fcNet(), missing); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("missing tensor err = %v, want ErrIncompatible", err)
	}
}

func TestTrim(t *testing.T) {
	t.Parallel()

	if got := trim(0.377, 8, 5); math.Abs(float64(got)-0.375) > 1e-9 {
		t.Fatalf("trim(0.377, 8, 5) = %v, want 0.375", got)
	}
	// Saturation at the two's-complement range.
	if got := trim(9.2, 4, 0); got != 7 {
		t.Fatalf("trim(9.2, 4, 0) = %v, want 7", got)
	}
	if got := trim(-9.2, 4, 0); got != -8 {
		t.Fatalf("trim(-9.2, 4, 0) = %v, want -8", got)
	}
	// Zero bit-width leaves values alone.
	if got := trim(0.377, 0, 5); got != 0.377 {
		t.Fatalf("trim with bw=0 = %v, want passthrough", got)
	}
}

func TestFileSourceCycles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data.fxw")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := wfile.NewWriter(f)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	for i := 0; i < 2; i++ {
		in := []float32{float32(i), 0}
		if err := w.AddTensor(fmt.Sprintf("batch/%d/input", i), []int{2}, in); err != nil {
			t.Fatalf("add input %d: %v", i, err)
		}
		if err := w.AddTensor(fmt.Sprintf("batch/%d/label", i), []int{1}, []float32{1}); err != nil {
			t.Fatalf("add label %d: %v", i, err)
		}
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	wf, err := wfile.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = wf.Close() }()

	src, err := NewFileSource(wf)
	if err != nil {
		t.Fatalf("file source: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Len = %d, want 2", src.Len())
	}
	for i := 0; i < 5; i++ {
		b, err := src.Batch(i)
		if err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		if b.Input[0] != float32(i%2) {
			t.Fatalf("batch %d input = %v, want %v (cycling)", i, b.Input[0], i%2)
		}
		if !b.HasLabel || b.Label != 1 {
			t.Fatalf("batch %d label = %+v", i, b)
		}
	}
}

// Two instances running the same iteration count must consume the same
// batches, even when the count is not a multiple of the dataset size.
func TestInstancesScoreSameWindow(t *testing.T) {
	t.Parallel()

	e := New(Options{Batches: &SliceSource{Batches: []Batch{
		{Input: []float32{1, 0, 0, 0}},
		{Input: []float32{2, 0, 0, 0}},
		{Input: []float32{4, 0, 0, 0}},
	}}})
	weights := fcWeights(t)

	run := func() []float64 {
		h, err := e.Load(context.Background(), fcNet(), weights)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		defer func() { _ = h.Close() }()
		var sums []float64
		for i := 0; i < 2; i++ {
			scores, _, err := h.Forward(context.Background())
			if err != nil {
				t.Fatalf("forward %d: %v", i, err)
			}
			if sums == nil {
				sums = make([]float64, len(scores))
			}
			for j, s := range scores {
				sums[j] += s
			}
		}
		return sums
	}

	first := run()
	second := run()
	for j := range first {
		if first[j] != second[j] {
			t.Fatalf("output %d differs between instances: %v vs %v", j, first[j], second[j])
		}
	}
	// 2 iterations over a 3-batch source must see batches 0 and 1:
	// fc output 0 is input[0] + 0.5, so the sum is (1+0.5)+(2+0.5) = 4.
	if first[0] != 4 {
		t.Fatalf("summed output = %v, want 4 (batches 0 and 1)", first[0])
	}
}
