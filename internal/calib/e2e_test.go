package calib_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lwarden/fixcal/internal/calib"
	"github.com/lwarden/fixcal/internal/engine"
	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

// TestCalibrationAgainstEngine runs a full calibration against the bundled
// CPU engine. The network is built so every value sits exactly on the 8-bit
// fixed point grid, making the quantized accuracy equal the baseline.
func TestCalibrationAgainstEngine(t *testing.T) {
	t.Parallel()

	desc := &netdesc.Description{
		Name: "tiny",
		Layers: []netdesc.Layer{
			{Name: "data", Type: netdesc.TypeInput, Shape: []int{2, 1, 1}},
			{Name: "fc1", Type: netdesc.TypeInnerProduct, Outputs: 1},
		},
	}

	path := filepath.Join(t.TempDir(), "w.fxw")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := wfile.NewWriter(f)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if err := w.AddTensor("fc1/weights", []int{1, 2}, []float32{0.5, 0.25}); err != nil {
		t.Fatalf("add weights: %v", err)
	}
	if err := w.AddTensor("fc1/bias", []int{1}, []float32{0}); err != nil {
		t.Fatalf("add bias: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	weights, err := wfile.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = weights.Close() }()

	runner := engine.New(engine.Options{Batches: &engine.SliceSource{Batches: []engine.Batch{
		{Input: []float32{1.0, 0.5}}, // fc1 output 0.625
		{Input: []float32{0.5, 0.5}}, // fc1 output 0.375
	}}})

	out := filepath.Join(t.TempDir(), "quantized.json")
	cal := calib.New(runner, desc, weights, calib.Options{
		TrimmingMode:   calib.TrimmingDynamicFixedPoint,
		Iterations:     2,
		WeightBits:     []int{8},
		ActivationBits: []int{8},
		OutputPath:     out,
	}, nil)

	res, err := cal.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Mean of the two outputs at score index 0.
	if res.Baseline != 0.5 {
		t.Fatalf("baseline = %v, want 0.5", res.Baseline)
	}
	// Weights 0.5/0.25, inputs halves and the outputs 0.625/0.375 are all
	// representable at the derived fractional lengths, so nothing degrades.
	if res.Combined != res.Baseline {
		t.Fatalf("combined = %v, baseline = %v; expected lossless quantization", res.Combined, res.Baseline)
	}
	if res.ConvWeights.Bitwidth != 8 || res.FcWeights.Bitwidth != 8 || res.Activations.Bitwidth != 8 {
		t.Fatalf("unexpected winners: %+v %+v %+v", res.ConvWeights, res.FcWeights, res.Activations)
	}

	loaded, err := netdesc.Load(out)
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	fc := loaded.Layer("fc1")
	if fc == nil || fc.Type != netdesc.TypeInnerProductFixed {
		t.Fatalf("written fc1 = %+v", fc)
	}
	q := fc.Quantization
	// maxAbs params 0.5 -> il 1 -> fl 7; in 1.0 -> il 2 -> fl 6;
	// out 0.625 -> il 1 -> fl 7.
	if q.BWParams != 8 || q.FLParams != 7 {
		t.Fatalf("params quantization = %+v, want 8/7", q)
	}
	if q.BWIn != 8 || q.FLIn != 6 {
		t.Fatalf("input quantization = %+v, want 8/6", q)
	}
	if q.BWOut != 8 || q.FLOut != 7 {
		t.Fatalf("output quantization = %+v, want 8/7", q)
	}
}

// TestEvaluateRepeatable scores the same description twice with an iteration
// count that does not divide the dataset size. Both evaluations must see the
// same batches from the start of the source, so the accuracies must match.
func TestEvaluateRepeatable(t *testing.T) {
	t.Parallel()

	desc := &netdesc.Description{
		Name: "single",
		Layers: []netdesc.Layer{
			{Name: "data", Type: netdesc.TypeInput, Shape: []int{1, 1, 1}},
			{Name: "fc1", Type: netdesc.TypeInnerProduct, Outputs: 1},
		},
	}

	path := filepath.Join(t.TempDir(), "w.fxw")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := wfile.NewWriter(f)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	if err := w.AddTensor("fc1/weights", []int{1, 1}, []float32{1}); err != nil {
		t.Fatalf("add weights: %v", err)
	}
	if err := w.AddTensor("fc1/bias", []int{1}, []float32{0}); err != nil {
		t.Fatalf("add bias: %v", err)
	}
	if err := w.Finalise(); err != nil {
		t.Fatalf("finalise: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	weights, err := wfile.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = weights.Close() }()

	runner := engine.New(engine.Options{Batches: &engine.SliceSource{Batches: []engine.Batch{
		{Input: []float32{1}},
		{Input: []float32{2}},
		{Input: []float32{3}},
	}}})
	ev := &calib.Evaluator{Runner: runner}

	first, err := ev.Evaluate(context.Background(), desc, weights, 2)
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	second, err := ev.Evaluate(context.Background(), desc, weights, 2)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	// The network passes its input through, so two iterations over batches
	// 0 and 1 average to 1.5.
	if first != 1.5 {
		t.Fatalf("first evaluation = %v, want 1.5", first)
	}
	if second != first {
		t.Fatalf("second evaluation = %v, first = %v; evaluations must score the same window", second, first)
	}
}
