package calib

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lwarden/fixcal/internal/logger"
	"github.com/lwarden/fixcal/pkg/dfp"
	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

// TrimmingDynamicFixedPoint is the only trimming mode this calibrator
// implements. Any other selector is rejected before computation begins.
const TrimmingDynamicFixedPoint = "dynamic_fixed_point"

// Stage names the steps of one calibration run. Stages are strictly linear;
// a stage never starts before its predecessor's accuracy is known.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageBaseline    Stage = "baseline_measured"
	StageConv        Stage = "conv_evaluated"
	StageFc          Stage = "fc_evaluated"
	StageActivations Stage = "activations_evaluated"
	StageCombined    Stage = "combined_evaluated"
	StageDone        Stage = "done"
)

// Options configures one calibration run.
type Options struct {
	// TrimmingMode must be TrimmingDynamicFixedPoint.
	TrimmingMode string
	// Iterations is the number of calibration batches per pass. Must be > 0.
	Iterations int
	// WeightBits and ActivationBits are ordered candidate lists per
	// category. A single-point search passes lists of length one.
	WeightBits     []int
	ActivationBits []int
	// ScoreIndex designates the output position whose mean is the accuracy.
	ScoreIndex int
	// AccuracyMargin widens selection: among candidates within this margin
	// of the best accuracy, the smallest bit-width wins. Zero keeps the
	// best-accuracy candidate (ties go to the smaller width).
	AccuracyMargin float64
	// OutputPath, when set, receives the combined quantized description.
	// Write permission is probed before any computation.
	OutputPath string
	// LengthFunc overrides the integer-length heuristic. Nil uses the
	// default.
	LengthFunc dfp.LengthFunc
}

// Calibrator drives the calibration search over a fixed base description and
// weights blob. The weights are shared read-only by every candidate; each
// candidate owns its freshly built description.
type Calibrator struct {
	runner  Runner
	base    *netdesc.Description
	weights *wfile.File
	opts    Options
	log     logger.Logger

	stage Stage
}

// New creates a Calibrator. The base description and weights are not copied;
// the calibrator never mutates them.
func New(runner Runner, base *netdesc.Description, weights *wfile.File, opts Options, log logger.Logger) *Calibrator {
	if log == nil {
		log = logger.Default()
	}
	return &Calibrator{
		runner:  runner,
		base:    base,
		weights: weights,
		opts:    opts,
		log:     log,
		stage:   StageIdle,
	}
}

// Stage reports the most recently completed calibration stage.
func (c *Calibrator) Stage() Stage { return c.stage }

func (c *Calibrator) validate() error {
	if c.opts.TrimmingMode != TrimmingDynamicFixedPoint {
		return fmt.Errorf("%w: %q", ErrUnknownTrimming, c.opts.TrimmingMode)
	}
	if c.opts.Iterations <= 0 {
		return fmt.Errorf("%w: %d", ErrIterations, c.opts.Iterations)
	}
	if len(c.opts.WeightBits) == 0 || len(c.opts.ActivationBits) == 0 {
		return ErrNoCandidates
	}
	if err := c.base.Validate(); err != nil {
		return err
	}
	if c.opts.OutputPath != "" {
		if err := probeWritable(c.opts.OutputPath); err != nil {
			return err
		}
	}
	return nil
}

// probeWritable verifies the output path can be created, then removes the
// probe so a failed run leaves nothing behind.
func probeWritable(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("calib: output path not writable: %w", err)
	}
	_ = f.Close()
	return os.Remove(path)
}

func (c *Calibrator) advance(s Stage) {
	c.stage = s
	c.log.Debug("stage complete", "stage", string(s))
}

// Run executes the full search: baseline, three independent single-category
// passes, then the combined candidate. It returns the aggregate result and,
// when OutputPath is set, writes the combined description. On failure
// nothing is written.
func (c *Calibrator) Run(ctx context.Context) (*Result, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:        uuid.NewString(),
		TrimmingMode: c.opts.TrimmingMode,
		Iterations:   c.opts.Iterations,
		StartedAt:    time.Now().UTC(),
	}
	log := c.log.With("run", res.RunID)

	// Baseline pass fixes the statistics and baseline accuracy for the rest
	// of the run.
	collector := &Collector{Runner: c.runner, ScoreIndex: c.opts.ScoreIndex, Log: log}
	baseline, ranges, err := collector.Collect(ctx, c.base, c.weights, c.opts.Iterations)
	if err != nil {
		return nil, err
	}
	res.Baseline = baseline
	table := dfp.NewTable(ranges, c.opts.LengthFunc)
	for _, r := range ranges {
		in, _ := table.InputLength(r.Name)
		out, _ := table.OutputLength(r.Name)
		attrs := []any{"layer", r.Name, "il_in", in, "il_out", out}
		if r.HasParams {
			params, _ := table.ParamsLength(r.Name)
			attrs = append(attrs, "il_params", params)
		}
		log.Info("integer lengths", attrs...)
	}
	c.advance(StageBaseline)

	builder := &Builder{Lengths: table}
	eval := &Evaluator{Runner: c.runner, ScoreIndex: c.opts.ScoreIndex, Log: log}

	// Convolution weights only.
	convCands, err := c.scoreCategory(ctx, builder, eval, c.opts.WeightBits, func(bw int) (Category, Aspect, Widths) {
		return CategoryConvolution, AspectParameters, Widths{ConvParams: bw, FcParams: Unquantized, In: Unquantized, Out: Unquantized}
	})
	if err != nil {
		return nil, err
	}
	res.ConvWeights = selectCandidate(convCands, c.opts.AccuracyMargin)
	c.advance(StageConv)

	// Fully connected weights only.
	fcCands, err := c.scoreCategory(ctx, builder, eval, c.opts.WeightBits, func(bw int) (Category, Aspect, Widths) {
		return CategoryInnerProduct, AspectParameters, Widths{ConvParams: Unquantized, FcParams: bw, In: Unquantized, Out: Unquantized}
	})
	if err != nil {
		return nil, err
	}
	res.FcWeights = selectCandidate(fcCands, c.opts.AccuracyMargin)
	c.advance(StageFc)

	// Activations of both layer kinds, parameters full precision. The same
	// bit-width is used for inputs and outputs.
	actCands, err := c.scoreCategory(ctx, builder, eval, c.opts.ActivationBits, func(bw int) (Category, Aspect, Widths) {
		return CategoryBoth, AspectActivations, Widths{ConvParams: Unquantized, FcParams: Unquantized, In: bw, Out: bw}
	})
	if err != nil {
		return nil, err
	}
	res.Activations = selectCandidate(actCands, c.opts.AccuracyMargin)
	c.advance(StageActivations)

	// Combined candidate: all three choices applied at once. Its accuracy is
	// the representative result of the calibration.
	combined, err := builder.Build(c.base, CategoryBoth, AspectBoth, Widths{
		ConvParams: res.ConvWeights.Bitwidth,
		FcParams:   res.FcWeights.Bitwidth,
		In:         res.Activations.Bitwidth,
		Out:        res.Activations.Bitwidth,
	})
	if err != nil {
		return nil, err
	}
	res.Combined, err = eval.Evaluate(ctx, combined, c.weights, c.opts.Iterations)
	if err != nil {
		return nil, err
	}
	res.Description = combined
	c.advance(StageCombined)

	if c.opts.OutputPath != "" {
		if err := netdesc.Write(combined, c.opts.OutputPath); err != nil {
			return nil, err
		}
		log.Info("wrote quantized description", "path", c.opts.OutputPath)
	}
	res.FinishedAt = time.Now().UTC()
	c.advance(StageDone)

	log.Info("calibration done",
		"baseline", res.Baseline,
		"conv_weights", res.ConvWeights.Accuracy,
		"fc_weights", res.FcWeights.Accuracy,
		"activations", res.Activations.Accuracy,
		"combined", res.Combined)
	return res, nil
}

func (c *Calibrator) scoreCategory(ctx context.Context, builder *Builder, eval *Evaluator, bits []int, plan func(bw int) (Category, Aspect, Widths)) ([]Candidate, error) {
	cands := make([]Candidate, 0, len(bits))
	for _, bw := range bits {
		category, aspect, widths := plan(bw)
		desc, err := builder.Build(c.base, category, aspect, widths)
		if err != nil {
			return nil, err
		}
		acc, err := eval.Evaluate(ctx, desc, c.weights, c.opts.Iterations)
		if err != nil {
			return nil, err
		}
		c.log.Info("candidate evaluated", "category", string(category), "aspect", string(aspect), "bitwidth", bw, "accuracy", acc)
		cands = append(cands, Candidate{Bitwidth: bw, Accuracy: acc})
	}
	return cands, nil
}

// selectCandidate picks the winning bit-width: the best accuracy, except
// that any candidate within margin of the best is acceptable and the
// smallest acceptable bit-width wins.
func selectCandidate(cands []Candidate, margin float64) CategoryResult {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Accuracy > best.Accuracy {
			best = c
		}
	}
	chosen := best
	for _, c := range cands {
		if c.Accuracy >= best.Accuracy-margin && c.Bitwidth < chosen.Bitwidth {
			chosen = c
		}
	}
	return CategoryResult{Bitwidth: chosen.Bitwidth, Accuracy: chosen.Accuracy, Candidates: cands}
}
