package calib

import (
	"context"
	"fmt"

	"github.com/lwarden/fixcal/internal/logger"
	"github.com/lwarden/fixcal/pkg/dfp"
	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

// Collector runs the reference full-precision network over the calibration
// set, producing the baseline accuracy and one LayerRange per layer that
// reported extrema. Results are returned, not retained: a Collector holds no
// state between calls.
type Collector struct {
	Runner     Runner
	ScoreIndex int
	Log        logger.Logger
}

// Collect loads desc with weights and runs iterations forward batches,
// querying layer extrema after each one. Running maxima never decrease.
// Failure to load is fatal for the calibration run.
func (c *Collector) Collect(ctx context.Context, desc *netdesc.Description, weights *wfile.File, iterations int) (float64, []dfp.LayerRange, error) {
	if iterations <= 0 {
		return 0, nil, fmt.Errorf("%w: %d", ErrIterations, iterations)
	}
	log := c.Log
	if log == nil {
		log = logger.FromContext(ctx)
	}

	h, err := c.Runner.Load(ctx, desc, weights)
	if err != nil {
		return 0, nil, fmt.Errorf("calib: load reference network: %w", err)
	}
	defer func() { _ = h.Close() }()

	order := make([]string, 0, len(desc.Layers))
	for i := range desc.Layers {
		order = append(order, desc.Layers[i].Name)
	}

	log.Info("collecting statistics", "iterations", iterations)
	acc := newExtremaAccum()
	means, loss, err := runForward(ctx, h, iterations, acc, order)
	if err != nil {
		return 0, nil, err
	}
	baseline, err := scoreAt(means, c.ScoreIndex)
	if err != nil {
		return 0, nil, err
	}
	log.Info("statistics pass done", "baseline", baseline, "loss", loss)

	return baseline, acc.ranges(), nil
}
