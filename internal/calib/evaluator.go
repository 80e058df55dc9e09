package calib

import (
	"context"
	"fmt"

	"github.com/lwarden/fixcal/internal/logger"
	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

// Evaluator scores a candidate description: it instantiates the network,
// runs the calibration batches, and reports the mean value at the designated
// score index. The index must stay fixed across all candidates of one run so
// accuracies are comparable.
type Evaluator struct {
	Runner     Runner
	ScoreIndex int
	Log        logger.Logger
}

// Evaluate runs iterations forward batches over desc and returns the
// accuracy. No statistics are collected and the network instance is released
// before returning.
func (e *Evaluator) Evaluate(ctx context.Context, desc *netdesc.Description, weights *wfile.File, iterations int) (float64, error) {
	if iterations <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrIterations, iterations)
	}
	log := e.Log
	if log == nil {
		log = logger.FromContext(ctx)
	}

	h, err := e.Runner.Load(ctx, desc, weights)
	if err != nil {
		return 0, fmt.Errorf("calib: load candidate network: %w", err)
	}
	defer func() { _ = h.Close() }()

	means, loss, err := runForward(ctx, h, iterations, nil, nil)
	if err != nil {
		return 0, err
	}
	accuracy, err := scoreAt(means, e.ScoreIndex)
	if err != nil {
		return 0, err
	}
	log.Debug("candidate scored", "accuracy", accuracy, "loss", loss, "iterations", iterations)
	return accuracy, nil
}
