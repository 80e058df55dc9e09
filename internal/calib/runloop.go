package calib

import (
	"context"
	"fmt"

	"github.com/lwarden/fixcal/pkg/dfp"
)

// extremaAccum folds per-batch extrema into running maxima, preserving the
// order in which layers were first reported.
type extremaAccum struct {
	order  []string
	byName map[string]Extrema
}

func newExtremaAccum() *extremaAccum {
	return &extremaAccum{byName: make(map[string]Extrema)}
}

func (a *extremaAccum) update(batch map[string]Extrema, order []string) {
	for _, name := range order {
		e, ok := batch[name]
		if !ok {
			continue
		}
		cur, seen := a.byName[name]
		if !seen {
			a.order = append(a.order, name)
			a.byName[name] = e
			continue
		}
		// Running maxima never decrease.
		cur.MaxIn = max(cur.MaxIn, e.MaxIn)
		cur.MaxOut = max(cur.MaxOut, e.MaxOut)
		cur.MaxParams = max(cur.MaxParams, e.MaxParams)
		cur.HasParams = cur.HasParams || e.HasParams
		a.byName[name] = cur
	}
}

func (a *extremaAccum) ranges() []dfp.LayerRange {
	out := make([]dfp.LayerRange, 0, len(a.order))
	for _, name := range a.order {
		e := a.byName[name]
		out = append(out, dfp.LayerRange{
			Name:      name,
			MaxIn:     e.MaxIn,
			MaxOut:    e.MaxOut,
			MaxParams: e.MaxParams,
			HasParams: e.HasParams,
		})
	}
	return out
}

// runForward executes iterations sequential batches on h, accumulating every
// output element in its position across batches. It returns the per-position
// means and the mean loss. When acc is non-nil, each batch's layer extrema
// are folded in (statistics pass). layerOrder fixes the order in which
// extrema are recorded.
func runForward(ctx context.Context, h Handle, iterations int, acc *extremaAccum, layerOrder []string) ([]float64, float64, error) {
	if iterations <= 0 {
		return nil, 0, fmt.Errorf("%w: %d", ErrIterations, iterations)
	}

	var sums []float64
	var loss float64
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		scores, iterLoss, err := h.Forward(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("calib: batch %d: %w", i, err)
		}
		if len(scores) == 0 {
			return nil, 0, ErrNoScores
		}
		if i == 0 {
			sums = append([]float64(nil), scores...)
		} else {
			if len(scores) != len(sums) {
				return nil, 0, fmt.Errorf("%w: batch %d reported %d outputs, expected %d", ErrScoreShape, i, len(scores), len(sums))
			}
			for j, s := range scores {
				sums[j] += s
			}
		}
		loss += iterLoss
		if acc != nil {
			acc.update(h.LayerExtrema(), layerOrder)
		}
	}

	n := float64(iterations)
	for j := range sums {
		sums[j] /= n
	}
	return sums, loss / n, nil
}

func scoreAt(means []float64, index int) (float64, error) {
	if index < 0 || index >= len(means) {
		return 0, fmt.Errorf("%w: %d (have %d outputs)", ErrScoreIndex, index, len(means))
	}
	return means[index], nil
}
