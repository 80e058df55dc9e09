// Package calib implements dynamic fixed point calibration: collecting value
// ranges from a reference network, deriving per-layer integer lengths,
// building quantized candidate descriptions, scoring them, and combining the
// per-category winners into the final network.
package calib

import (
	"context"

	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

// Extrema holds the largest absolute values a layer has seen so far.
// HasParams is false for layers without learnable parameters.
type Extrema struct {
	MaxIn     float64
	MaxOut    float64
	MaxParams float64
	HasParams bool
}

// Runner abstracts the inference engine that executes network descriptions.
// Load fails if the description and weights are incompatible; that is fatal
// for the calibration run, never retried.
type Runner interface {
	Load(ctx context.Context, desc *netdesc.Description, weights *wfile.File) (Handle, error)
}

// Handle is one loaded network instance. Forward runs a single calibration
// batch and is treated as atomic and blocking; LayerExtrema is only
// meaningful during a statistics-collecting pass.
type Handle interface {
	Forward(ctx context.Context) (scores []float64, loss float64, err error)
	LayerExtrema() map[string]Extrema
	Close() error
}
