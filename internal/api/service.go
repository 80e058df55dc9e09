package api

import (
	"context"
	"fmt"

	"github.com/lwarden/fixcal/internal/backend"
	"github.com/lwarden/fixcal/internal/calib"
	"github.com/lwarden/fixcal/internal/engine"
	"github.com/lwarden/fixcal/internal/logger"
	"github.com/lwarden/fixcal/pkg/netdesc"
	"github.com/lwarden/fixcal/pkg/wfile"
)

// CalibrationRunner executes one calibration request end to end.
type CalibrationRunner interface {
	Calibrate(ctx context.Context, req *CalibrationRequest) (*calib.Result, error)
}

// FileService is the production CalibrationRunner: it resolves the request's
// model, weights and dataset paths and drives the bundled engine.
type FileService struct {
	Device backend.Device
	Log    logger.Logger
}

func (s *FileService) Calibrate(ctx context.Context, req *CalibrationRequest) (*calib.Result, error) {
	desc, err := netdesc.Load(req.Model)
	if err != nil {
		return nil, fmt.Errorf("api: load model: %w", err)
	}
	weights, err := wfile.Open(req.Weights)
	if err != nil {
		return nil, fmt.Errorf("api: open weights: %w", err)
	}
	defer func() { _ = weights.Close() }()

	data, err := wfile.Open(req.Data)
	if err != nil {
		return nil, fmt.Errorf("api: open dataset: %w", err)
	}
	defer func() { _ = data.Close() }()
	batches, err := engine.NewFileSource(data)
	if err != nil {
		return nil, fmt.Errorf("api: read dataset: %w", err)
	}

	runner := engine.New(engine.Options{
		Device:  s.Device,
		Batches: batches,
		Log:     s.Log,
	})
	cal := calib.New(runner, desc, weights, calib.Options{
		TrimmingMode:   req.TrimmingMode,
		Iterations:     req.Iterations,
		WeightBits:     req.WeightBits,
		ActivationBits: req.ActivationBits,
		ScoreIndex:     req.ScoreIndex,
		AccuracyMargin: req.AccuracyMargin,
		OutputPath:     req.Output,
	}, s.Log)
	return cal.Run(ctx)
}
